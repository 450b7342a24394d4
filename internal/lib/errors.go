package lib

import (
	"errors"
	"fmt"
)

// ValidationError reports invalid user input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// CommandError wraps failures from external CLIs (ssh, git, provider tools).
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("command failed: %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command failed: %s (exit=%d)", e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a missing project or VM record.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// TimeoutError reports an exceeded deadline, naming the bound and subject.
type TimeoutError struct {
	Op      string
	Subject string
	Limit   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (%s)", e.Op, e.Limit, e.Subject)
}

// ErrCancelled marks user cancellation. Callers exit 0 and never report it
// as a failure.
var ErrCancelled = errors.New("operation cancelled")

// IsValidationError reports whether err (or wrapped cause) is a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err (or wrapped cause) is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
