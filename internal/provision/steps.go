package provision

import (
	"context"
	"fmt"
	"log/slog"
)

// StepPolicy decides what a step failure means for the run.
type StepPolicy int

const (
	// Fatal failures abort the run and trigger rollback past VM creation.
	Fatal StepPolicy = iota
	// BestEffort failures are logged as warnings and the run continues.
	BestEffort
)

// Step is one ordered provisioning action.
type Step struct {
	Name   string
	Policy StepPolicy
	Run    func(ctx context.Context) error
}

// runSteps executes steps in order, collecting best-effort warnings and
// stopping at the first fatal failure.
func runSteps(ctx context.Context, logger *slog.Logger, steps []Step) (warnings []string, err error) {
	for _, step := range steps {
		stepErr := step.Run(ctx)
		if stepErr == nil {
			if logger != nil {
				logger.DebugContext(ctx, "step succeeded", "step", step.Name)
			}
			continue
		}
		if step.Policy == BestEffort {
			if logger != nil {
				logger.WarnContext(ctx, "step skipped", "step", step.Name, "error", stepErr)
			}
			warnings = append(warnings, fmt.Sprintf("%s: %v", step.Name, stepErr))
			continue
		}
		return warnings, fmt.Errorf("%s: %w", step.Name, stepErr)
	}
	return warnings, nil
}
