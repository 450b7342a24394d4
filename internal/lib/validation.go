package lib

import "regexp"

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
var branchPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// ValidateName checks project and feature names: lowercase alphanumeric plus
// hyphens, starting with a letter.
func ValidateName(field, name string) error {
	if !namePattern.MatchString(name) {
		return &ValidationError{Field: field, Message: "use lowercase alphanumeric plus hyphens"}
	}
	return nil
}

func ValidateBranch(branch string) error {
	if branch == "" || !branchPattern.MatchString(branch) {
		return &ValidationError{Field: "branch", Message: "use alphanumeric, dot, slash, underscore or hyphen"}
	}
	return nil
}
