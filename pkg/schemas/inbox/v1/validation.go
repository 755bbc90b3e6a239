package inbox

import (
	"errors"
	"strings"
)

type ValidationIssue struct{ Field, Reason string }

// ValidationError collects every field issue found in one event, so a
// dropped payload can be logged with the full reason in one line.
type ValidationError struct{ Issues []ValidationIssue }

var ErrInvalidContract = errors.New("invalid contract")

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrInvalidContract.Error()
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.Field + ": " + issue.Reason
	}
	return ErrInvalidContract.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) add(f, r string) {
	e.Issues = append(e.Issues, ValidationIssue{Field: f, Reason: r})
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidContract }
