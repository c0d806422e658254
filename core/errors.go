package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a rule, peer group, IOC or profile does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidEvent is returned for events that cannot be processed at all
	ErrInvalidEvent = errors.New("invalid event")
)

// ValidationError collects the field problems of a rejected configuration object
type ValidationError struct {
	Object   string
	Problems []string
}

// NewValidationError creates a validation error for the named object
func NewValidationError(object string, problems ...string) *ValidationError {
	return &ValidationError{Object: object, Problems: problems}
}

// Add records another problem
func (e *ValidationError) Add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasProblems reports whether any problem was recorded
func (e *ValidationError) HasProblems() bool {
	return e != nil && len(e.Problems) > 0
}

// OrNil returns nil when no problem was recorded
func (e *ValidationError) OrNil() error {
	if !e.HasProblems() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Object, strings.Join(e.Problems, "; "))
}

// IsValidationError reports whether err wraps a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
