package models

import (
	"errors"
	"strings"
)

// Validation errors for models
var (
	// Iteration errors
	ErrInvalidIterationRunID  = errors.New("iteration run ID is required")
	ErrInvalidIterationNumber = errors.New("iteration number must be positive")

	// Invocation errors
	ErrInvalidCommand = errors.New("agent command is required")
)

// ValidationErrors aggregates field-level validation failures.
type ValidationErrors struct {
	fields []string
	errs   []error
}

// Add records a validation error for a field.
func (v *ValidationErrors) Add(field string, err error) {
	v.fields = append(v.fields, field)
	v.errs = append(v.errs, err)
}

// AddMessage records a validation error message for a field.
func (v *ValidationErrors) AddMessage(field, message string) {
	v.Add(field, errors.New(message))
}

// Err returns the aggregated error, or nil when no failures were recorded.
func (v *ValidationErrors) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(v.errs))
	for i, err := range v.errs {
		parts = append(parts, v.fields[i]+": "+err.Error())
	}
	return errors.New(strings.Join(parts, "; "))
}
