// Package common defines shared sentinel errors used across EchoVault
// components. Callers should use errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// Adapter-level errors. ErrUnavailable is returned after bounded retries
	// against an external store have been exhausted; callers may retry later.
	ErrUnavailable = errors.New("upstream unavailable")

	// Service-level errors (generic/internal flow control).
	ErrInternal = errors.New("internal error")
)

// ValidationError reports a request field that failed validation. The field
// name and reason are safe to return to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
