package commbus

import (
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// InvalidMessageError is returned when a message is missing a required field.
type InvalidMessageError struct {
	Field  string
	Reason string
}

func (e *InvalidMessageError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid agent message: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid agent message: %s is required", e.Field)
}

// NewInvalidMessageError creates a new InvalidMessageError for a missing field.
func NewInvalidMessageError(field string) *InvalidMessageError {
	return &InvalidMessageError{Field: field}
}

// ObserverError wraps a failure raised by a bus observer.
// Observer failures never undo a publish; they are reported to the caller.
type ObserverError struct {
	MessageID string
	Cause     error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer failed for message %s: %v", e.MessageID, e.Cause)
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}
