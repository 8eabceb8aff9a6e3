package utils

import (
	"fmt"
)

// ValidationError represents caller-supplied invalid parameters, rejected
// before any router I/O happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// CapacityError means a migration destination pool lacks room for the
// source pool's allocations. Raised at validation time, never mid-migration.
type CapacityError struct {
	Needed    int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: need %d addresses, %d available", e.Needed, e.Available)
}

// NewCapacityError creates a new capacity error
func NewCapacityError(needed, available int) *CapacityError {
	return &CapacityError{Needed: needed, Available: available}
}
