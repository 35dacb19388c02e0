/*
errors.go - Centralized error types for the work-time core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Service packages wrap these with context; the API and the message
  handlers classify them with the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Validation errors - Malformed or contradictory input, no state change
  2. Consistency conflicts - Input that contradicts stored state; retrying
     will not help, so inbound messages are dropped
  3. Not found - Referenced record does not exist
  4. Dependency failures - Store, directory or delivery sink unavailable

SEE ALSO:
  - api/handlers.go: Maps categories to HTTP status codes
  - messaging/handlers.go: Acks or retries based on category
*/
package worktime

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed or contradictory input.
	ErrValidation = errors.New("validation failed")

	// ErrShiftApproved is returned when an edit would change the totals of
	// an approved shift.
	ErrShiftApproved = errors.New("shift is approved")

	// ErrAlreadyExported is returned when a shift already has a payroll export.
	ErrAlreadyExported = errors.New("shift already has a payroll export")

	// ErrInvalidTimeRange is returned when an end time precedes a start time.
	ErrInvalidTimeRange = errors.New("invalid time range: end before start")

	// ErrConflict is returned when an inbound event contradicts stored state.
	ErrConflict = errors.New("conflicting state")

	// ErrDeliveryFailed is returned when a payroll file could not be delivered.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError describes why an inbound event could not be applied.
type ConflictError struct {
	EmployeeID string
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict for employee %s: %s", e.EmployeeID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ShiftStateError reports a rule violation on a specific shift.
type ShiftStateError struct {
	ShiftID int64
	Err     error
}

func (e *ShiftStateError) Error() string {
	return fmt.Sprintf("shift %d: %v", e.ShiftID, e.Err)
}

func (e *ShiftStateError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrShiftApproved) ||
		errors.Is(err, ErrAlreadyExported) ||
		errors.Is(err, ErrInvalidTimeRange)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a consistency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsPermanent returns true if retrying the same input cannot succeed.
func IsPermanent(err error) bool {
	return IsClientError(err) || IsNotFound(err) || IsConflict(err)
}
