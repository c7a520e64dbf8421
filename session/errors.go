/*
errors.go - Centralized error types for the scheduling engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Other packages return these (or wrap them) so callers can branch with
  errors.Is / errors.As regardless of which layer failed.

ERROR CATEGORIES:
  1. Validation     - malformed input, rejected before persistence
  2. Not found      - unknown definition/reservation/booking reference
  3. Capacity       - no room in the requested restriction (retry with overbooking)
  4. Scheduling     - admin overlap on definition create/update (retry with override)
  5. Migration      - no candidate definition within the proximity ceiling

USAGE:
    var capErr *session.CapacityExceededError
    if errors.As(err, &capErr) {
        // offer the caller an overbooking retry
    }

SEE ALSO:
  - api/handlers.go: maps these errors to HTTP statuses
*/
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrMigrationMatch     = errors.New("no matching session for migrated visit")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError carries field-level messages.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records a message for field and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind      string // "definition", "reservation", "booking", "prisoner"
	Reference string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Reference)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CapacityExceededError is returned when the requested restriction has no
// remaining capacity and overbooking was not requested.
type CapacityExceededError struct {
	DefinitionRef string
	Date          Date
	Restriction   Restriction
	Capacity      int
	Used          int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("no %s capacity on %s for session %s (capacity %d, used %d)",
		e.Restriction, e.Date, e.DefinitionRef, e.Capacity, e.Used)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// SchedulingConflictError lists the definitions a create/update overlaps.
type SchedulingConflictError struct {
	Conflicts []string
}

func (e *SchedulingConflictError) Error() string {
	return fmt.Sprintf("session overlaps existing sessions: %s", strings.Join(e.Conflicts, ", "))
}

func (e *SchedulingConflictError) Unwrap() error { return ErrSchedulingConflict }

// MigrationMatchError carries the attempted slot for diagnostics.
type MigrationMatchError struct {
	Prison    string
	Date      Date
	DayOfWeek time.Weekday
	Start     TimeOfDay
	End       TimeOfDay
	Reason    string
}

func (e *MigrationMatchError) Error() string {
	msg := fmt.Sprintf("no session found for prison %s on %s (%s) %s-%s",
		e.Prison, e.Date, e.DayOfWeek, e.Start, e.End)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *MigrationMatchError) Unwrap() error { return ErrMigrationMatch }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the caller may retry with different parameters
// (overbooking allowed, overlap override).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrSchedulingConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrSchedulingConflict) ||
		errors.Is(err, ErrMigrationMatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
