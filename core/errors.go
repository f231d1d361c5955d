/*
errors.go - Centralized error taxonomy for the wash engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these sentinels with structured context.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any mutation
  2. State conflicts - operation invalid for the entity's current state
  3. Business-rule failures - InsufficientPoints
  4. Concurrency conflicts - lock/version contention, caller should retry
  5. Not-found errors - referenced entity does not exist

PROPAGATION RULES:
  - State-machine violations are rejected at the owning component's
    boundary, never silently coerced.
  - Notification delivery failures are logged and NEVER surfaced to the
    caller of the state-mutating operation.
  - ConcurrencyConflict is the only retryable class; business-rule
    failures are terminal.

USAGE:
  if core.IsConflict(err) { respond 409 }
  if core.IsRetryable(err) { retry with backoff }

SEE ALSO:
  - types.go: Entities these errors reference
  - api/handlers.go: HTTP status mapping
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input failures.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidBranch is returned when joining the queue of an inactive
	// branch. An unknown branch is a NotFound, not a validation failure.
	ErrInvalidBranch = errors.New("branch is not accepting queue entries")

	// ErrEntryNotWaiting is returned when an operation requires a queue
	// entry in the waiting state.
	ErrEntryNotWaiting = errors.New("queue entry is not waiting")

	// ErrWashNotActive is returned when completing or cancelling a wash
	// that is not active (and not already in the requested terminal state).
	ErrWashNotActive = errors.New("wash is not active")

	// ErrBayUnavailable is returned when allocation finds the bay not idle
	// at check-and-set time, or no idle bay exists in the branch.
	ErrBayUnavailable = errors.New("bay unavailable")

	// ErrInvalidBayTransition is returned for bay status transitions the
	// state machine forbids (e.g. active -> idle outside of release).
	ErrInvalidBayTransition = errors.New("invalid bay status transition")

	// ErrInsufficientPoints is returned when a redemption exceeds the
	// spendable balance. No mutation occurs.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrConcurrencyConflict is returned on lock/version contention.
	// Callers should retry the whole operation with backoff.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input. Always rejected before any
// mutation takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateConflictError reports an operation that is invalid for the entity's
// current state. Err is one of the state-conflict sentinels so callers can
// branch with errors.Is.
type StateConflictError struct {
	Op     string // operation attempted, e.g. "wash.start"
	Entity string // "queue_entry", "bay", "wash"
	ID     string
	State  string // state observed at check time
	Err    error
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: %s %s in state %q: %v", e.Op, e.Entity, e.ID, e.State, e.Err)
}

func (e *StateConflictError) Unwrap() error { return e.Err }

// InsufficientPointsError reports a redemption that exceeds the balance.
type InsufficientPointsError struct {
	CustomerID CustomerID
	Available  int64
	Requested  int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points for %s: available %d, requested %d",
		e.CustomerID, e.Available, e.Requested)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Only concurrency conflicts qualify; business-rule failures are terminal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsConflict returns true for state-machine and business-rule conflicts.
func IsConflict(err error) bool {
	return errors.Is(err, ErrEntryNotWaiting) ||
		errors.Is(err, ErrWashNotActive) ||
		errors.Is(err, ErrBayUnavailable) ||
		errors.Is(err, ErrInvalidBayTransition) ||
		errors.Is(err, ErrInsufficientPoints)
}

// IsValidation returns true if the error is due to malformed client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidBranch)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
