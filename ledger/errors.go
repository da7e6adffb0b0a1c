/*
errors.go - Centralized error types for the ledger and the services on top of it

ERROR CATEGORIES:
  1. Validation  - bad amount / quantity / kind, rejected before any write
  2. Not found   - event or customer missing, no state change
  3. Idempotency - already reversed / already cleared, no double application
  4. Store       - transport or storage failure, whole operation aborted

USAGE:
  Services wrap these with context. Callers test with errors.Is:

    if errors.Is(err, ledger.ErrStoreUnavailable) {
        // retry the whole request
    }

SEE ALSO:
  - billing/errors.go: invoice / payment / return errors
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the parent of every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidAmount is returned for zero amounts on Post, or non-positive
	// amounts where the caller requires a positive one.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidKind is returned when posting an unknown kind, or a reversal
	// through Post instead of Reverse.
	ErrInvalidKind = errors.New("invalid event kind")

	ErrEventNotFound    = errors.New("ledger event not found")
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrAlreadyReversed is returned when reversing an event twice.
	ErrAlreadyReversed = errors.New("event already reversed")

	// ErrNotReversible is returned when reversing a reversal.
	ErrNotReversible = errors.New("event cannot be reversed")

	// ErrAlreadyCleared is returned when clearing a refund twice.
	ErrAlreadyCleared = errors.New("refund already cleared")

	// ErrNotClearable is returned when clearing anything but a live refund.
	ErrNotClearable = errors.New("event cannot be cleared")

	// ErrStoreUnavailable wraps every storage / transport failure.
	// The operation was rolled back; the caller must retry the whole request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional more specific sentinel, e.g. ErrInvalidAmount
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// Invalid builds a ValidationError.
func Invalid(field, message string, cause ...error) error {
	e := &ValidationError{Field: field, Message: message}
	if len(cause) > 0 {
		e.Err = cause[0]
	}
	return e
}

// StoreError records which storage operation failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable wraps a driver error as a StoreError. nil stays nil.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrNotReversible) ||
		errors.Is(err, ErrNotClearable)
}

// IsConflict returns true for idempotency guard rejections.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrAlreadyCleared)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrCustomerNotFound)
}
