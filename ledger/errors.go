/*
errors.go - Error taxonomy for the points engine

PURPOSE:
  Every failure the engine can report, in one place. Callers classify
  errors with errors.Is against the sentinels or with the helpers at the
  bottom of this file; they never match on message text.

ERROR CATEGORIES:
  1. NotFound          - missing user/event/item/submission (no retry)
  2. InvalidState      - wrong lifecycle state, e.g. approving twice
  3. BusinessRule      - insufficient balance, out of stock
  4. ConflictRetryable - code collision, serialization failure
  5. Validation        - invalid source, invalid points

  A duplicate award is NOT an error. ErrDuplicateEntry only travels
  between the store and the engine, which turns it into a no-op.

SEE ALSO:
  - points/engine.go: Raises these errors
  - api/errors.go: Maps them to HTTP status codes
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
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an entity is in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientBalance is returned when a redemption costs more than the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOutOfStock is returned when an item has no stock left.
	ErrOutOfStock = errors.New("out of stock")

	// ErrConflict is returned when the store aborted the transaction because of
	// a concurrent writer. The whole operation may be retried.
	ErrConflict = errors.New("concurrent modification, retry")

	// ErrCodeConflict is returned when a generated redemption code already exists.
	ErrCodeConflict = fmt.Errorf("redemption code collision: %w", ErrConflict)

	// ErrDuplicateEntry is returned by stores when an idempotency key exists.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrInvalidSource is returned for a trigger or source outside the fixed set.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidPoints is returned for a non-positive award or a sign mismatch.
	ErrInvalidPoints = errors.New("invalid points")

	// ErrTooManyWinners is returned when more than MaxWinners are declared.
	ErrTooManyWinners = errors.New("too many winners")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "user", "event", "item", "submission"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NotFound(kind string, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidStateError reports the state an entity was found in.
type InvalidStateError struct {
	Kind   string
	ID     string
	Status string
	Want   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %q is %s, expected %s", e.Kind, e.ID, e.Status, e.Want)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// InsufficientBalanceError carries the amounts for the user-facing message.
type InsufficientBalanceError struct {
	UserID    UserID
	Available int64
	Cost      int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient points: you have %d pts but this item costs %d pts", e.Available, e.Cost)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBusinessRule returns true for user-facing rule violations.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrOutOfStock)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return IsBusinessRule(err) ||
		errors.Is(err, ErrInvalidSource) ||
		errors.Is(err, ErrInvalidPoints) ||
		errors.Is(err, ErrTooManyWinners) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
