/*
errors.go - Centralized error types for the redemption core

PURPOSE:
  All failure modes in one place. Callers distinguish every business
  rejection ("try another reward" is not "earn more points"), so nothing
  here collapses into a generic failure.

ERROR CATEGORIES:
  1. Not-found     - reward or account absent; client error, never retried
  2. Business rule - expired, out of stock, insufficient points; never retried
  3. Transient     - lock contention / storage conflicts; safe to retry
  4. Invariant     - a guard that should be unreachable fired; a bug, not
                     a user-facing condition

USAGE:
  if errors.Is(err, ledger.ErrOutOfStock) { ... }
  var ipe *ledger.InsufficientPointsError
  if errors.As(err, &ipe) { ... ipe.Shortfall ... }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
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
	// ErrRewardNotFound is returned when the referenced reward doesn't exist.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrAccountNotFound is returned when the user has no points account.
	ErrAccountNotFound = errors.New("points account not found")

	// ErrRewardExpired is returned when the reward's expiry has passed.
	ErrRewardExpired = errors.New("reward expired")

	// ErrOutOfStock is returned when the reward has no remaining inventory.
	ErrOutOfStock = errors.New("reward out of stock")

	// ErrInsufficientPoints is returned when the balance doesn't cover the
	// reward's price. Usually wrapped in an InsufficientPointsError.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidArgument is returned for malformed input (non-positive
	// amounts, negative pagination, empty identifiers).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateRequest is returned by stores when a redemption with the
	// same request id was already committed. The engine resolves it to the
	// original confirmation; callers normally never see it.
	ErrDuplicateRequest = errors.New("duplicate request id")

	// ErrConflict is returned on lock contention or transaction conflicts.
	// Safe to retry; the engine retries a bounded number of times before
	// surfacing it.
	ErrConflict = errors.New("storage conflict")

	// ErrInvariantViolated is returned when a conditional write matched no
	// rows after its precondition passed inside the same transaction. That
	// is a programming fault; the transaction is aborted and the error
	// logged at error level.
	ErrInvariantViolated = errors.New("ledger invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError reports a balance shortage.
type InsufficientPointsError struct {
	UserID    UserID
	RewardID  RewardID
	Available Points
	Required  Points
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %s, required %s",
		e.Available, e.Required)
}

func (e *InsufficientPointsError) Unwrap() error {
	return ErrInsufficientPoints
}

// Shortfall returns how many points are missing.
func (e *InsufficientPointsError) Shortfall() Points {
	return e.Required.Sub(e.Available)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing reward or account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}

// IsClientError returns true if the error is a business-rule rejection or
// invalid input, as opposed to a storage or logic fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrRewardExpired) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrInvalidArgument) ||
		IsNotFound(err)
}
