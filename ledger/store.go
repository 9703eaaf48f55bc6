/*
store.go - Persistence interface for the redemption core

PURPOSE:
  Defines the port between the redemption engine and the database. The
  engine never talks to a concrete backend; it receives a TxStore and runs
  its read-check-write sequence inside WithTx so eligibility is evaluated
  against the same state the writes land on.

KEY INTERFACES:
  Store:   Row-level reads and guarded writes
  TxStore: Store plus the atomic WithTx unit

GUARDED WRITES:
  DebitAccount and DecrementReward are conditional updates - they refuse to
  take a balance below zero or inventory below zero regardless of what the
  caller checked beforehand. Inside a transaction whose reads the engine
  just validated, a refusal means a logic fault (ErrInvariantViolated);
  the guard is what keeps the invariant database-enforced either way.

APPEND-ONLY CONTRACT:
  Redemptions only ever gain rows. There is no update or delete operation
  for them, here or on any implementation.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - ledger/store: In-memory, for tests and dev mode
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Row-level operations
// =============================================================================

// Store handles persistence for rewards, accounts, and redemptions.
// Read methods return (nil, nil) when the row is absent.
type Store interface {
	// GetReward returns a reward definition by id.
	GetReward(ctx context.Context, id RewardID) (*Reward, error)

	// GetAccount returns a user's points account.
	GetAccount(ctx context.Context, userID UserID) (*Account, error)

	// CreateAccount provisions a points account. Fails if one exists.
	CreateAccount(ctx context.Context, account Account) error

	// DebitAccount subtracts points from a balance. The write is
	// conditional on the balance covering the debit; a miss returns
	// ErrInvariantViolated.
	DebitAccount(ctx context.Context, userID UserID, amount Points, at time.Time) error

	// CreditAccount adds points to a balance.
	CreditAccount(ctx context.Context, userID UserID, amount Points, at time.Time) error

	// DecrementReward takes one unit of inventory. Conditional on
	// remaining count being positive; a miss returns ErrInvariantViolated.
	DecrementReward(ctx context.Context, id RewardID, at time.Time) error

	// AppendRedemption inserts a redemption record. Returns
	// ErrDuplicateRequest if the record's request id was already committed.
	// This is the ONLY write operation for redemptions.
	AppendRedemption(ctx context.Context, rec Redemption) error

	// GetRedemptionByRequestID looks up a committed redemption by its
	// idempotency key.
	GetRedemptionByRequestID(ctx context.Context, requestID string) (*Redemption, error)

	// ListRedemptions returns a user's redemptions ordered by redemption
	// time descending, plus the total count for pagination.
	ListRedemptions(ctx context.Context, userID UserID, offset, limit int) ([]Redemption, int, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-row units
// =============================================================================

// TxStore wraps Store with transaction support.
//
// WithTx executes fn within a single atomic scope: every read fn performs
// observes the state its writes will commit against, and either all writes
// commit or none do. Implementations return ErrConflict when the unit loses
// a race and may succeed on retry.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
