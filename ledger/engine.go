/*
engine.go - The atomic redemption transaction

PURPOSE:
  Validates a redemption request and performs the debit / decrement /
  append as one unit of work. This is the only code path that spends
  points or consumes reward inventory.

PRECONDITIONS (checked in order, each a distinct failure):
  1. Reward exists                      -> ErrRewardNotFound
  2. Reward not expired                 -> ErrRewardExpired
  3. Reward has remaining inventory     -> ErrOutOfStock
  4. Account exists                     -> ErrAccountNotFound
  5. Balance covers the price           -> InsufficientPointsError

  All five are evaluated INSIDE the same WithTx scope as the writes.
  Reading state and then writing in a second round-trip is a race; the
  store's conditional updates back the checks up at the row level.

IDEMPOTENCY:
  A request id, when supplied, is committed on the redemption record under
  a unique index. Replaying the request returns the original confirmation
  without a second debit - including when two carriers of the same request
  id race and one loses to the unique index, and when the original commit
  consumed the last unit or the last of the balance. A replay that names a
  different user or reward than the committed record is rejected as
  invalid input.

RETRY:
  Storage conflicts (ErrConflict) are retried up to three times with
  fibonacci backoff before being surfaced. Business rejections are never
  retried.

SEE ALSO:
  - store.go: The TxStore port this engine drives
  - query.go: The read-only side
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// =============================================================================
// ENGINE
// =============================================================================

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 10 * time.Millisecond
)

// Engine performs redemptions and credits against a TxStore.
type Engine struct {
	store TxStore
	log   *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time

	maxRetries   uint64
	retryBackoff time.Duration
}

func NewEngine(store TxStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        store,
		log:          logger,
		now:          time.Now,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem exchanges points for one unit of the reward's inventory.
//
// requestID is the optional idempotency key; "" disables deduplication.
// On success the confirmation carries the new record's id and the
// post-redemption balance.
func (e *Engine) Redeem(ctx context.Context, userID UserID, rewardID RewardID, requestID string) (*Confirmation, error) {
	if userID == "" || rewardID == "" {
		return nil, fmt.Errorf("%w: user and reward ids are required", ErrInvalidArgument)
	}

	// Fast path: an already committed request resolves without opening a
	// transaction.
	if requestID != "" {
		if prev, err := e.store.GetRedemptionByRequestID(ctx, requestID); err != nil {
			return nil, err
		} else if prev != nil {
			return resolveReplay(prev, userID, rewardID)
		}
	}

	var conf *Confirmation
	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewFibonacci(e.retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := e.redeemOnce(ctx, userID, rewardID, requestID)
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		conf = c
		return nil
	})

	switch {
	case err == nil:
		e.log.Info("redemption committed",
			"user_id", userID,
			"reward_id", rewardID,
			"redemption_id", conf.RedemptionID,
			"remaining_balance", conf.RemainingBalance,
			"replayed", conf.Replayed,
		)
		return conf, nil

	case errors.Is(err, ErrDuplicateRequest) && requestID != "":
		// Lost a race against another carrier of the same request id.
		// The winner's record is the confirmation.
		prev, lookupErr := e.store.GetRedemptionByRequestID(ctx, requestID)
		if lookupErr != nil || prev == nil {
			return nil, fmt.Errorf("request %q already committed but not found: %w", requestID, err)
		}
		return resolveReplay(prev, userID, rewardID)

	case errors.Is(err, ErrInvariantViolated):
		e.log.Error("redemption aborted on invariant guard",
			"user_id", userID,
			"reward_id", rewardID,
			"error", err,
		)
		return nil, err

	default:
		if !IsClientError(err) {
			e.log.Warn("redemption failed",
				"user_id", userID,
				"reward_id", rewardID,
				"error", err,
			)
		}
		return nil, err
	}
}

// redeemOnce runs one attempt of the full unit of work.
func (e *Engine) redeemOnce(ctx context.Context, userID UserID, rewardID RewardID, requestID string) (*Confirmation, error) {
	var conf *Confirmation

	err := e.store.WithTx(ctx, func(s Store) error {
		// Replay check before the preconditions: a duplicate that committed
		// between the fast path and here must resolve to its original
		// confirmation even when that commit took the last unit or the last
		// of the balance.
		if requestID != "" {
			prev, err := s.GetRedemptionByRequestID(ctx, requestID)
			if err != nil {
				return err
			}
			if prev != nil {
				c, err := resolveReplay(prev, userID, rewardID)
				if err != nil {
					return err
				}
				conf = c
				return nil
			}
		}

		reward, err := s.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if reward == nil {
			return fmt.Errorf("reward %s: %w", rewardID, ErrRewardNotFound)
		}
		now := e.now().UTC()
		if reward.Expired(now) {
			return fmt.Errorf("reward %s expired at %s: %w", rewardID, reward.ExpiresAt.Format(time.RFC3339), ErrRewardExpired)
		}
		if !reward.InStock() {
			return fmt.Errorf("reward %s: %w", rewardID, ErrOutOfStock)
		}

		account, err := s.GetAccount(ctx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("user %s: %w", userID, ErrAccountNotFound)
		}
		if account.Balance.LessThan(reward.PointsRequired) {
			return &InsufficientPointsError{
				UserID:    userID,
				RewardID:  rewardID,
				Available: account.Balance,
				Required:  reward.PointsRequired,
			}
		}

		if err := s.DebitAccount(ctx, userID, reward.PointsRequired, now); err != nil {
			return err
		}
		if err := s.DecrementReward(ctx, rewardID, now); err != nil {
			return err
		}

		rec := Redemption{
			ID:           RedemptionID(uuid.NewString()),
			UserID:       userID,
			RewardID:     rewardID,
			RewardName:   reward.Name,
			PointsSpent:  reward.PointsRequired,
			BalanceAfter: account.Balance.Sub(reward.PointsRequired),
			RequestID:    requestID,
			RedeemedAt:   now,
		}
		if err := s.AppendRedemption(ctx, rec); err != nil {
			return err
		}

		conf = &Confirmation{
			RedemptionID:     rec.ID,
			RemainingBalance: rec.BalanceAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

func replayConfirmation(rec *Redemption) *Confirmation {
	return &Confirmation{
		RedemptionID:     rec.ID,
		RemainingBalance: rec.BalanceAfter,
		Replayed:         true,
	}
}

// resolveReplay returns the committed record's confirmation, refusing a
// replay that names a different user or reward than the record.
func resolveReplay(prev *Redemption, userID UserID, rewardID RewardID) (*Confirmation, error) {
	if prev.UserID != userID || prev.RewardID != rewardID {
		return nil, fmt.Errorf("%w: request id %q belongs to a different redemption", ErrInvalidArgument, prev.RequestID)
	}
	return replayConfirmation(prev), nil
}

// =============================================================================
// CREDIT
// =============================================================================

// Credit adds points to an account. This is the entry point for the
// accrual/provisioning collaborator; it does not participate in the
// redemption idempotency machinery.
func (e *Engine) Credit(ctx context.Context, userID UserID, amount Points, reason string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit amount must be positive, got %s", ErrInvalidArgument, amount)
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		account, err := s.GetAccount(ctx, userID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("user %s: %w", userID, ErrAccountNotFound)
		}
		return s.CreditAccount(ctx, userID, amount, e.now().UTC())
	})
	if err != nil {
		return err
	}

	e.log.Info("points credited", "user_id", userID, "amount", amount, "reason", reason)
	return nil
}
