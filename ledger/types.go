/*
Package ledger implements the reward redemption core: point balances,
reward inventory, and the append-only redemption record that ties them
together.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: A point quantity with integer semantics (decimal-backed)
  - Reward: A catalog item redeemable for points, with inventory and expiry
  - Account: A user's spendable point balance
  - Redemption: An immutable audit entry for a completed redemption

DESIGN PRINCIPLES:
  1. Immutability: Redemptions are never updated or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing user/reward IDs
  4. Auditability: Every redemption snapshots the reward name, the points
     spent, and the balance left behind

SEE ALSO:
  - engine.go: The atomic redemption transaction
  - store.go: Persistence interfaces
  - errors.go: Failure taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS - Integer point quantity
// =============================================================================

// Points is a loyalty point amount. Balances and prices are whole points;
// the decimal backing keeps arithmetic exact and round-trips cleanly
// through storage.
type Points struct {
	Value decimal.Decimal
}

func NewPoints(n int64) Points {
	return Points{Value: decimal.NewFromInt(n)}
}

// ParsePoints parses a stored point amount. Returns false if the input is
// not a whole, parseable number.
func ParsePoints(s string) (Points, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return Points{}, false
	}
	return Points{Value: d}, true
}

func (p Points) Zero() Points                      { return Points{Value: decimal.Zero} }
func (p Points) Add(q Points) Points               { return Points{Value: p.Value.Add(q.Value)} }
func (p Points) Sub(q Points) Points               { return Points{Value: p.Value.Sub(q.Value)} }
func (p Points) IsNegative() bool                  { return p.Value.IsNegative() }
func (p Points) IsZero() bool                      { return p.Value.IsZero() }
func (p Points) IsPositive() bool                  { return p.Value.IsPositive() }
func (p Points) LessThan(q Points) bool            { return p.Value.LessThan(q.Value) }
func (p Points) GreaterThanOrEqual(q Points) bool  { return p.Value.GreaterThanOrEqual(q.Value) }
func (p Points) Equal(q Points) bool               { return p.Value.Equal(q.Value) }
func (p Points) Int64() int64                      { return p.Value.IntPart() }
func (p Points) String() string                    { return p.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type RewardID string
type RedemptionID string

// =============================================================================
// REWARD - Catalog item with limited inventory and an expiry
// =============================================================================

type RewardCategory string

const (
	CategoryGiftCard    RewardCategory = "gift_card"
	CategoryMerchandise RewardCategory = "merchandise"
	CategoryExperience  RewardCategory = "experience"
	CategoryDonation    RewardCategory = "donation"
)

// Reward is a catalog entry. RemainingCount is mutated only by the
// redemption transaction and by guarded restocks; administrative updates
// touch the other fields.
type Reward struct {
	ID             RewardID
	Name           string
	PointsRequired Points
	ExpiresAt      time.Time
	RemainingCount int64
	Category       RewardCategory
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the reward can no longer be redeemed at the
// given instant. A reward expiring exactly now is expired.
func (r *Reward) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

func (r *Reward) InStock() bool {
	return r.RemainingCount > 0
}

// =============================================================================
// ACCOUNT - One point balance per user
// =============================================================================

// Account is created at user-provisioning time and debited exclusively by
// the redemption engine.
//
// INVARIANT: Balance never goes negative at any observable point.
type Account struct {
	UserID    UserID
	Balance   Points
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// REDEMPTION - Immutable audit record
// =============================================================================

// Redemption records a completed redemption. Append-only: never updated,
// never deleted. RewardName is a snapshot taken at redemption time, so the
// record stays meaningful after the catalog entry changes or disappears.
//
// RequestID is the client-supplied idempotency key. A replayed request
// resolves to its original record instead of a second debit.
type Redemption struct {
	ID           RedemptionID
	UserID       UserID
	RewardID     RewardID
	RewardName   string
	PointsSpent  Points
	BalanceAfter Points
	RequestID    string
	RedeemedAt   time.Time
}

// Confirmation is returned to the caller after a successful redemption.
type Confirmation struct {
	RedemptionID     RedemptionID
	RemainingBalance Points

	// Replayed is true when the confirmation comes from a previously
	// committed request with the same RequestID.
	Replayed bool
}
