/*
Package catalog manages the reward definitions the redemption engine
sells against: creation, updates, restocks, and listing.

BOUNDARIES:
  The catalog never touches balances or redemption records, and inventory
  is only ever consumed by the redemption engine. Administrative updates
  deliberately cannot set remaining_count - stock moves through Restock
  (additive) or redemption (decrement), so a concurrent edit can't
  resurrect sold-out inventory.

SEE ALSO:
  - ledger/engine.go: The consumer of the inventory this package manages
*/
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// STORE PORT
// =============================================================================

// Store is the persistence surface the catalog needs. Both the SQLite
// store and the in-memory store satisfy it.
type Store interface {
	GetReward(ctx context.Context, id ledger.RewardID) (*ledger.Reward, error)

	// SaveReward inserts or updates a reward definition. Updates must not
	// overwrite remaining inventory.
	SaveReward(ctx context.Context, reward ledger.Reward) error

	DeleteReward(ctx context.Context, id ledger.RewardID) error

	// RestockReward adds count units of inventory to an existing reward.
	RestockReward(ctx context.Context, id ledger.RewardID, count int64, at time.Time) error

	// ListRewards returns a page ordered by name plus the total matching
	// count. With availableOnly, expired and out-of-stock entries are
	// excluded as of now.
	ListRewards(ctx context.Context, offset, limit int, availableOnly bool, now time.Time) ([]ledger.Reward, int, error)
}

// =============================================================================
// SERVICE
// =============================================================================

var validCategories = map[ledger.RewardCategory]bool{
	ledger.CategoryGiftCard:    true,
	ledger.CategoryMerchandise: true,
	ledger.CategoryExperience:  true,
	ledger.CategoryDonation:    true,
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger, now: time.Now}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Definition carries the administrative fields of a reward. Used for both
// creation and updates; inventory rides along only at creation time.
type Definition struct {
	Name           string
	PointsRequired ledger.Points
	ExpiresAt      time.Time
	InitialCount   int64
	Category       ledger.RewardCategory
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: reward name is required", ledger.ErrInvalidArgument)
	}
	if !d.PointsRequired.IsPositive() {
		return fmt.Errorf("%w: points required must be positive, got %s", ledger.ErrInvalidArgument, d.PointsRequired)
	}
	if d.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: expiry is required", ledger.ErrInvalidArgument)
	}
	if d.InitialCount < 0 {
		return fmt.Errorf("%w: count must not be negative, got %d", ledger.ErrInvalidArgument, d.InitialCount)
	}
	if !validCategories[d.Category] {
		return fmt.Errorf("%w: unknown category %q", ledger.ErrInvalidArgument, d.Category)
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Create adds a new reward to the catalog.
func (s *Service) Create(ctx context.Context, def Definition) (*ledger.Reward, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reward := ledger.Reward{
		ID:             ledger.RewardID(uuid.NewString()),
		Name:           def.Name,
		PointsRequired: def.PointsRequired,
		ExpiresAt:      def.ExpiresAt.UTC(),
		RemainingCount: def.InitialCount,
		Category:       def.Category,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.SaveReward(ctx, reward); err != nil {
		return nil, err
	}

	s.log.Info("reward created",
		"reward_id", reward.ID,
		"name", reward.Name,
		"points_required", reward.PointsRequired,
		"count", reward.RemainingCount,
	)
	return &reward, nil
}

// Get returns a reward by id.
func (s *Service) Get(ctx context.Context, id ledger.RewardID) (*ledger.Reward, error) {
	reward, err := s.store.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if reward == nil {
		return nil, fmt.Errorf("reward %s: %w", id, ledger.ErrRewardNotFound)
	}
	return reward, nil
}

// Update replaces a reward's administrative fields. The remaining count is
// carried over unchanged; InitialCount on the definition is ignored here.
func (s *Service) Update(ctx context.Context, id ledger.RewardID, def Definition) (*ledger.Reward, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Name = def.Name
	updated.PointsRequired = def.PointsRequired
	updated.ExpiresAt = def.ExpiresAt.UTC()
	updated.Category = def.Category
	updated.UpdatedAt = s.now().UTC()

	if err := s.store.SaveReward(ctx, updated); err != nil {
		return nil, err
	}

	s.log.Info("reward updated", "reward_id", id, "name", updated.Name)
	return &updated, nil
}

// Delete removes a reward from the catalog. Committed redemptions keep
// their own snapshot of the reward name, so history survives the delete.
func (s *Service) Delete(ctx context.Context, id ledger.RewardID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteReward(ctx, id); err != nil {
		return err
	}

	s.log.Info("reward deleted", "reward_id", id)
	return nil
}

// Restock adds inventory to an existing reward.
func (s *Service) Restock(ctx context.Context, id ledger.RewardID, count int64) (*ledger.Reward, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: restock count must be positive, got %d", ledger.ErrInvalidArgument, count)
	}
	if err := s.store.RestockReward(ctx, id, count, s.now().UTC()); err != nil {
		return nil, err
	}

	s.log.Info("reward restocked", "reward_id", id, "added", count)
	return s.Get(ctx, id)
}

// List returns a catalog page. availableOnly excludes expired and
// out-of-stock rewards. Pagination follows the history rules: zero takes
// the defaults, negatives are rejected, sizes above 100 are clamped.
func (s *Service) List(ctx context.Context, page, pageSize int, availableOnly bool) ([]ledger.Reward, int, error) {
	if page < 0 || pageSize < 0 {
		return nil, 0, fmt.Errorf("%w: page and page size must be positive", ledger.ErrInvalidArgument)
	}
	if page == 0 {
		page = ledger.DefaultPage
	}
	if pageSize == 0 {
		pageSize = ledger.DefaultPageSize
	}
	if pageSize > ledger.MaxPageSize {
		pageSize = ledger.MaxPageSize
	}

	offset := (page - 1) * pageSize
	return s.store.ListRewards(ctx, offset, pageSize, availableOnly, s.now().UTC())
}
