package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// QUERY SERVICE - Read-only balance and history paths
// =============================================================================

// Pagination rules shared by every paged read in the system: zero values
// take the defaults, negatives are rejected, oversized pages are clamped.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// QueryService exposes the read side of the ledger. Reads take no locks
// and may observe a momentarily stale snapshot; they never mutate state.
type QueryService struct {
	store Store
}

func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// Balance returns the user's current point balance.
func (q *QueryService) Balance(ctx context.Context, userID UserID) (Points, error) {
	account, err := q.store.GetAccount(ctx, userID)
	if err != nil {
		return Points{}, err
	}
	if account == nil {
		return Points{}, fmt.Errorf("user %s: %w", userID, ErrAccountNotFound)
	}
	return account.Balance, nil
}

// History returns the user's redemptions ordered by redemption time
// descending, plus the total record count.
//
// Pagination: zero values take the defaults (page 1, size 10); negative
// values are rejected with ErrInvalidArgument; page sizes above 100 are
// clamped to 100.
func (q *QueryService) History(ctx context.Context, userID UserID, page, pageSize int) ([]Redemption, int, error) {
	if page < 0 || pageSize < 0 {
		return nil, 0, fmt.Errorf("%w: page and page size must be positive", ErrInvalidArgument)
	}
	if page == 0 {
		page = DefaultPage
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	offset := (page - 1) * pageSize
	return q.store.ListRedemptions(ctx, userID, offset, pageSize)
}
