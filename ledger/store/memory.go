// Package store provides an in-memory TxStore implementation for tests
// and dev mode.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	rewards     map[ledger.RewardID]ledger.Reward
	accounts    map[ledger.UserID]ledger.Account
	redemptions []ledger.Redemption
	byRequest   map[string]int // request id -> index into redemptions
}

func NewMemory() *Memory {
	return &Memory{
		rewards:   make(map[ledger.RewardID]ledger.Reward),
		accounts:  make(map[ledger.UserID]ledger.Account),
		byRequest: make(map[string]int),
	}
}

// =============================================================================
// ROW-LEVEL OPERATIONS (ledger.Store)
// =============================================================================

func (m *Memory) GetReward(_ context.Context, id ledger.RewardID) (*ledger.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRewardLocked(id), nil
}

func (m *Memory) getRewardLocked(id ledger.RewardID) *ledger.Reward {
	r, ok := m.rewards[id]
	if !ok {
		return nil
	}
	return &r
}

func (m *Memory) GetAccount(_ context.Context, userID ledger.UserID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(userID), nil
}

func (m *Memory) getAccountLocked(userID ledger.UserID) *ledger.Account {
	a, ok := m.accounts[userID]
	if !ok {
		return nil
	}
	return &a
}

func (m *Memory) CreateAccount(_ context.Context, account ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(account)
}

func (m *Memory) createAccountLocked(account ledger.Account) error {
	if _, ok := m.accounts[account.UserID]; ok {
		return ledger.ErrConflict
	}
	m.accounts[account.UserID] = account
	return nil
}

func (m *Memory) DebitAccount(_ context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(userID, amount, at)
}

func (m *Memory) debitLocked(userID ledger.UserID, amount ledger.Points, at time.Time) error {
	a, ok := m.accounts[userID]
	if !ok || !a.Balance.GreaterThanOrEqual(amount) {
		return ledger.ErrInvariantViolated
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = at
	m.accounts[userID] = a
	return nil
}

func (m *Memory) CreditAccount(_ context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(userID, amount, at)
}

func (m *Memory) creditLocked(userID ledger.UserID, amount ledger.Points, at time.Time) error {
	a, ok := m.accounts[userID]
	if !ok {
		return ledger.ErrInvariantViolated
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = at
	m.accounts[userID] = a
	return nil
}

func (m *Memory) DecrementReward(_ context.Context, id ledger.RewardID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementLocked(id, at)
}

func (m *Memory) decrementLocked(id ledger.RewardID, at time.Time) error {
	r, ok := m.rewards[id]
	if !ok || r.RemainingCount <= 0 {
		return ledger.ErrInvariantViolated
	}
	r.RemainingCount--
	r.UpdatedAt = at
	m.rewards[id] = r
	return nil
}

func (m *Memory) AppendRedemption(_ context.Context, rec ledger.Redemption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(rec)
}

func (m *Memory) appendLocked(rec ledger.Redemption) error {
	if rec.RequestID != "" {
		if _, ok := m.byRequest[rec.RequestID]; ok {
			return ledger.ErrDuplicateRequest
		}
	}
	m.redemptions = append(m.redemptions, rec)
	if rec.RequestID != "" {
		m.byRequest[rec.RequestID] = len(m.redemptions) - 1
	}
	return nil
}

func (m *Memory) GetRedemptionByRequestID(_ context.Context, requestID string) (*ledger.Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getByRequestLocked(requestID), nil
}

func (m *Memory) getByRequestLocked(requestID string) *ledger.Redemption {
	i, ok := m.byRequest[requestID]
	if !ok {
		return nil
	}
	rec := m.redemptions[i]
	return &rec
}

func (m *Memory) ListRedemptions(_ context.Context, userID ledger.UserID, offset, limit int) ([]ledger.Redemption, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(userID, offset, limit)
}

func (m *Memory) listLocked(userID ledger.UserID, offset, limit int) ([]ledger.Redemption, int, error) {
	var mine []ledger.Redemption
	for _, rec := range m.redemptions {
		if rec.UserID == userID {
			mine = append(mine, rec)
		}
	}
	// Newest first; ties keep insertion order.
	sort.SliceStable(mine, func(i, j int) bool {
		return mine[i].RedeemedAt.After(mine[j].RedeemedAt)
	})

	total := len(mine)
	if offset >= total {
		return []ledger.Redemption{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]ledger.Redemption, end-offset)
	copy(page, mine[offset:end])
	return page, total, nil
}

// =============================================================================
// CATALOG OPERATIONS
// =============================================================================

// SaveReward inserts or updates a reward definition. On update the stored
// remaining count is kept: inventory moves only through DecrementReward
// and RestockReward, so a stale admin snapshot cannot resurrect sold-out
// stock.
func (m *Memory) SaveReward(_ context.Context, reward ledger.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rewards[reward.ID]; ok {
		reward.RemainingCount = existing.RemainingCount
		reward.CreatedAt = existing.CreatedAt
	}
	m.rewards[reward.ID] = reward
	return nil
}

func (m *Memory) DeleteReward(_ context.Context, id ledger.RewardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rewards, id)
	return nil
}

func (m *Memory) RestockReward(_ context.Context, id ledger.RewardID, count int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rewards[id]
	if !ok {
		return ledger.ErrRewardNotFound
	}
	r.RemainingCount += count
	r.UpdatedAt = at
	m.rewards[id] = r
	return nil
}

func (m *Memory) ListRewards(_ context.Context, offset, limit int, availableOnly bool, now time.Time) ([]ledger.Reward, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []ledger.Reward
	for _, r := range m.rewards {
		if availableOnly && (r.Expired(now) || !r.InStock()) {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	total := len(all)
	if offset >= total {
		return []ledger.Reward{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn under the store's write lock, simulating a serialized
// transaction with snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	rewards     map[ledger.RewardID]ledger.Reward
	accounts    map[ledger.UserID]ledger.Account
	redemptions []ledger.Redemption
	byRequest   map[string]int
}

func (m *Memory) snapshot() memorySnapshot {
	rewards := make(map[ledger.RewardID]ledger.Reward, len(m.rewards))
	for k, v := range m.rewards {
		rewards[k] = v
	}
	accounts := make(map[ledger.UserID]ledger.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	byRequest := make(map[string]int, len(m.byRequest))
	for k, v := range m.byRequest {
		byRequest[k] = v
	}
	return memorySnapshot{
		rewards:     rewards,
		accounts:    accounts,
		redemptions: append([]ledger.Redemption{}, m.redemptions...),
		byRequest:   byRequest,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.rewards = s.rewards
	m.accounts = s.accounts
	m.redemptions = s.redemptions
	m.byRequest = s.byRequest
}

// txView routes Store calls back to the parent's locked operations. The
// parent's mutex is already held for the duration of WithTx.
type txView struct {
	parent *Memory
}

func (v *txView) GetReward(_ context.Context, id ledger.RewardID) (*ledger.Reward, error) {
	return v.parent.getRewardLocked(id), nil
}

func (v *txView) GetAccount(_ context.Context, userID ledger.UserID) (*ledger.Account, error) {
	return v.parent.getAccountLocked(userID), nil
}

func (v *txView) CreateAccount(_ context.Context, account ledger.Account) error {
	return v.parent.createAccountLocked(account)
}

func (v *txView) DebitAccount(_ context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	return v.parent.debitLocked(userID, amount, at)
}

func (v *txView) CreditAccount(_ context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	return v.parent.creditLocked(userID, amount, at)
}

func (v *txView) DecrementReward(_ context.Context, id ledger.RewardID, at time.Time) error {
	return v.parent.decrementLocked(id, at)
}

func (v *txView) AppendRedemption(_ context.Context, rec ledger.Redemption) error {
	return v.parent.appendLocked(rec)
}

func (v *txView) GetRedemptionByRequestID(_ context.Context, requestID string) (*ledger.Redemption, error) {
	return v.parent.getByRequestLocked(requestID), nil
}

func (v *txView) ListRedemptions(_ context.Context, userID ledger.UserID, offset, limit int) ([]ledger.Redemption, int, error) {
	return v.parent.listLocked(userID, offset, limit)
}
