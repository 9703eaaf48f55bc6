/*
Package sqlite provides the SQLite-backed implementation of the ledger
storage interfaces.

IMPLEMENTS:
  ledger.Store / ledger.TxStore: rewards, accounts, redemptions
  catalog.Store:                 reward administration

CONCURRENCY:
  A single-writer mutex serializes write transactions on top of SQLite's
  own locking; the connection opens with _txlock=immediate so write
  transactions take the database lock up front instead of failing halfway.
  Contention that still surfaces (busy/locked) maps to ledger.ErrConflict,
  which the engine retries.

GUARDED WRITES:
  DebitAccount and DecrementReward are conditional UPDATEs. Zero rows
  affected means the guard fired - the schema CHECK constraints back the
  same invariants a second time.

APPEND-ONLY ENFORCEMENT:
  The redemptions table only ever gains rows. The unique partial index on
  request_id is what makes request replay detection race-free.

MIGRATIONS:
  Versioned goose migrations embedded via embed.FS, run on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/warp/loyalty-engine/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so every row-level helper
// runs identically inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// REWARD READS
// =============================================================================

const rewardCols = `id, name, points_required, expires_at, remaining_count, category, created_at, updated_at`

func (s *Store) GetReward(ctx context.Context, id ledger.RewardID) (*ledger.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getReward(ctx, s.db, id)
}

func getReward(ctx context.Context, db dbtx, id ledger.RewardID) (*ledger.Reward, error) {
	row := db.QueryRowContext(ctx, `SELECT `+rewardCols+` FROM rewards WHERE id = ?`, id)
	reward, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	return reward, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReward(sc scanner) (*ledger.Reward, error) {
	var (
		r              ledger.Reward
		pointsRequired int64
		expiresAt      string
		createdAt      string
		updatedAt      string
	)
	err := sc.Scan(&r.ID, &r.Name, &pointsRequired, &expiresAt, &r.RemainingCount, &r.Category, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.PointsRequired = ledger.NewPoints(pointsRequired)
	r.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, userID ledger.UserID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, userID)
}

func getAccount(ctx context.Context, db dbtx, userID ledger.UserID) (*ledger.Account, error) {
	var (
		a         ledger.Account
		balance   int64
		createdAt string
		updatedAt string
	)
	err := db.QueryRowContext(ctx,
		`SELECT user_id, points_balance, created_at, updated_at FROM accounts WHERE user_id = ?`,
		userID,
	).Scan(&a.UserID, &balance, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.Balance = ledger.NewPoints(balance)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAccount(ctx, s.db, account)
}

func createAccount(ctx context.Context, db dbtx, account ledger.Account) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, points_balance, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		account.UserID,
		account.Balance.Int64(),
		account.CreatedAt.UTC().Format(time.RFC3339),
		account.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("account %s already exists: %w", account.UserID, ledger.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) DebitAccount(ctx context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return debitAccount(ctx, s.db, userID, amount, at)
}

func debitAccount(ctx context.Context, db dbtx, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE accounts SET points_balance = points_balance - ?, updated_at = ?
		 WHERE user_id = ? AND points_balance >= ?`,
		amount.Int64(), at.UTC().Format(time.RFC3339), userID, amount.Int64(),
	)
	if err != nil {
		return mapWriteError(err, "failed to debit account")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("debit of %s from %s matched no row: %w", amount, userID, ledger.ErrInvariantViolated)
	}
	return nil
}

func (s *Store) CreditAccount(ctx context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return creditAccount(ctx, s.db, userID, amount, at)
}

func creditAccount(ctx context.Context, db dbtx, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE accounts SET points_balance = points_balance + ?, updated_at = ? WHERE user_id = ?`,
		amount.Int64(), at.UTC().Format(time.RFC3339), userID,
	)
	if err != nil {
		return mapWriteError(err, "failed to credit account")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("credit to missing account %s: %w", userID, ledger.ErrInvariantViolated)
	}
	return nil
}

// =============================================================================
// REWARD INVENTORY
// =============================================================================

func (s *Store) DecrementReward(ctx context.Context, id ledger.RewardID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decrementReward(ctx, s.db, id, at)
}

func decrementReward(ctx context.Context, db dbtx, id ledger.RewardID, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE rewards SET remaining_count = remaining_count - 1, updated_at = ?
		 WHERE id = ? AND remaining_count > 0`,
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return mapWriteError(err, "failed to decrement reward")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to decrement reward: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("decrement of reward %s matched no row: %w", id, ledger.ErrInvariantViolated)
	}
	return nil
}

// =============================================================================
// REDEMPTIONS (append-only)
// =============================================================================

const redemptionCols = `id, user_id, reward_id, reward_name, points_spent, balance_after, request_id, redeemed_at`

func (s *Store) AppendRedemption(ctx context.Context, rec ledger.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRedemption(ctx, s.db, rec)
}

func appendRedemption(ctx context.Context, db dbtx, rec ledger.Redemption) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO redemptions (`+redemptionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.UserID,
		rec.RewardID,
		rec.RewardName,
		rec.PointsSpent.Int64(),
		rec.BalanceAfter.Int64(),
		nullString(rec.RequestID),
		rec.RedeemedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("request %q: %w", rec.RequestID, ledger.ErrDuplicateRequest)
	}
	if err != nil {
		return mapWriteError(err, "failed to append redemption")
	}
	return nil
}

func (s *Store) GetRedemptionByRequestID(ctx context.Context, requestID string) (*ledger.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRedemptionByRequestID(ctx, s.db, requestID)
}

func getRedemptionByRequestID(ctx context.Context, db dbtx, requestID string) (*ledger.Redemption, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+redemptionCols+` FROM redemptions WHERE request_id = ?`, requestID)
	rec, err := scanRedemption(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get redemption by request id: %w", err)
	}
	return rec, nil
}

func (s *Store) ListRedemptions(ctx context.Context, userID ledger.UserID, offset, limit int) ([]ledger.Redemption, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRedemptions(ctx, s.db, userID, offset, limit)
}

func listRedemptions(ctx context.Context, db dbtx, userID ledger.UserID, offset, limit int) ([]ledger.Redemption, int, error) {
	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM redemptions WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count redemptions: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+redemptionCols+` FROM redemptions
		 WHERE user_id = ?
		 ORDER BY redeemed_at DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list redemptions: %w", err)
	}
	defer rows.Close()

	records := []ledger.Redemption{}
	for rows.Next() {
		rec, err := scanRedemption(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan redemption: %w", err)
		}
		records = append(records, *rec)
	}
	return records, total, rows.Err()
}

func scanRedemption(sc scanner) (*ledger.Redemption, error) {
	var (
		rec          ledger.Redemption
		pointsSpent  int64
		balanceAfter int64
		requestID    sql.NullString
		redeemedAt   string
	)
	err := sc.Scan(&rec.ID, &rec.UserID, &rec.RewardID, &rec.RewardName,
		&pointsSpent, &balanceAfter, &requestID, &redeemedAt)
	if err != nil {
		return nil, err
	}
	rec.PointsSpent = ledger.NewPoints(pointsSpent)
	rec.BalanceAfter = ledger.NewPoints(balanceAfter)
	rec.RequestID = requestID.String
	rec.RedeemedAt, _ = time.Parse(time.RFC3339Nano, redeemedAt)
	return &rec, nil
}

// =============================================================================
// CATALOG OPERATIONS
// =============================================================================

// SaveReward inserts or updates a reward definition. Note the upsert does
// NOT touch remaining_count: inventory moves only through DecrementReward
// and RestockReward.
func (s *Store) SaveReward(ctx context.Context, reward ledger.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (`+rewardCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			points_required = excluded.points_required,
			expires_at = excluded.expires_at,
			category = excluded.category,
			updated_at = excluded.updated_at`,
		reward.ID,
		reward.Name,
		reward.PointsRequired.Int64(),
		reward.ExpiresAt.UTC().Format(time.RFC3339),
		reward.RemainingCount,
		reward.Category,
		reward.CreatedAt.UTC().Format(time.RFC3339),
		reward.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return mapWriteError(err, "failed to save reward")
	}
	return nil
}

func (s *Store) DeleteReward(ctx context.Context, id ledger.RewardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM rewards WHERE id = ?`, id); err != nil {
		return mapWriteError(err, "failed to delete reward")
	}
	return nil
}

// RestockReward adds inventory to an existing reward.
func (s *Store) RestockReward(ctx context.Context, id ledger.RewardID, count int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET remaining_count = remaining_count + ?, updated_at = ? WHERE id = ?`,
		count, at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return mapWriteError(err, "failed to restock reward")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to restock reward: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reward %s: %w", id, ledger.ErrRewardNotFound)
	}
	return nil
}

// ListRewards returns a catalog page ordered by name, plus the total count
// matching the filter. With availableOnly, expired and out-of-stock
// rewards are excluded.
func (s *Store) ListRewards(ctx context.Context, offset, limit int, availableOnly bool, now time.Time) ([]ledger.Reward, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := ``
	args := []any{}
	if availableOnly {
		where = ` WHERE remaining_count > 0 AND expires_at > ?`
		args = append(args, now.UTC().Format(time.RFC3339))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rewards`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rewards: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rewardCols+` FROM rewards`+where+` ORDER BY name LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	rewards := []ledger.Reward{}
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, *r)
	}
	return rewards, total, rows.Err()
}

// =============================================================================
// TRANSACTIONS (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a single database transaction. The store's
// write mutex is held for the duration, so write units are serialized
// ahead of SQLite's own lock; the transaction still begins immediate as a
// second line of defense for external writers.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapWriteError(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapWriteError(err, "failed to commit transaction")
	}
	return nil
}

// txStore routes Store calls through the open transaction. It must not
// take the parent mutex - WithTx already holds it.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetReward(ctx context.Context, id ledger.RewardID) (*ledger.Reward, error) {
	return getReward(ctx, ts.tx, id)
}

func (ts *txStore) GetAccount(ctx context.Context, userID ledger.UserID) (*ledger.Account, error) {
	return getAccount(ctx, ts.tx, userID)
}

func (ts *txStore) CreateAccount(ctx context.Context, account ledger.Account) error {
	return createAccount(ctx, ts.tx, account)
}

func (ts *txStore) DebitAccount(ctx context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	return debitAccount(ctx, ts.tx, userID, amount, at)
}

func (ts *txStore) CreditAccount(ctx context.Context, userID ledger.UserID, amount ledger.Points, at time.Time) error {
	return creditAccount(ctx, ts.tx, userID, amount, at)
}

func (ts *txStore) DecrementReward(ctx context.Context, id ledger.RewardID, at time.Time) error {
	return decrementReward(ctx, ts.tx, id, at)
}

func (ts *txStore) AppendRedemption(ctx context.Context, rec ledger.Redemption) error {
	return appendRedemption(ctx, ts.tx, rec)
}

func (ts *txStore) GetRedemptionByRequestID(ctx context.Context, requestID string) (*ledger.Redemption, error) {
	return getRedemptionByRequestID(ctx, ts.tx, requestID)
}

func (ts *txStore) ListRedemptions(ctx context.Context, userID ledger.UserID, offset, limit int) ([]ledger.Redemption, int, error) {
	return listRedemptions(ctx, ts.tx, userID, offset, limit)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapWriteError(err error, msg string) error {
	if isBusyError(err) {
		return fmt.Errorf("%s: %w", msg, ledger.ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
