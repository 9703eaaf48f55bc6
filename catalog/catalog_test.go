package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/catalog"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/ledger/store"
)

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T) (*catalog.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := catalog.NewService(mem, nil).WithClock(func() time.Time { return testNow })
	return svc, mem
}

func validDefinition() catalog.Definition {
	return catalog.Definition{
		Name:           "Coffee Voucher",
		PointsRequired: ledger.NewPoints(50),
		ExpiresAt:      testNow.Add(30 * 24 * time.Hour),
		InitialCount:   10,
		Category:       ledger.CategoryGiftCard,
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCatalog_Create(t *testing.T) {
	svc, mem := newTestCatalog(t)
	ctx := context.Background()

	reward, err := svc.Create(ctx, validDefinition())
	require.NoError(t, err)
	assert.NotEmpty(t, reward.ID)
	assert.Equal(t, "Coffee Voucher", reward.Name)
	assert.Equal(t, int64(10), reward.RemainingCount)
	assert.Equal(t, testNow, reward.CreatedAt)

	stored, err := mem.GetReward(ctx, reward.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, reward.Name, stored.Name)
}

func TestCatalog_Create_Validation(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*catalog.Definition)
	}{
		{"empty name", func(d *catalog.Definition) { d.Name = "" }},
		{"zero price", func(d *catalog.Definition) { d.PointsRequired = ledger.NewPoints(0) }},
		{"negative price", func(d *catalog.Definition) { d.PointsRequired = ledger.NewPoints(-5) }},
		{"missing expiry", func(d *catalog.Definition) { d.ExpiresAt = time.Time{} }},
		{"negative count", func(d *catalog.Definition) { d.InitialCount = -1 }},
		{"unknown category", func(d *catalog.Definition) { d.Category = "mystery" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDefinition()
			tc.mutate(&def)
			_, err := svc.Create(ctx, def)
			assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
		})
	}
}

// =============================================================================
// GET / UPDATE / DELETE
// =============================================================================

func TestCatalog_Get_NotFound(t *testing.T) {
	svc, _ := newTestCatalog(t)

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrRewardNotFound)
}

func TestCatalog_Update_PreservesInventory(t *testing.T) {
	// GIVEN: A reward whose stock has been partially consumed
	// WHEN: An admin updates its definition
	// THEN: Name and price change, remaining inventory does not

	svc, mem := newTestCatalog(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validDefinition())
	require.NoError(t, err)
	require.NoError(t, mem.DecrementReward(ctx, created.ID, testNow))

	def := validDefinition()
	def.Name = "Large Coffee Voucher"
	def.PointsRequired = ledger.NewPoints(75)
	def.InitialCount = 999 // ignored on update

	updated, err := svc.Update(ctx, created.ID, def)
	require.NoError(t, err)
	assert.Equal(t, "Large Coffee Voucher", updated.Name)
	assert.Equal(t, int64(75), updated.PointsRequired.Int64())
	assert.Equal(t, int64(9), updated.RemainingCount)
}

func TestCatalog_Update_NotFound(t *testing.T) {
	svc, _ := newTestCatalog(t)

	_, err := svc.Update(context.Background(), "nope", validDefinition())
	assert.ErrorIs(t, err, ledger.ErrRewardNotFound)
}

func TestCatalog_Delete(t *testing.T) {
	svc, mem := newTestCatalog(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validDefinition())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))

	stored, err := mem.GetReward(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	err = svc.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, ledger.ErrRewardNotFound)
}

// =============================================================================
// RESTOCK
// =============================================================================

func TestCatalog_Restock(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validDefinition())
	require.NoError(t, err)

	reward, err := svc.Restock(ctx, created.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), reward.RemainingCount)
}

func TestCatalog_Restock_Validation(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := svc.Restock(ctx, "r-1", 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = svc.Restock(ctx, "r-1", -3)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = svc.Restock(ctx, "missing", 5)
	assert.ErrorIs(t, err, ledger.ErrRewardNotFound)
}

// =============================================================================
// LIST
// =============================================================================

func TestCatalog_List_AvailableFilterAndPaging(t *testing.T) {
	svc, mem := newTestCatalog(t)
	ctx := context.Background()

	save := func(id string, count int64, expiresAt time.Time) {
		require.NoError(t, mem.SaveReward(ctx, ledger.Reward{
			ID:             ledger.RewardID(id),
			Name:           id,
			PointsRequired: ledger.NewPoints(10),
			ExpiresAt:      expiresAt,
			RemainingCount: count,
			Category:       ledger.CategoryMerchandise,
		}))
	}
	save("a-live", 3, testNow.Add(time.Hour))
	save("b-expired", 3, testNow.Add(-time.Hour))
	save("c-live", 1, testNow.Add(time.Hour))
	save("d-soldout", 0, testNow.Add(time.Hour))

	all, total, err := svc.List(ctx, 0, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 4)

	available, total, err := svc.List(ctx, 1, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, available, 1)
	assert.Equal(t, ledger.RewardID("a-live"), available[0].ID)

	available, _, err = svc.List(ctx, 2, 1, true)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, ledger.RewardID("c-live"), available[0].ID)

	_, _, err = svc.List(ctx, -1, 10, false)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}
