package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/catalog"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	mem    *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	clock := func() time.Time { return testNow }

	engine := ledger.NewEngine(mem, nil).WithClock(clock)
	query := ledger.NewQueryService(mem)
	cat := catalog.NewService(mem, nil).WithClock(clock)

	handler := api.NewHandler(engine, query, cat, mem)
	return &testServer{router: api.NewRouter(handler), mem: mem}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (ts *testServer) seedReward(t *testing.T, id string, price, count int64) {
	t.Helper()
	require.NoError(t, ts.mem.SaveReward(context.Background(), ledger.Reward{
		ID:             ledger.RewardID(id),
		Name:           "Reward " + id,
		PointsRequired: ledger.NewPoints(price),
		ExpiresAt:      testNow.Add(30 * 24 * time.Hour),
		RemainingCount: count,
		Category:       ledger.CategoryGiftCard,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}))
}

func (ts *testServer) seedAccount(t *testing.T, userID string, balance int64) {
	t.Helper()
	require.NoError(t, ts.mem.CreateAccount(context.Background(), ledger.Account{
		UserID:    ledger.UserID(userID),
		Balance:   ledger.NewPoints(balance),
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}))
}

// =============================================================================
// REDEMPTION ENDPOINT
// =============================================================================

func TestAPI_Redeem_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.seedReward(t, "r-1", 50, 1)
	ts.seedAccount(t, "u-1", 100)

	rec := ts.request(t, "POST", "/api/users/u-1/redemptions", api.RedeemRequest{RewardID: "r-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	conf := decode[api.RedemptionConfirmationDTO](t, rec)
	assert.NotEmpty(t, conf.RedemptionID)
	assert.Equal(t, int64(50), conf.RemainingBalance)
	assert.False(t, conf.Replayed)
}

func TestAPI_Redeem_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		seed       func(ts *testServer, t *testing.T)
		rewardID   string
		wantStatus int
	}{
		{
			name:       "reward not found",
			seed:       func(ts *testServer, t *testing.T) { ts.seedAccount(t, "u-1", 100) },
			rewardID:   "missing",
			wantStatus: http.StatusNotFound,
		},
		{
			name: "account not found",
			seed: func(ts *testServer, t *testing.T) {
				ts.seedReward(t, "r-1", 50, 1)
			},
			rewardID:   "r-1",
			wantStatus: http.StatusNotFound,
		},
		{
			name: "out of stock",
			seed: func(ts *testServer, t *testing.T) {
				ts.seedReward(t, "r-1", 50, 0)
				ts.seedAccount(t, "u-1", 100)
			},
			rewardID:   "r-1",
			wantStatus: http.StatusConflict,
		},
		{
			name: "expired",
			seed: func(ts *testServer, t *testing.T) {
				require.NoError(t, ts.mem.SaveReward(context.Background(), ledger.Reward{
					ID:             "r-1",
					Name:           "Bygone",
					PointsRequired: ledger.NewPoints(50),
					ExpiresAt:      testNow.Add(-time.Hour),
					RemainingCount: 5,
					Category:       ledger.CategoryGiftCard,
				}))
				ts.seedAccount(t, "u-1", 100)
			},
			rewardID:   "r-1",
			wantStatus: http.StatusConflict,
		},
		{
			name: "insufficient points",
			seed: func(ts *testServer, t *testing.T) {
				ts.seedReward(t, "r-1", 500, 1)
				ts.seedAccount(t, "u-1", 100)
			},
			rewardID:   "r-1",
			wantStatus: http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			tc.seed(ts, t)

			rec := ts.request(t, "POST", "/api/users/u-1/redemptions", api.RedeemRequest{RewardID: tc.rewardID})
			assert.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())

			resp := decode[api.ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAPI_Redeem_IdempotentReplay(t *testing.T) {
	// A replayed request id returns 200 with the original confirmation.
	ts := newTestServer(t)
	ts.seedReward(t, "r-1", 50, 5)
	ts.seedAccount(t, "u-1", 200)

	body := api.RedeemRequest{RewardID: "r-1", RequestID: "req-1"}

	first := ts.request(t, "POST", "/api/users/u-1/redemptions", body)
	require.Equal(t, http.StatusCreated, first.Code)
	firstConf := decode[api.RedemptionConfirmationDTO](t, first)

	second := ts.request(t, "POST", "/api/users/u-1/redemptions", body)
	require.Equal(t, http.StatusOK, second.Code)
	secondConf := decode[api.RedemptionConfirmationDTO](t, second)

	assert.Equal(t, firstConf.RedemptionID, secondConf.RedemptionID)
	assert.Equal(t, firstConf.RemainingBalance, secondConf.RemainingBalance)
	assert.True(t, secondConf.Replayed)

	balance := decode[api.BalanceDTO](t, ts.request(t, "GET", "/api/users/u-1/balance", nil))
	assert.Equal(t, int64(150), balance.Balance)
}

func TestAPI_Redeem_MalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/users/u-1/redemptions", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BALANCE AND HISTORY ENDPOINTS
// =============================================================================

func TestAPI_GetBalance(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "u-1", 75)

	rec := ts.request(t, "GET", "/api/users/u-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decode[api.BalanceDTO](t, rec)
	assert.Equal(t, "u-1", dto.UserID)
	assert.Equal(t, int64(75), dto.Balance)
}

func TestAPI_GetBalance_UnknownUser(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "GET", "/api/users/ghost/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_GetHistory_PaginationDefaults(t *testing.T) {
	ts := newTestServer(t)
	ts.seedReward(t, "r-1", 10, 50)
	ts.seedAccount(t, "u-1", 1000)

	for i := 0; i < 12; i++ {
		rec := ts.request(t, "POST", "/api/users/u-1/redemptions",
			api.RedeemRequest{RewardID: "r-1", RequestID: fmt.Sprintf("req-%d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.request(t, "GET", "/api/users/u-1/redemptions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[api.HistoryResponse](t, rec)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 10, resp.PageSize)
	assert.Equal(t, 12, resp.Total)
	assert.Len(t, resp.Redemptions, 10)

	rec = ts.request(t, "GET", "/api/users/u-1/redemptions?page=2&page_size=10", nil)
	resp = decode[api.HistoryResponse](t, rec)
	assert.Equal(t, 2, resp.Page)
	assert.Len(t, resp.Redemptions, 2)
}

func TestAPI_GetHistory_BadPagination(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "GET", "/api/users/u-1/redemptions?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, "GET", "/api/users/u-1/redemptions?page=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

func saveRewardBody() api.SaveRewardRequest {
	return api.SaveRewardRequest{
		Name:           "Coffee Voucher",
		PointsRequired: 50,
		ExpiresAt:      testNow.Add(30 * 24 * time.Hour).Format(time.RFC3339),
		Count:          10,
		Category:       "gift_card",
	}
}

func TestAPI_RewardLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Create
	rec := ts.request(t, "POST", "/api/rewards", saveRewardBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.RewardDTO](t, rec)
	require.NotEmpty(t, created.ID)

	// Get
	rec = ts.request(t, "GET", "/api/rewards/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.RewardDTO](t, rec)
	assert.Equal(t, "Coffee Voucher", got.Name)
	assert.Equal(t, int64(10), got.RemainingCount)

	// Update
	update := saveRewardBody()
	update.Name = "Large Coffee Voucher"
	update.PointsRequired = 75
	rec = ts.request(t, "PUT", "/api/rewards/"+created.ID, update)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[api.RewardDTO](t, rec)
	assert.Equal(t, "Large Coffee Voucher", updated.Name)
	assert.Equal(t, int64(10), updated.RemainingCount)

	// Restock
	rec = ts.request(t, "POST", "/api/rewards/"+created.ID+"/restock", api.RestockRequest{Count: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	restocked := decode[api.RewardDTO](t, rec)
	assert.Equal(t, int64(15), restocked.RemainingCount)

	// Delete
	rec = ts.request(t, "DELETE", "/api/rewards/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, "GET", "/api/rewards/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateReward_Invalid(t *testing.T) {
	ts := newTestServer(t)

	body := saveRewardBody()
	body.PointsRequired = 0
	rec := ts.request(t, "POST", "/api/rewards", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = saveRewardBody()
	body.ExpiresAt = "not-a-date"
	rec = ts.request(t, "POST", "/api/rewards", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListRewards_AvailableFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.seedReward(t, "live", 10, 3)
	ts.seedReward(t, "soldout", 10, 0)

	rec := ts.request(t, "GET", "/api/rewards?available=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.RewardListResponse](t, rec)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Rewards, 1)
	assert.Equal(t, "live", resp.Rewards[0].ID)

	rec = ts.request(t, "GET", "/api/rewards", nil)
	resp = decode[api.RewardListResponse](t, rec)
	assert.Equal(t, 2, resp.Total)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

func TestAPI_CreateAccountAndCredit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/admin/accounts", api.CreateAccountRequest{
		UserID:         "u-1",
		InitialBalance: 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Duplicate provisioning conflicts
	rec = ts.request(t, "POST", "/api/admin/accounts", api.CreateAccountRequest{UserID: "u-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.request(t, "POST", "/api/admin/credits", api.CreditRequest{
		UserID: "u-1",
		Amount: 50,
		Reason: "promo",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[api.BalanceDTO](t, rec)
	assert.Equal(t, int64(150), dto.Balance)
}

func TestAPI_Credit_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "u-1", 10)

	rec := ts.request(t, "POST", "/api/admin/credits", api.CreditRequest{UserID: "u-1", Amount: -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, "POST", "/api/admin/credits", api.CreditRequest{UserID: "ghost", Amount: 5})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateAccount_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, "POST", "/api/admin/accounts", api.CreateAccountRequest{UserID: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, "POST", "/api/admin/accounts", api.CreateAccountRequest{UserID: "u-1", InitialBalance: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
