/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the redemption engine, query service, and reward catalog via
  REST. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Users:
    POST   /api/users/{id}/redemptions  Redeem a reward
    GET    /api/users/{id}/balance      Current point balance
    GET    /api/users/{id}/redemptions  Paginated redemption history

  Rewards:
    GET    /api/rewards                 List rewards (?available=true)
    POST   /api/rewards                 Create reward
    GET    /api/rewards/{id}            Get reward
    PUT    /api/rewards/{id}            Update reward definition
    DELETE /api/rewards/{id}            Delete reward
    POST   /api/rewards/{id}/restock    Add inventory

  Admin:
    POST   /api/admin/accounts          Provision a points account
    POST   /api/admin/credits           Credit points to an account

ERROR HANDLING:
  Domain errors map to statuses in statusFor:
  - 400: Invalid input
  - 404: Reward or account not found
  - 409: Expired or out of stock
  - 422: Insufficient points
  - 503: Storage contention that outlived the retry budget
  - 500: Everything else

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/loyalty-engine/catalog"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	Query   *ledger.QueryService
	Catalog *catalog.Service

	// Store is used only for account provisioning.
	Store ledger.Store
}

// NewHandler creates a new handler over the given services.
func NewHandler(engine *ledger.Engine, query *ledger.QueryService, cat *catalog.Service, store ledger.Store) *Handler {
	return &Handler{
		Engine:  engine,
		Query:   query,
		Catalog: cat,
		Store:   store,
	}
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// Redeem exchanges points for a reward.
// POST /api/users/{id}/redemptions
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	conf, err := h.Engine.Redeem(r.Context(), userID, ledger.RewardID(req.RewardID), req.RequestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if conf.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, RedemptionConfirmationDTO{
		RedemptionID:     string(conf.RedemptionID),
		RemainingBalance: conf.RemainingBalance.Int64(),
		Replayed:         conf.Replayed,
	})
}

// GetBalance returns the user's current point balance.
// GET /api/users/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	balance, err := h.Query.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:  string(userID),
		Balance: balance.Int64(),
	})
}

// GetHistory returns the user's paginated redemption history, newest first.
// GET /api/users/{id}/redemptions?page=1&page_size=10
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	page, pageSize, err := paginationParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination parameters", err)
		return
	}

	records, total, err := h.Query.History(r.Context(), userID, page, pageSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]RedemptionDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRedemptionDTO(rec)
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Redemptions: dtos,
		Page:        effectivePage(page),
		PageSize:    effectivePageSize(pageSize),
		Total:       total,
	})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListRewards returns a catalog page.
// GET /api/rewards?page=1&page_size=10&available=true
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := paginationParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination parameters", err)
		return
	}
	availableOnly := r.URL.Query().Get("available") == "true"

	rewards, total, err := h.Catalog.List(r.Context(), page, pageSize, availableOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]RewardDTO, len(rewards))
	for i, rw := range rewards {
		dtos[i] = toRewardDTO(rw)
	}
	writeJSON(w, http.StatusOK, RewardListResponse{
		Rewards:  dtos,
		Page:     effectivePage(page),
		PageSize: effectivePageSize(pageSize),
		Total:    total,
	})
}

// CreateReward adds a reward to the catalog.
// POST /api/rewards
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	def, err := decodeDefinition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reward, err := h.Catalog.Create(r.Context(), def)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(*reward))
}

// GetReward returns a single reward.
// GET /api/rewards/{id}
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	id := ledger.RewardID(chi.URLParam(r, "id"))

	reward, err := h.Catalog.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(*reward))
}

// UpdateReward replaces a reward's definition. Inventory is untouched.
// PUT /api/rewards/{id}
func (h *Handler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	id := ledger.RewardID(chi.URLParam(r, "id"))

	def, err := decodeDefinition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reward, err := h.Catalog.Update(r.Context(), id, def)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(*reward))
}

// DeleteReward removes a reward from the catalog.
// DELETE /api/rewards/{id}
func (h *Handler) DeleteReward(w http.ResponseWriter, r *http.Request) {
	id := ledger.RewardID(chi.URLParam(r, "id"))

	if err := h.Catalog.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestockReward adds inventory to a reward.
// POST /api/rewards/{id}/restock
func (h *Handler) RestockReward(w http.ResponseWriter, r *http.Request) {
	id := ledger.RewardID(chi.URLParam(r, "id"))

	var req RestockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reward, err := h.Catalog.Restock(r.Context(), id, req.Count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(*reward))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAccount provisions a points account for a user.
// POST /api/admin/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	if req.InitialBalance < 0 {
		writeError(w, http.StatusBadRequest, "initial_balance must not be negative", nil)
		return
	}

	now := time.Now().UTC()
	account := ledger.Account{
		UserID:    ledger.UserID(req.UserID),
		Balance:   ledger.NewPoints(req.InitialBalance),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			writeError(w, http.StatusConflict, "Account already exists", nil)
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, BalanceDTO{
		UserID:  req.UserID,
		Balance: req.InitialBalance,
	})
}

// CreditPoints adds points to an account.
// POST /api/admin/credits
func (h *Handler) CreditPoints(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	userID := ledger.UserID(req.UserID)
	if err := h.Engine.Credit(r.Context(), userID, ledger.NewPoints(req.Amount), req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}

	balance, err := h.Query.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:  req.UserID,
		Balance: balance.Int64(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func toRedemptionDTO(rec ledger.Redemption) RedemptionDTO {
	return RedemptionDTO{
		ID:           string(rec.ID),
		RewardID:     string(rec.RewardID),
		RewardName:   rec.RewardName,
		PointsSpent:  rec.PointsSpent.Int64(),
		BalanceAfter: rec.BalanceAfter.Int64(),
		RedeemedAt:   rec.RedeemedAt.Format(time.RFC3339),
	}
}

func toRewardDTO(r ledger.Reward) RewardDTO {
	return RewardDTO{
		ID:             string(r.ID),
		Name:           r.Name,
		PointsRequired: r.PointsRequired.Int64(),
		ExpiresAt:      r.ExpiresAt.Format(time.RFC3339),
		RemainingCount: r.RemainingCount,
		Category:       string(r.Category),
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
}

func decodeDefinition(r *http.Request) (catalog.Definition, error) {
	var req SaveRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return catalog.Definition{}, err
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		return catalog.Definition{}, err
	}
	return catalog.Definition{
		Name:           req.Name,
		PointsRequired: ledger.NewPoints(req.PointsRequired),
		ExpiresAt:      expiresAt,
		InitialCount:   req.Count,
		Category:       ledger.RewardCategory(req.Category),
	}, nil
}

// paginationParams parses ?page= and ?page_size=. Missing values come back
// as zero; the services apply the defaults.
func paginationParams(r *http.Request) (page, pageSize int, err error) {
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, err
		}
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, err
		}
	}
	return page, pageSize, nil
}

func effectivePage(page int) int {
	if page == 0 {
		return ledger.DefaultPage
	}
	return page
}

func effectivePageSize(pageSize int) int {
	switch {
	case pageSize == 0:
		return ledger.DefaultPageSize
	case pageSize > ledger.MaxPageSize:
		return ledger.MaxPageSize
	}
	return pageSize
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidArgument):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrRewardExpired), errors.Is(err, ledger.ErrOutOfStock):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "Internal error", nil)
		return
	}
	writeError(w, status, err.Error(), nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
