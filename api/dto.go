/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// =============================================================================
// REDEMPTION TYPES
// =============================================================================

// RedeemRequest is the request to redeem a reward.
type RedeemRequest struct {
	RewardID string `json:"reward_id"`

	// RequestID is the optional idempotency key. Retrying with the same
	// key returns the original confirmation instead of redeeming twice.
	RequestID string `json:"request_id,omitempty"`
}

// RedemptionConfirmationDTO is returned after a successful redemption.
type RedemptionConfirmationDTO struct {
	RedemptionID     string `json:"redemption_id"`
	RemainingBalance int64  `json:"remaining_balance"`
	Replayed         bool   `json:"replayed,omitempty"`
}

// RedemptionDTO represents one history entry.
type RedemptionDTO struct {
	ID           string `json:"id"`
	RewardID     string `json:"reward_id"`
	RewardName   string `json:"reward_name"`
	PointsSpent  int64  `json:"points_spent"`
	BalanceAfter int64  `json:"balance_after"`
	RedeemedAt   string `json:"redeemed_at"`
}

// HistoryResponse is a paginated slice of redemption history.
type HistoryResponse struct {
	Redemptions []RedemptionDTO `json:"redemptions"`
	Page        int             `json:"page"`
	PageSize    int             `json:"page_size"`
	Total       int             `json:"total"`
}

// BalanceDTO is the balance query response.
type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// =============================================================================
// CATALOG TYPES
// =============================================================================

// RewardDTO represents a reward in API responses.
type RewardDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PointsRequired int64  `json:"points_required"`
	ExpiresAt      string `json:"expires_at"`
	RemainingCount int64  `json:"remaining_count"`
	Category       string `json:"category"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// RewardListResponse is a paginated catalog page.
type RewardListResponse struct {
	Rewards  []RewardDTO `json:"rewards"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Total    int         `json:"total"`
}

// SaveRewardRequest creates or updates a reward definition. Count is used
// only at creation; updates never touch remaining inventory.
type SaveRewardRequest struct {
	Name           string `json:"name"`
	PointsRequired int64  `json:"points_required"`
	ExpiresAt      string `json:"expires_at"`
	Count          int64  `json:"count"`
	Category       string `json:"category"`
}

// RestockRequest adds inventory to a reward.
type RestockRequest struct {
	Count int64 `json:"count"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// CreateAccountRequest provisions a points account.
type CreateAccountRequest struct {
	UserID         string `json:"user_id"`
	InitialBalance int64  `json:"initial_balance"`
}

// CreditRequest adds points to an account.
type CreditRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
