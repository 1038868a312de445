package handlers

import (
	"strconv"

	"github.com/aistory-app/aistory/backend/internal/middleware"
	"github.com/aistory-app/aistory/backend/internal/services"
	"github.com/aistory-app/aistory/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type CreditHandler struct {
	credits   *services.CreditService
	realCosts *services.RealCostService
}

func NewCreditHandler(credits *services.CreditService, realCosts *services.RealCostService) *CreditHandler {
	return &CreditHandler{credits: credits, realCosts: realCosts}
}

// Balance returns the caller's balance row
// GET /api/credits/balance
func (h *CreditHandler) Balance(c *gin.Context) {
	balance, err := h.credits.GetBalance(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, balance)
}

// Transactions pages through the caller's ledger
// GET /api/credits/transactions
func (h *CreditHandler) Transactions(c *gin.Context) {
	var req services.TransactionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.UserID = middleware.GetUserID(c)
	h.listTransactions(c, &req)
}

// UserTransactions pages through any user's ledger
// GET /api/admin/credits/transactions?user_id=
func (h *CreditHandler) UserTransactions(c *gin.Context) {
	var req services.TransactionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 32)
	if err != nil || userID == 0 {
		response.BadRequest(c, "user_id is required")
		return
	}
	req.UserID = uint(userID)
	h.listTransactions(c, &req)
}

func (h *CreditHandler) listTransactions(c *gin.Context, req *services.TransactionListRequest) {
	resp, err := h.credits.ListTransactions(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Page(c, resp.Items, resp.Total, resp.Page, resp.PageSize)
}

// Grant adds credits to a user. The Idempotency-Key header is used when the
// body carries no key.
// POST /api/admin/credits/grant
func (h *CreditHandler) Grant(c *gin.Context) {
	var req services.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = middleware.GetIdempotencyKey(c)
	}
	if req.Metadata == nil {
		req.Metadata = map[string]interface{}{}
	}
	req.Metadata["grantedBy"] = middleware.GetUserID(c)

	result, err := h.credits.AddCredits(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, result)
}

// Track records a real cost without moving credits
// POST /api/admin/credits/track
func (h *CreditHandler) Track(c *gin.Context) {
	var req services.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = middleware.GetIdempotencyKey(c)
	}

	entry, err := h.realCosts.TrackRealCostOnly(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, entry)
}
