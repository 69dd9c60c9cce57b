package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/enablr/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new escrow handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up the escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/escrows/:id/ledger", h.GetLedger)
	r.GET("/escrows/:id/history", h.GetHistory)
	r.GET("/escrows/:id/audit", h.AuditEscrow)
	r.GET("/bookings/:id/escrow", h.GetByBooking)
	r.POST("/escrows/:id/protect", h.MarkProtected)
	r.POST("/escrows/:id/release", h.InitiateRelease)
	r.POST("/escrows/:id/freeze", h.FreezeEscrow)
	r.POST("/escrows/:id/adjust", h.AdjustEscrow)
	r.POST("/escrows/:id/close", h.CloseEscrow)
}

// CreateEscrow handles POST /v1/escrows (booking confirmed).
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.RequireID("booking_id", req.BookingID),
		validation.PositiveCents("amount_cents", req.AmountCents),
		validation.ValidCurrency("currency", req.Currency),
		validation.RateInRange("commission_rate", req.CommissionRate),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	acct, err := h.manager.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

// GetEscrow handles GET /v1/escrows/:id.
func (h *Handler) GetEscrow(c *gin.Context) {
	acct, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// GetByBooking handles GET /v1/bookings/:id/escrow.
func (h *Handler) GetByBooking(c *gin.Context) {
	acct, err := h.manager.GetByBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// GetLedger handles GET /v1/escrows/:id/ledger.
func (h *Handler) GetLedger(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.manager.Ledger(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// GetHistory handles GET /v1/escrows/:id/history.
func (h *Handler) GetHistory(c *gin.Context) {
	acct, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": acct.StateHistory, "count": len(acct.StateHistory)})
}

// AuditEscrow handles GET /v1/escrows/:id/audit. It replays the ledger and
// verifies every stored running balance.
func (h *Handler) AuditEscrow(c *gin.Context) {
	if err := h.manager.Audit(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrInvariant) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "ledger_invariant_violated",
				"message": err.Error(),
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "consistent"})
}

type actorRequest struct {
	TriggeredBy string `json:"triggeredBy"`
}

// MarkProtected handles POST /v1/escrows/:id/protect (event started).
func (h *Handler) MarkProtected(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if req.TriggeredBy == "" {
		req.TriggeredBy = "system"
	}

	acct, err := h.manager.MarkProtected(c.Request.Context(), c.Param("id"), req.TriggeredBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// ReleaseRequest contains the parameters for initiating release.
type ReleaseRequest struct {
	HostID string `json:"hostId" binding:"required"`
}

// InitiateRelease handles POST /v1/escrows/:id/release (host validates
// completion).
func (h *Handler) InitiateRelease(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "hostId is required",
		})
		return
	}

	acct, err := h.manager.InitiateRelease(c.Request.Context(), c.Param("id"), req.HostID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// FreezeRequest contains the parameters for freezing an escrow.
type FreezeRequest struct {
	DisputeID   string `json:"disputeId" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	TriggeredBy string `json:"triggeredBy"`
}

// FreezeEscrow handles POST /v1/escrows/:id/freeze.
func (h *Handler) FreezeEscrow(c *gin.Context) {
	var req FreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "disputeId and reason are required",
		})
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "system"
	}

	acct, err := h.manager.Freeze(c.Request.Context(), c.Param("id"), req.DisputeID, req.Reason, req.TriggeredBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// AdjustRequest contains the arbitrated payout for a frozen escrow.
type AdjustRequest struct {
	PayoutCents int64  `json:"payoutCents"`
	Notes       string `json:"notes"`
	ResolvedBy  string `json:"resolvedBy" binding:"required"`
}

// AdjustEscrow handles POST /v1/escrows/:id/adjust.
func (h *Handler) AdjustEscrow(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolvedBy is required",
		})
		return
	}

	acct, err := h.manager.Adjust(c.Request.Context(), c.Param("id"), req.PayoutCents, req.Notes, req.ResolvedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// CloseEscrow handles POST /v1/escrows/:id/close (manual settlement).
func (h *Handler) CloseEscrow(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if req.TriggeredBy == "" {
		req.TriggeredBy = "system"
	}

	acct, err := h.manager.Close(c.Request.Context(), c.Param("id"), req.TriggeredBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// respondError maps domain errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEscrowNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Escrow not found",
		})
	case errors.Is(err, ErrDuplicateBooking):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_booking",
			"message": "An escrow already exists for this booking",
		})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvariant):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "invariant_violated",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Operation failed",
		})
	}
}
