package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slog"

	"kiosk/internal/domain"
	"kiosk/internal/service"
)

// DonationService is the payment surface exposed over the local API.
type DonationService interface {
	Current() (domain.PaymentAttempt, bool)
	Lookup(ctx context.Context, id string) (*domain.PaymentAttempt, error)
	History(ctx context.Context, limit int) ([]*domain.PaymentAttempt, error)
	Donate(ctx context.Context, req service.DonationRequest, onComplete func(domain.Outcome)) (domain.PaymentAttempt, error)
	Cancel() error
	Reset() error
}

// ReceiptSender emails receipts for completed donations.
type ReceiptSender interface {
	Send(ctx context.Context, attemptID, email string) error
}

// DonationHandler handles HTTP requests for donations.
type DonationHandler struct {
	donations    DonationService
	receipts     ReceiptSender
	allowOffline bool
	logger       *slog.Logger
}

// NewDonationHandler creates a new DonationHandler. allowOffline is used when
// a request does not say whether the reader may queue the capture offline.
func NewDonationHandler(donations DonationService, receipts ReceiptSender, allowOffline bool, logger *slog.Logger) *DonationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DonationHandler{
		donations:    donations,
		receipts:     receipts,
		allowOffline: allowOffline,
		logger:       logger.With(slog.String("component", "donation_handler")),
	}
}

// CreateDonationRequest is the HTTP request body for starting a donation.
type CreateDonationRequest struct {
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency,omitempty"`
	CatalogItemID  string `json:"catalog_item_id,omitempty"`
	IsCustomAmount bool   `json:"is_custom_amount"`
	AllowOffline   *bool  `json:"allow_offline,omitempty"`
}

// ReceiptRequest is the HTTP request body for emailing a receipt.
type ReceiptRequest struct {
	Email string `json:"email"`
}

// AttemptResponse is the HTTP response for a donation attempt.
type AttemptResponse struct {
	ID             string `json:"id"`
	ReferenceID    string `json:"reference_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IsCustomAmount bool   `json:"is_custom_amount"`
	CatalogItemID  string `json:"catalog_item_id,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Provisional    bool   `json:"provisional"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toAttemptResponse(a domain.PaymentAttempt) AttemptResponse {
	return AttemptResponse{
		ID:             a.ID,
		ReferenceID:    a.ReferenceID,
		AmountCents:    a.AmountCents,
		Currency:       a.Currency,
		IsCustomAmount: a.IsCustomAmount,
		CatalogItemID:  a.CatalogItemID,
		OrderID:        a.OrderID,
		TransactionID:  a.TransactionID,
		Provisional:    a.Provisional,
		State:          string(a.State),
		Error:          a.Error,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}
}

// Create handles POST /v1/donations
func (h *DonationHandler) Create(c *gin.Context) {
	var req CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	allowOffline := h.allowOffline
	if req.AllowOffline != nil {
		allowOffline = *req.AllowOffline
	}

	attempt, err := h.donations.Donate(c.Request.Context(), service.DonationRequest{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		CatalogItemID:  req.CatalogItemID,
		IsCustomAmount: req.IsCustomAmount,
		AllowOffline:   allowOffline,
	}, h.logOutcome)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusAccepted, toAttemptResponse(attempt))
}

func (h *DonationHandler) logOutcome(o domain.Outcome) {
	attrs := []any{
		slog.String("attempt_id", o.AttemptID),
		slog.String("state", string(o.State)),
	}
	switch {
	case o.Success():
		attrs = append(attrs, slog.String("transaction_id", o.TransactionID), slog.Bool("provisional", o.Provisional))
		h.logger.Info("donation completed", attrs...)
	case o.State == domain.PaymentStateCancelled:
		h.logger.Info("donation cancelled", attrs...)
	default:
		attrs = append(attrs, slog.Any("err", o.Err))
		h.logger.Warn("donation failed", attrs...)
	}
}

// GetCurrent handles GET /v1/donations/current
func (h *DonationHandler) GetCurrent(c *gin.Context) {
	attempt, ok := h.donations.Current()
	if !ok {
		respondError(c, service.ErrNoAttempt)
		return
	}
	respondJSON(c, http.StatusOK, toAttemptResponse(attempt))
}

// Get handles GET /v1/donations/:id
func (h *DonationHandler) Get(c *gin.Context) {
	attempt, err := h.donations.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toAttemptResponse(*attempt))
}

// GetAll handles GET /v1/donations
func (h *DonationHandler) GetAll(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	attempts, err := h.donations.History(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		response = append(response, toAttemptResponse(*a))
	}
	respondJSON(c, http.StatusOK, response)
}

// Cancel handles POST /v1/donations/current/cancel
func (h *DonationHandler) Cancel(c *gin.Context) {
	if err := h.donations.Cancel(); err != nil {
		respondError(c, err)
		return
	}
	attempt, _ := h.donations.Current()
	respondJSON(c, http.StatusOK, toAttemptResponse(attempt))
}

// Reset handles POST /v1/donations/reset
func (h *DonationHandler) Reset(c *gin.Context) {
	if err := h.donations.Reset(); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendReceipt handles POST /v1/donations/:id/receipt
func (h *DonationHandler) SendReceipt(c *gin.Context) {
	var req ReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.receipts.Send(c.Request.Context(), c.Param("id"), req.Email); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusAccepted, gin.H{"status": "sent"})
}
