package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"kiosk/internal/domain"
)

// CatalogLister lists preset donation items.
type CatalogLister interface {
	List(ctx context.Context) ([]domain.CatalogItem, error)
}

// CatalogHandler handles HTTP requests for the donation catalog.
type CatalogHandler struct {
	catalog CatalogLister
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(catalog CatalogLister) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// CatalogItemResponse is one preset donation amount.
type CatalogItemResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// GetAll handles GET /v1/catalog
func (h *CatalogHandler) GetAll(c *gin.Context) {
	items, err := h.catalog.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]CatalogItemResponse, 0, len(items))
	for _, item := range items {
		response = append(response, CatalogItemResponse{
			ID:          item.ID,
			Name:        item.Name,
			AmountCents: item.AmountCents,
			Currency:    item.Currency,
		})
	}
	respondJSON(c, http.StatusOK, response)
}
