package gateway

// AuthorizationStatus is the backend's view of a pending authorization.
type AuthorizationStatus string

const (
	AuthorizationPending    AuthorizationStatus = "pending"
	AuthorizationAuthorized AuthorizationStatus = "authorized"
	AuthorizationRejected   AuthorizationStatus = "rejected"
)

// AuthorizationCheck is the result of an authorization status check.
type AuthorizationCheck struct {
	Status      AuthorizationStatus `json:"status"`
	AccessToken string              `json:"access_token,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

// LineItem is an order line on the wire.
type LineItem struct {
	CatalogObjectID string `json:"catalog_object_id,omitempty"`
	Name            string `json:"name,omitempty"`
	AmountCents     int64  `json:"amount_cents,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`
}

// CreateOrderRequest is the body of an order creation call.
type CreateOrderRequest struct {
	ReferenceID    string     `json:"reference_id"`
	OrganizationID string     `json:"organization_id"`
	LineItems      []LineItem `json:"line_items"`
}

// CreateOrderResponse is returned by a successful order creation.
type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
}

// CatalogItem is a preset donation item on the wire.
type CatalogItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// SendReceiptRequest is the body of a receipt email call.
type SendReceiptRequest struct {
	OrderID       string `json:"order_id,omitempty"`
	TransactionID string `json:"transaction_id"`
	Email         string `json:"email"`
}

type authorizeURLResponse struct {
	URL string `json:"url"`
}

type catalogResponse struct {
	Items []CatalogItem `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}
