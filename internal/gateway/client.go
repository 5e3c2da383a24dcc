package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every backend request.
const DefaultTimeout = 10 * time.Second

// Client is a stateless wrapper over the payment platform's REST surface.
type Client struct {
	base string
	http *http.Client
}

// New creates a Client for the backend at base. A nil hc gets DefaultTimeout.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// AuthorizationURL asks the backend for the URL the external user agent should open.
// The pending state token is embedded by the backend for later verification.
func (c *Client) AuthorizationURL(ctx context.Context, organizationID, state string) (string, error) {
	q := url.Values{}
	q.Set("organization_id", organizationID)
	q.Set("state", state)

	var resp authorizeURLResponse
	if err := c.do(ctx, "authorize-url", http.MethodGet, "/v1/oauth/authorize-url?"+q.Encode(), "", nil, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", &Error{Op: "authorize-url", StatusCode: http.StatusBadGateway, Reason: "empty url"}
	}
	return resp.URL, nil
}

// CheckAuthorization asks whether the pending state token has been authorized.
func (c *Client) CheckAuthorization(ctx context.Context, organizationID, state string) (*AuthorizationCheck, error) {
	q := url.Values{}
	q.Set("organization_id", organizationID)
	q.Set("state", state)

	var resp AuthorizationCheck
	if err := c.do(ctx, "authorization-status", http.MethodGet, "/v1/oauth/status?"+q.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		resp.Status = AuthorizationPending
	}
	return &resp, nil
}

// CreateOrder creates an order. It is never retried here: the reference id
// carried in req is what makes a caller-level retry safe.
func (c *Client) CreateOrder(ctx context.Context, token string, req CreateOrderRequest) (*CreateOrderResponse, error) {
	var resp CreateOrderResponse
	if err := c.do(ctx, "create-order", http.MethodPost, "/v1/orders", token, req, &resp); err != nil {
		return nil, err
	}
	if resp.OrderID == "" {
		return nil, &Error{Op: "create-order", StatusCode: http.StatusBadGateway, Reason: "empty order id"}
	}
	return &resp, nil
}

// ListCatalog returns the preset donation items.
func (c *Client) ListCatalog(ctx context.Context, token string) ([]CatalogItem, error) {
	var resp catalogResponse
	if err := c.do(ctx, "list-catalog", http.MethodGet, "/v1/catalog", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// SendReceipt asks the backend to email a receipt.
func (c *Client) SendReceipt(ctx context.Context, token string, req SendReceiptRequest) error {
	return c.do(ctx, "send-receipt", http.MethodPost, "/v1/receipts", token, req, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &Error{Op: op, StatusCode: resp.StatusCode, Reason: readReason(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, StatusCode: http.StatusBadGateway, Reason: "decode response: " + err.Error()}
	}
	return nil
}

// readReason extracts the server-supplied reason from an error body.
func readReason(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload errorResponse
	if err := json.Unmarshal(b, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(b))
}
