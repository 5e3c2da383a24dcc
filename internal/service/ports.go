package service

import (
	"context"
	"time"

	"kiosk/internal/domain"
	"kiosk/internal/gateway"
)

// AuthGateway is the backend surface the authorization manager needs.
type AuthGateway interface {
	AuthorizationURL(ctx context.Context, organizationID, state string) (string, error)
	CheckAuthorization(ctx context.Context, organizationID, state string) (*gateway.AuthorizationCheck, error)
}

// OrderGateway is the backend surface the payment manager needs.
type OrderGateway interface {
	CreateOrder(ctx context.Context, token string, req gateway.CreateOrderRequest) (*gateway.CreateOrderResponse, error)
}

// CatalogGateway lists preset donation items.
type CatalogGateway interface {
	ListCatalog(ctx context.Context, token string) ([]gateway.CatalogItem, error)
}

// ReceiptGateway sends receipt emails.
type ReceiptGateway interface {
	SendReceipt(ctx context.Context, token string, req gateway.SendReceiptRequest) error
}

// UserAgent opens URLs outside the kiosk process, normally the system browser.
type UserAgent interface {
	Open(url string) error
}

// Permissions answers the device permission checks required before pairing.
type Permissions interface {
	BluetoothAvailable() bool
	LocationGranted() bool
}

// ReaderSDK is the native SDK surface for authorization and reader management.
// Observer callbacks may arrive on any goroutine.
type ReaderSDK interface {
	AuthorizationState() domain.SDKAuthorizationState
	ObserveAuthorization(fn func(domain.SDKAuthorizationState)) (cancel func())
	Authorize(ctx context.Context, accessToken, organizationID string) error
	Deauthorize(ctx context.Context) error

	ObserveDevices(fn func(domain.DeviceEvent)) (cancel func())
	Devices() []domain.ReaderDevice
	StartPairing(done func(error)) (domain.PairingHandle, error)
	Forget(serialNumber string) error
	CardInputMethods(serialNumber string) domain.CardInputMethods
}

// PaymentSDK charges cards through the connected reader. done is called exactly
// once, possibly on another goroutine.
type PaymentSDK interface {
	Capture(ctx context.Context, req domain.CaptureRequest, done func(domain.CaptureResult))
}

// TerminalLock ensures only one process drives a kiosk's reader at a time.
type TerminalLock interface {
	AcquireTerminalLock(ctx context.Context, terminalID string, ttl time.Duration) (bool, error)
	ReleaseTerminalLock(ctx context.Context, terminalID string) error
}
