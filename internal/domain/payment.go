package domain

import "time"

// PaymentState represents the current state of a donation attempt.
type PaymentState string

const (
	PaymentStateReady         PaymentState = "READY"
	PaymentStateCreatingOrder PaymentState = "CREATING_ORDER"
	PaymentStateCapturing     PaymentState = "CAPTURING"
	PaymentStateCompleted     PaymentState = "COMPLETED"
	PaymentStateCancelled     PaymentState = "CANCELLED"
	PaymentStateFailed        PaymentState = "FAILED"
)

// Terminal reports whether no further automatic transition can occur.
func (s PaymentState) Terminal() bool {
	switch s {
	case PaymentStateCompleted, PaymentStateCancelled, PaymentStateFailed:
		return true
	}
	return false
}

// PaymentAttempt is one donation attempt driven through order creation and capture.
type PaymentAttempt struct {
	ID             string
	ReferenceID    string // Client-generated idempotency id sent with the order
	AmountCents    int64
	Currency       string
	IsCustomAmount bool
	CatalogItemID  string
	AllowOffline   bool
	OrderID        string
	TransactionID  string
	Provisional    bool // Capture was queued offline and awaits network confirmation
	State          PaymentState
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Outcome is the terminal result of a payment attempt.
type Outcome struct {
	AttemptID     string
	State         PaymentState
	TransactionID string
	Provisional   bool
	Err           error
}

// Success reports whether the donation was captured.
func (o Outcome) Success() bool {
	return o.State == PaymentStateCompleted
}

// CaptureStatus is the SDK's classification of a capture result.
type CaptureStatus string

const (
	CaptureSucceeded     CaptureStatus = "SUCCEEDED"
	CaptureQueuedOffline CaptureStatus = "QUEUED_OFFLINE"
	CaptureCancelled     CaptureStatus = "CANCELLED"
	CaptureFailed        CaptureStatus = "FAILED"
)

// CaptureRequest is passed to the native SDK to charge a card.
type CaptureRequest struct {
	AmountCents   int64
	Currency      string
	OrderID       string
	CatalogItemID string // Used only by the direct capture flow
	ReferenceID   string
	AllowOffline  bool
}

// CaptureResult is delivered by the SDK exactly once per capture.
type CaptureResult struct {
	Status        CaptureStatus
	TransactionID string
	Reason        string
}
