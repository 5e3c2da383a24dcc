package events

import (
	"time"

	"kiosk/internal/domain"
)

// Topic identifies a kind of session event.
type Topic string

const (
	TopicAuthorizationChanged Topic = "AUTHORIZATION_CHANGED"
	TopicSessionExpired       Topic = "SESSION_EXPIRED"
	TopicReaderStatusChanged  Topic = "READER_STATUS_CHANGED"
	TopicPaymentStateChanged  Topic = "PAYMENT_STATE_CHANGED"
	TopicPaymentCompleted     Topic = "PAYMENT_COMPLETED"
)

// Event is anything published on the bus.
type Event interface {
	Topic() Topic
}

// AuthorizationChanged is published on every authorization session transition.
type AuthorizationChanged struct {
	Status         domain.AuthorizationStatus
	OrganizationID string
	AccessToken    string
	Error          string
	At             time.Time
}

// Topic returns TopicAuthorizationChanged.
func (AuthorizationChanged) Topic() Topic { return TopicAuthorizationChanged }

// Authorized reports whether the session is usable for authenticated calls.
func (e AuthorizationChanged) Authorized() bool {
	return e.Status == domain.AuthorizationStatusAuthorized && e.AccessToken != ""
}

// SessionExpired asks the authorization manager to drop the session.
type SessionExpired struct {
	Reason string
	At     time.Time
}

// Topic returns TopicSessionExpired.
func (SessionExpired) Topic() Topic { return TopicSessionExpired }

// ReaderStatusChanged carries a snapshot of the reader connection state.
type ReaderStatusChanged struct {
	Status  domain.ConnectionStatus
	Devices []domain.ReaderDevice
	At      time.Time
}

// Topic returns TopicReaderStatusChanged.
func (ReaderStatusChanged) Topic() Topic { return TopicReaderStatusChanged }

// PaymentStateChanged is published on every payment attempt transition.
type PaymentStateChanged struct {
	Attempt domain.PaymentAttempt
	At      time.Time
}

// Topic returns TopicPaymentStateChanged.
func (PaymentStateChanged) Topic() Topic { return TopicPaymentStateChanged }

// PaymentCompleted is published once per attempt when it reaches a terminal state.
type PaymentCompleted struct {
	Outcome     domain.Outcome
	AmountCents int64
	Currency    string
	At          time.Time
}

// Topic returns TopicPaymentCompleted.
func (PaymentCompleted) Topic() Topic { return TopicPaymentCompleted }
