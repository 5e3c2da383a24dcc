package domain

import "time"

// AuthorizationStatus represents the current status of an authorization session.
type AuthorizationStatus string

const (
	AuthorizationStatusIdle                     AuthorizationStatus = "IDLE"
	AuthorizationStatusAwaitingExternalCallback AuthorizationStatus = "AWAITING_EXTERNAL_CALLBACK"
	AuthorizationStatusConfirming               AuthorizationStatus = "CONFIRMING"
	AuthorizationStatusPolling                  AuthorizationStatus = "POLLING"
	AuthorizationStatusAuthorized               AuthorizationStatus = "AUTHORIZED"
	AuthorizationStatusFailed                   AuthorizationStatus = "FAILED"
)

// InProgress reports whether an authorization attempt is still running.
func (s AuthorizationStatus) InProgress() bool {
	switch s {
	case AuthorizationStatusAwaitingExternalCallback, AuthorizationStatusConfirming, AuthorizationStatusPolling:
		return true
	}
	return false
}

// AuthorizationSession is the kiosk's OAuth session with the payment platform.
type AuthorizationSession struct {
	PendingState   string // Correlation token for the live attempt, empty when none is live
	AccessToken    string
	OrganizationID string
	Status         AuthorizationStatus
	LastError      string
	StartedAt      time.Time
	AuthorizedAt   time.Time
}

// Authorized reports whether the session holds a confirmed access token.
func (s AuthorizationSession) Authorized() bool {
	return s.Status == AuthorizationStatusAuthorized && s.AccessToken != ""
}
