package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"kiosk/internal/domain"
	"kiosk/internal/events"
	"kiosk/internal/gateway"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultPollTimeout  = 30 * time.Second
	deepLinkHost        = "oauth-callback"
)

// AuthConfig configures the authorization session manager.
type AuthConfig struct {
	OrganizationID string
	CallbackScheme string        // Custom URI scheme of the deep link, e.g. "kioskdonate"
	PollInterval   time.Duration // 0 uses 500ms
	PollTimeout    time.Duration // 0 uses 30s
}

// AuthSessionManager owns the OAuth lifecycle of the kiosk.
type AuthSessionManager struct {
	cfg       AuthConfig
	gateway   AuthGateway
	userAgent UserAgent
	bus       *events.Bus
	logger    *slog.Logger

	mu          sync.Mutex
	session     domain.AuthorizationSession
	stopPolling context.CancelFunc
	pollDone    chan struct{}

	unsubscribe func()
}

// NewAuthSessionManager creates a new AuthSessionManager and subscribes it to
// forced-logout events.
func NewAuthSessionManager(cfg AuthConfig, gw AuthGateway, ua UserAgent, bus *events.Bus, logger *slog.Logger) *AuthSessionManager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &AuthSessionManager{
		cfg:       cfg,
		gateway:   gw,
		userAgent: ua,
		bus:       bus,
		logger:    logger.With(slog.String("component", "auth")),
		session: domain.AuthorizationSession{
			OrganizationID: cfg.OrganizationID,
			Status:         domain.AuthorizationStatusIdle,
		},
	}
	m.unsubscribe = events.On(bus, func(e events.SessionExpired) {
		m.expire(e.Reason)
	})
	return m
}

// Close stops polling and detaches the manager from the bus.
func (m *AuthSessionManager) Close() {
	m.unsubscribe()
	m.mu.Lock()
	m.cancelPollingLocked()
	m.mu.Unlock()
}

// Session returns a snapshot of the current session.
func (m *AuthSessionManager) Session() domain.AuthorizationSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Begin starts a new authorization attempt and hands the authorization URL to
// the external user agent.
func (m *AuthSessionManager) Begin(ctx context.Context) (domain.AuthorizationSession, error) {
	m.mu.Lock()
	if m.session.Status.InProgress() {
		snapshot := m.session
		m.mu.Unlock()
		return snapshot, ErrAlreadyInProgress
	}

	m.cancelPollingLocked()
	state := uuid.NewString()
	m.session = domain.AuthorizationSession{
		PendingState:   state,
		OrganizationID: m.cfg.OrganizationID,
		Status:         domain.AuthorizationStatusAwaitingExternalCallback,
		StartedAt:      time.Now(),
	}
	m.enqueueLocked()
	m.mu.Unlock()
	m.bus.Flush()

	m.logger.Info("authorization started", slog.String("organization_id", m.cfg.OrganizationID))

	authURL, err := m.gateway.AuthorizationURL(ctx, m.cfg.OrganizationID, state)
	if err != nil {
		err = classifyBackendError(err)
		m.fail(state, err)
		return m.Session(), err
	}

	if err := m.userAgent.Open(authURL); err != nil {
		err = fmt.Errorf("open authorization page: %w", err)
		m.fail(state, err)
		return m.Session(), err
	}

	return m.Session(), nil
}

// HandleCallback processes a deep-link delivery. It returns false when the
// callback does not belong to the live attempt and was ignored.
func (m *AuthSessionManager) HandleCallback(ctx context.Context, receivedState string, success bool, errMsg string) bool {
	m.mu.Lock()
	if !m.isLiveLocked(receivedState) {
		m.mu.Unlock()
		m.logger.Debug("ignoring stale authorization callback")
		return false
	}

	if !success {
		m.mu.Unlock()
		if errMsg == "" {
			errMsg = "authorization declined"
		}
		m.fail(receivedState, fmt.Errorf("%w: %s", ErrBackendRejected, errMsg))
		return true
	}

	// The deep link alone does not prove the backend issued a token.
	m.cancelPollingLocked()
	m.session.Status = domain.AuthorizationStatusConfirming
	m.enqueueLocked()
	m.mu.Unlock()
	m.bus.Flush()

	m.confirm(ctx, receivedState)
	return true
}

// HandleDeepLink parses a callback URI and routes it to HandleCallback.
func (m *AuthSessionManager) HandleDeepLink(ctx context.Context, rawURL string) (bool, error) {
	link, err := ParseDeepLink(rawURL, m.cfg.CallbackScheme)
	if err != nil {
		return false, err
	}
	return m.HandleCallback(ctx, link.State, link.Success, link.Error), nil
}

// PollForAuthorization starts polling the backend for the live attempt. It is
// used when the user agent was dismissed without a callback being observed.
// Calling it while a loop is already running is a no-op.
func (m *AuthSessionManager) PollForAuthorization() error {
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		m.bus.Flush()
	}()

	switch m.session.Status {
	case domain.AuthorizationStatusPolling, domain.AuthorizationStatusConfirming:
		return nil
	case domain.AuthorizationStatusAwaitingExternalCallback:
		m.startPollingLocked(m.session.PendingState)
		return nil
	default:
		return ErrNoAttempt
	}
}

// Logout drops the session and any attempt in flight.
func (m *AuthSessionManager) Logout() {
	m.reset("")
	m.logger.Info("logged out")
}

// WaitPolling blocks until the current polling loop, if any, has exited.
func (m *AuthSessionManager) WaitPolling(ctx context.Context) error {
	m.mu.Lock()
	done := m.pollDone
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *AuthSessionManager) expire(reason string) {
	m.mu.Lock()
	authorized := m.session.Status == domain.AuthorizationStatusAuthorized
	m.mu.Unlock()
	if !authorized {
		return
	}
	m.logger.Warn("session expired, logging out", slog.String("reason", reason))
	m.reset(reason)
}

func (m *AuthSessionManager) reset(reason string) {
	m.mu.Lock()
	m.cancelPollingLocked()
	m.session = domain.AuthorizationSession{
		OrganizationID: m.cfg.OrganizationID,
		Status:         domain.AuthorizationStatusIdle,
		LastError:      reason,
	}
	m.enqueueLocked()
	m.mu.Unlock()
	m.bus.Flush()
}

func (m *AuthSessionManager) confirm(ctx context.Context, state string) {
	check, err := m.gateway.CheckAuthorization(ctx, m.cfg.OrganizationID, state)
	switch {
	case err != nil && errors.Is(err, gateway.ErrClient):
		m.fail(state, classifyBackendError(err))
	case err != nil:
		m.logger.Warn("authorization confirmation failed, falling back to polling", slog.Any("err", err))
		m.resumePolling(state)
	case check.Status == gateway.AuthorizationAuthorized:
		m.authorize(state, check.AccessToken)
	case check.Status == gateway.AuthorizationRejected:
		m.fail(state, rejected(check.Reason))
	default:
		m.resumePolling(state)
	}
}

func (m *AuthSessionManager) resumePolling(state string) {
	m.mu.Lock()
	if m.session.PendingState == state && m.session.Status == domain.AuthorizationStatusConfirming {
		m.startPollingLocked(state)
	}
	m.mu.Unlock()
	m.bus.Flush()
}

func (m *AuthSessionManager) startPollingLocked(state string) {
	m.cancelPollingLocked()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PollTimeout)
	done := make(chan struct{})
	m.stopPolling = cancel
	m.pollDone = done

	m.session.Status = domain.AuthorizationStatusPolling
	m.enqueueLocked()

	go m.poll(ctx, state, done)
}

func (m *AuthSessionManager) poll(ctx context.Context, state string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				m.logger.Warn("authorization polling timed out", slog.Int("attempts", attempts))
				m.fail(state, ErrAuthorizationTimeout)
			}
			return
		case <-ticker.C:
		}

		attempts++
		check, err := m.gateway.CheckAuthorization(ctx, m.cfg.OrganizationID, state)
		if ctx.Err() != nil {
			continue
		}

		switch {
		case err != nil && errors.Is(err, gateway.ErrClient):
			m.fail(state, classifyBackendError(err))
			return
		case err != nil:
			m.logger.Debug("authorization poll failed, retrying", slog.Any("err", err))
		case check.Status == gateway.AuthorizationAuthorized:
			m.authorize(state, check.AccessToken)
			return
		case check.Status == gateway.AuthorizationRejected:
			m.fail(state, rejected(check.Reason))
			return
		}
	}
}

// authorize moves the live attempt to Authorized. It reports whether the
// transition happened.
func (m *AuthSessionManager) authorize(state, token string) bool {
	m.mu.Lock()
	if state == "" || state != m.session.PendingState || !m.session.Status.InProgress() {
		m.mu.Unlock()
		return false
	}
	if token == "" {
		m.mu.Unlock()
		m.fail(state, rejected("authorized without access token"))
		return false
	}

	m.cancelPollingLocked()
	m.session.Status = domain.AuthorizationStatusAuthorized
	m.session.AccessToken = token
	m.session.PendingState = ""
	m.session.LastError = ""
	m.session.AuthorizedAt = time.Now()
	m.enqueueLocked()
	m.mu.Unlock()
	m.bus.Flush()

	m.logger.Info("authorization confirmed", slog.String("organization_id", m.cfg.OrganizationID))
	return true
}

func (m *AuthSessionManager) fail(state string, err error) {
	m.mu.Lock()
	if state == "" || state != m.session.PendingState {
		m.mu.Unlock()
		return
	}

	m.cancelPollingLocked()
	m.session.Status = domain.AuthorizationStatusFailed
	m.session.PendingState = ""
	m.session.AccessToken = ""
	m.session.LastError = err.Error()
	m.enqueueLocked()
	m.mu.Unlock()
	m.bus.Flush()

	m.logger.Warn("authorization failed", slog.Any("err", err))
}

// isLiveLocked reports whether state matches an attempt still waiting for a result.
func (m *AuthSessionManager) isLiveLocked(state string) bool {
	if state == "" || state != m.session.PendingState {
		return false
	}
	switch m.session.Status {
	case domain.AuthorizationStatusAwaitingExternalCallback, domain.AuthorizationStatusPolling:
		return true
	}
	return false
}

func (m *AuthSessionManager) cancelPollingLocked() {
	if m.stopPolling != nil {
		m.stopPolling()
		m.stopPolling = nil
	}
}

func (m *AuthSessionManager) enqueueLocked() {
	e := events.AuthorizationChanged{
		Status:         m.session.Status,
		OrganizationID: m.session.OrganizationID,
		Error:          m.session.LastError,
		At:             time.Now(),
	}
	if m.session.Status == domain.AuthorizationStatusAuthorized {
		e.AccessToken = m.session.AccessToken
	}
	m.bus.Enqueue(e)
}

func rejected(reason string) error {
	if reason == "" {
		reason = "authorization rejected"
	}
	return fmt.Errorf("%w: %s", ErrBackendRejected, reason)
}

// DeepLink is a parsed authorization callback URI.
type DeepLink struct {
	State   string
	Success bool
	Error   string
}

// ParseDeepLink parses "<scheme>://oauth-callback?state=...&success=...&error=...".
// An empty scheme accepts any scheme.
func ParseDeepLink(rawURL, scheme string) (DeepLink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DeepLink{}, fmt.Errorf("%w: %v", ErrInvalidDeepLink, err)
	}
	if scheme != "" && !strings.EqualFold(u.Scheme, scheme) {
		return DeepLink{}, fmt.Errorf("%w: unexpected scheme %q", ErrInvalidDeepLink, u.Scheme)
	}
	if u.Host != deepLinkHost && strings.Trim(u.Path, "/") != deepLinkHost {
		return DeepLink{}, fmt.Errorf("%w: unexpected target %q", ErrInvalidDeepLink, u.Host+u.Path)
	}

	q := u.Query()
	link := DeepLink{
		State: q.Get("state"),
		Error: q.Get("error"),
	}
	if v := q.Get("success"); v != "" {
		link.Success, _ = strconv.ParseBool(v)
	}
	if link.State == "" {
		return DeepLink{}, fmt.Errorf("%w: missing state", ErrInvalidDeepLink)
	}
	return link, nil
}
