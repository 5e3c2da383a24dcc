package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"kiosk/internal/domain"
	"kiosk/internal/events"
	"kiosk/internal/gateway"
	"kiosk/internal/repository"
)

// PaymentFlow selects how a donation is captured.
type PaymentFlow string

const (
	// FlowOrder creates a backend order first and captures against it.
	FlowOrder PaymentFlow = "order"
	// FlowDirect captures with the catalog reference and no order.
	FlowDirect PaymentFlow = "direct"
)

const (
	defaultCurrency     = "USD"
	defaultOrderTimeout = 15 * time.Second
	defaultLockTTL      = 5 * time.Minute
	journalTimeout      = 3 * time.Second
	adHocLineItemName   = "Donation"
)

// PaymentConfig configures the payment transaction manager.
type PaymentConfig struct {
	Flow         PaymentFlow
	Currency     string
	TerminalID   string
	OrderTimeout time.Duration
	LockTTL      time.Duration
}

// DonationRequest describes the amount a donor picked.
type DonationRequest struct {
	AmountCents    int64
	Currency       string
	CatalogItemID  string
	IsCustomAmount bool
	AllowOffline   bool
}

// Validate checks the amount and that a catalog item is not combined with a custom amount.
func (r DonationRequest) Validate() error {
	if r.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	if r.IsCustomAmount && r.CatalogItemID != "" {
		return ErrConflictingLineItem
	}
	return nil
}

// PaymentTransactionManager drives one donation at a time through order
// creation and card capture.
type PaymentTransactionManager struct {
	cfg     PaymentConfig
	orders  OrderGateway
	sdk     PaymentSDK
	journal repository.AttemptRepository
	lock    TerminalLock
	bus     *events.Bus
	logger  *slog.Logger

	mu              sync.Mutex
	attempt         *domain.PaymentAttempt
	onComplete      func(domain.Outcome)
	cancelOrder     context.CancelFunc
	locked          bool
	token           string
	organizationID  string
	readerConnected bool

	unsubscribe []func()
}

// PaymentOption configures optional collaborators of the payment manager.
type PaymentOption func(*PaymentTransactionManager)

// WithJournal records every attempt transition in repo.
func WithJournal(repo repository.AttemptRepository) PaymentOption {
	return func(m *PaymentTransactionManager) { m.journal = repo }
}

// WithTerminalLock makes Start hold lock for the configured terminal while an attempt runs.
func WithTerminalLock(lock TerminalLock) PaymentOption {
	return func(m *PaymentTransactionManager) { m.lock = lock }
}

// NewPaymentTransactionManager creates a new PaymentTransactionManager. It keeps
// its own copy of the session and reader status from the bus.
func NewPaymentTransactionManager(cfg PaymentConfig, orders OrderGateway, sdk PaymentSDK, bus *events.Bus, logger *slog.Logger, opts ...PaymentOption) *PaymentTransactionManager {
	if cfg.Flow == "" {
		cfg.Flow = FlowOrder
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = defaultOrderTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &PaymentTransactionManager{
		cfg:    cfg,
		orders: orders,
		sdk:    sdk,
		bus:    bus,
		logger: logger.With(slog.String("component", "payment")),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.unsubscribe = []func(){
		events.On(bus, m.onAuthorizationChanged),
		events.On(bus, m.onReaderStatusChanged),
	}
	return m
}

// Close detaches the manager from the bus.
func (m *PaymentTransactionManager) Close() {
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}
}

// Current returns a copy of the current attempt.
func (m *PaymentTransactionManager) Current() (domain.PaymentAttempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt == nil {
		return domain.PaymentAttempt{}, false
	}
	return *m.attempt, true
}

// Lookup returns the live attempt with the given id or falls back to the journal.
func (m *PaymentTransactionManager) Lookup(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
	m.mu.Lock()
	if m.attempt != nil && m.attempt.ID == id {
		a := *m.attempt
		m.mu.Unlock()
		return &a, nil
	}
	m.mu.Unlock()

	if m.journal == nil {
		return nil, ErrNoAttempt
	}
	a, err := m.journal.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoAttempt
	}
	return a, err
}

// History lists journaled attempts, newest first.
func (m *PaymentTransactionManager) History(ctx context.Context, limit int) ([]*domain.PaymentAttempt, error) {
	if m.journal == nil {
		return nil, nil
	}
	return m.journal.List(ctx, limit)
}

// NewAttempt validates req and makes it the current attempt in Ready. A
// finished attempt is replaced; a running one is left untouched.
func (m *PaymentTransactionManager) NewAttempt(req DonationRequest) (domain.PaymentAttempt, error) {
	if err := req.Validate(); err != nil {
		return domain.PaymentAttempt{}, err
	}
	currency := req.Currency
	if currency == "" {
		currency = m.cfg.Currency
	}

	m.mu.Lock()
	if m.attempt != nil && !m.attempt.State.Terminal() {
		m.mu.Unlock()
		return domain.PaymentAttempt{}, ErrAlreadyInProgress
	}

	now := time.Now()
	m.attempt = &domain.PaymentAttempt{
		ID:             uuid.NewString(),
		ReferenceID:    uuid.NewString(),
		AmountCents:    req.AmountCents,
		Currency:       currency,
		IsCustomAmount: req.IsCustomAmount,
		CatalogItemID:  req.CatalogItemID,
		AllowOffline:   req.AllowOffline,
		State:          domain.PaymentStateReady,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.onComplete = nil
	m.enqueueLocked()
	a := *m.attempt
	m.mu.Unlock()
	m.bus.Flush()

	m.record(a)
	m.logger.Info("donation attempt created",
		slog.String("attempt_id", a.ID),
		slog.Int64("amount_cents", a.AmountCents),
		slog.String("catalog_item_id", a.CatalogItemID))
	return a, nil
}

// Start runs the current attempt asynchronously. onComplete is called exactly
// once with the terminal outcome.
func (m *PaymentTransactionManager) Start(ctx context.Context, onComplete func(domain.Outcome)) error {
	m.mu.Lock()
	id, err := m.startableLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.acquireTerminal(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.attempt == nil || m.attempt.ID != id {
		m.mu.Unlock()
		m.releaseTerminal()
		return ErrAlreadyInProgress
	}
	if _, err := m.startableLocked(); err != nil {
		m.mu.Unlock()
		m.releaseTerminal()
		return err
	}
	m.locked = m.lock != nil
	m.onComplete = onComplete
	token, org := m.token, m.organizationID

	// The flow outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)

	m.logger.Info("donation started", slog.String("attempt_id", id), slog.String("flow", string(m.cfg.Flow)))
	if m.cfg.Flow == FlowDirect {
		m.captureLocked(runCtx)
		return nil
	}

	orderCtx, cancel := context.WithTimeout(runCtx, m.cfg.OrderTimeout)
	m.cancelOrder = cancel
	m.transitionLocked(domain.PaymentStateCreatingOrder)
	a := *m.attempt
	m.mu.Unlock()
	m.bus.Flush()
	m.record(a)

	go m.createOrder(orderCtx, cancel, a, token, org)
	return nil
}

// Donate creates a new attempt and starts it. An attempt that could not be
// started is dropped so the donor can retry once the precondition is met.
func (m *PaymentTransactionManager) Donate(ctx context.Context, req DonationRequest, onComplete func(domain.Outcome)) (domain.PaymentAttempt, error) {
	a, err := m.NewAttempt(req)
	if err != nil {
		return domain.PaymentAttempt{}, err
	}
	if err := m.Start(ctx, onComplete); err != nil {
		m.discard(a.ID)
		return a, err
	}
	current, _ := m.Current()
	return current, nil
}

// discard forgets attempt id if it never left Ready.
func (m *PaymentTransactionManager) discard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt == nil || m.attempt.ID != id || m.attempt.State != domain.PaymentStateReady {
		return
	}
	m.attempt = nil
	m.onComplete = nil
	m.logger.Debug("dropped attempt that could not start", slog.String("attempt_id", id))
}

// Cancel abandons the current attempt before capture. It fails with
// ErrCaptureInFlight once the card reader is engaged and is a no-op for a
// finished attempt.
func (m *PaymentTransactionManager) Cancel() error {
	m.mu.Lock()
	if m.attempt == nil {
		m.mu.Unlock()
		return ErrNoAttempt
	}

	switch m.attempt.State {
	case domain.PaymentStateCapturing:
		m.mu.Unlock()
		return ErrCaptureInFlight
	case domain.PaymentStateReady, domain.PaymentStateCreatingOrder:
		c := m.cancelLocked()
		m.mu.Unlock()
		m.deliver(c)
		return nil
	default:
		m.mu.Unlock()
		return nil
	}
}

// Reset clears the current attempt, cancelling it first when it has not
// reached the reader.
func (m *PaymentTransactionManager) Reset() error {
	m.mu.Lock()
	if m.attempt == nil {
		m.mu.Unlock()
		return nil
	}

	var c *completion
	switch m.attempt.State {
	case domain.PaymentStateCapturing:
		m.mu.Unlock()
		return ErrCaptureInFlight
	case domain.PaymentStateReady, domain.PaymentStateCreatingOrder:
		c = m.cancelLocked()
	}
	m.attempt = nil
	m.onComplete = nil
	m.mu.Unlock()

	if c != nil {
		m.deliver(c)
	}
	m.logger.Debug("payment manager reset")
	return nil
}

func (m *PaymentTransactionManager) startableLocked() (string, error) {
	if m.attempt == nil {
		return "", ErrNoAttempt
	}
	switch m.attempt.State {
	case domain.PaymentStateReady:
	case domain.PaymentStateCreatingOrder, domain.PaymentStateCapturing:
		return "", ErrAlreadyInProgress
	default:
		return "", ErrAttemptFinished
	}
	if m.token == "" {
		return "", ErrNotAuthorized
	}
	return m.attempt.ID, nil
}

func (m *PaymentTransactionManager) createOrder(ctx context.Context, cancel context.CancelFunc, a domain.PaymentAttempt, token, org string) {
	defer cancel()

	resp, err := m.orders.CreateOrder(ctx, token, gateway.CreateOrderRequest{
		ReferenceID:    a.ReferenceID,
		OrganizationID: org,
		LineItems:      lineItems(a),
	})

	m.mu.Lock()
	if m.attempt == nil || m.attempt.ID != a.ID || m.attempt.State != domain.PaymentStateCreatingOrder {
		m.mu.Unlock()
		m.logger.Debug("ignoring order result for abandoned attempt", slog.String("attempt_id", a.ID))
		return
	}
	m.cancelOrder = nil

	if err != nil {
		if gateway.IsUnauthorized(err) {
			m.bus.Enqueue(events.SessionExpired{Reason: "order creation unauthorized", At: time.Now()})
		}
		m.logger.Warn("order creation failed", slog.String("attempt_id", a.ID), slog.Any("err", err))
		c := m.finishLocked(domain.PaymentStateFailed, classifyBackendError(err))
		m.mu.Unlock()
		m.deliver(c)
		return
	}

	m.attempt.OrderID = resp.OrderID
	m.captureLocked(context.WithoutCancel(ctx))
}

// captureLocked hands the attempt to the reader. It must be called with m.mu
// held and releases it.
func (m *PaymentTransactionManager) captureLocked(ctx context.Context) {
	if !m.readerConnected {
		c := m.finishLocked(domain.PaymentStateFailed, ErrDeviceUnavailable)
		m.mu.Unlock()
		m.deliver(c)
		return
	}

	m.transitionLocked(domain.PaymentStateCapturing)
	a := *m.attempt
	m.mu.Unlock()
	m.bus.Flush()
	m.record(a)

	req := domain.CaptureRequest{
		AmountCents:  a.AmountCents,
		Currency:     a.Currency,
		OrderID:      a.OrderID,
		ReferenceID:  a.ReferenceID,
		AllowOffline: a.AllowOffline,
	}
	if m.cfg.Flow == FlowDirect {
		req.CatalogItemID = a.CatalogItemID
	}

	m.sdk.Capture(ctx, req, func(res domain.CaptureResult) {
		m.finishCapture(a.ID, res)
	})
}

func (m *PaymentTransactionManager) finishCapture(id string, res domain.CaptureResult) {
	m.mu.Lock()
	if m.attempt == nil || m.attempt.ID != id || m.attempt.State != domain.PaymentStateCapturing {
		m.mu.Unlock()
		m.logger.Warn("ignoring capture result for inactive attempt", slog.String("attempt_id", id))
		return
	}

	var c *completion
	switch {
	case res.Status == domain.CaptureQueuedOffline && !m.attempt.AllowOffline:
		c = m.finishLocked(domain.PaymentStateFailed, fmt.Errorf("%w: queued offline but offline payments are not allowed", ErrCaptureFailed))
	case (res.Status == domain.CaptureSucceeded || res.Status == domain.CaptureQueuedOffline) && res.TransactionID != "":
		m.attempt.TransactionID = res.TransactionID
		m.attempt.Provisional = res.Status == domain.CaptureQueuedOffline
		c = m.finishLocked(domain.PaymentStateCompleted, nil)
	case res.Status == domain.CaptureCancelled:
		c = m.finishLocked(domain.PaymentStateCancelled, ErrUserCancelled)
	default:
		reason := res.Reason
		if reason == "" {
			reason = string(res.Status)
		}
		if res.TransactionID == "" && res.Status != domain.CaptureFailed {
			reason = "capture reported without transaction id"
		}
		c = m.finishLocked(domain.PaymentStateFailed, fmt.Errorf("%w: %s", ErrCaptureFailed, reason))
	}
	m.mu.Unlock()
	m.deliver(c)
}

func (m *PaymentTransactionManager) cancelLocked() *completion {
	if m.cancelOrder != nil {
		m.cancelOrder()
		m.cancelOrder = nil
	}
	return m.finishLocked(domain.PaymentStateCancelled, ErrUserCancelled)
}

// completion carries what must happen after a terminal transition once the
// lock is released.
type completion struct {
	callback func(domain.Outcome)
	outcome  domain.Outcome
	attempt  domain.PaymentAttempt
	release  bool
}

// finishLocked moves the attempt to a terminal state and detaches its
// completion callback so it can fire only once.
func (m *PaymentTransactionManager) finishLocked(state domain.PaymentState, err error) *completion {
	if err != nil {
		m.attempt.Error = err.Error()
	}
	m.transitionLocked(state)

	outcome := domain.Outcome{
		AttemptID:     m.attempt.ID,
		State:         state,
		TransactionID: m.attempt.TransactionID,
		Provisional:   m.attempt.Provisional,
		Err:           err,
	}
	m.bus.Enqueue(events.PaymentCompleted{
		Outcome:     outcome,
		AmountCents: m.attempt.AmountCents,
		Currency:    m.attempt.Currency,
		At:          time.Now(),
	})

	c := &completion{
		callback: m.onComplete,
		outcome:  outcome,
		attempt:  *m.attempt,
		release:  m.locked,
	}
	m.onComplete = nil
	m.locked = false
	return c
}

func (m *PaymentTransactionManager) deliver(c *completion) {
	m.bus.Flush()
	m.record(c.attempt)
	if c.release {
		m.releaseTerminal()
	}
	if c.callback != nil {
		c.callback(c.outcome)
	}

	logger := m.logger.With(slog.String("attempt_id", c.outcome.AttemptID), slog.String("state", string(c.outcome.State)))
	switch c.outcome.State {
	case domain.PaymentStateCompleted:
		logger.Info("donation completed", slog.String("transaction_id", c.outcome.TransactionID), slog.Bool("provisional", c.outcome.Provisional))
	case domain.PaymentStateCancelled:
		logger.Info("donation cancelled")
	default:
		logger.Warn("donation failed", slog.Any("err", c.outcome.Err))
	}
}

func (m *PaymentTransactionManager) transitionLocked(state domain.PaymentState) {
	m.attempt.State = state
	m.attempt.UpdatedAt = time.Now()
	m.enqueueLocked()
}

func (m *PaymentTransactionManager) enqueueLocked() {
	m.bus.Enqueue(events.PaymentStateChanged{Attempt: *m.attempt, At: time.Now()})
}

// record journals a copy of the attempt. Failures never affect the donor flow.
func (m *PaymentTransactionManager) record(a domain.PaymentAttempt) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := m.journal.Save(ctx, &a); err != nil {
		m.logger.Error("failed to journal attempt", slog.String("attempt_id", a.ID), slog.Any("err", err))
	}
}

func (m *PaymentTransactionManager) acquireTerminal(ctx context.Context) error {
	if m.lock == nil {
		return nil
	}
	ok, err := m.lock.AcquireTerminalLock(ctx, m.cfg.TerminalID, m.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire terminal lock: %w", err)
	}
	if !ok {
		return ErrAlreadyInProgress
	}
	return nil
}

func (m *PaymentTransactionManager) releaseTerminal() {
	if m.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := m.lock.ReleaseTerminalLock(ctx, m.cfg.TerminalID); err != nil {
		m.logger.Error("failed to release terminal lock", slog.Any("err", err))
	}
}

func (m *PaymentTransactionManager) onAuthorizationChanged(e events.AuthorizationChanged) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Authorized() {
		m.token = e.AccessToken
		m.organizationID = e.OrganizationID
		return
	}
	m.token = ""
	m.organizationID = ""
}

func (m *PaymentTransactionManager) onReaderStatusChanged(e events.ReaderStatusChanged) {
	m.mu.Lock()
	m.readerConnected = e.Status.Connected()
	m.mu.Unlock()
}

// lineItems builds the order lines: the catalog item when one was picked,
// otherwise an ad-hoc donation line with the raw amount.
func lineItems(a domain.PaymentAttempt) []gateway.LineItem {
	if a.CatalogItemID != "" {
		return []gateway.LineItem{{CatalogObjectID: a.CatalogItemID, Quantity: 1}}
	}
	return []gateway.LineItem{{
		Name:        adHocLineItemName,
		AmountCents: a.AmountCents,
		Currency:    a.Currency,
		Quantity:    1,
	}}
}
