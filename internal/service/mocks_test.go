package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"kiosk/internal/domain"
	"kiosk/internal/gateway"
	"kiosk/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK AUTH GATEWAY
// ──────────────────────────────────────────────

// MockAuthGateway is a mock implementation of AuthGateway.
type MockAuthGateway struct {
	mu sync.Mutex

	URL      string
	URLError error

	// CheckFunc answers status checks; nil answers pending.
	CheckFunc func(call int) (*gateway.AuthorizationCheck, error)

	URLCallCount   int32
	CheckCallCount int32
	LastState      string
}

func (m *MockAuthGateway) AuthorizationURL(ctx context.Context, organizationID, state string) (string, error) {
	atomic.AddInt32(&m.URLCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastState = state
	if m.URLError != nil {
		return "", m.URLError
	}
	if m.URL == "" {
		return "https://backend.test/authorize?state=" + state, nil
	}
	return m.URL, nil
}

func (m *MockAuthGateway) CheckAuthorization(ctx context.Context, organizationID, state string) (*gateway.AuthorizationCheck, error) {
	call := int(atomic.AddInt32(&m.CheckCallCount, 1))
	m.mu.Lock()
	fn := m.CheckFunc
	m.mu.Unlock()
	if fn == nil {
		return &gateway.AuthorizationCheck{Status: gateway.AuthorizationPending}, nil
	}
	return fn(call)
}

// SetCheck replaces the status check behavior.
func (m *MockAuthGateway) SetCheck(fn func(call int) (*gateway.AuthorizationCheck, error)) {
	m.mu.Lock()
	m.CheckFunc = fn
	m.mu.Unlock()
}

// State returns the pending state of the last URL request.
func (m *MockAuthGateway) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastState
}

// ──────────────────────────────────────────────
// MOCK USER AGENT
// ──────────────────────────────────────────────

// MockUserAgent records opened URLs.
type MockUserAgent struct {
	mu     sync.Mutex
	Opened []string
	Err    error
}

func (m *MockUserAgent) Open(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Opened = append(m.Opened, url)
	return nil
}

// ──────────────────────────────────────────────
// MOCK PERMISSIONS
// ──────────────────────────────────────────────

// MockPermissions is a mock implementation of Permissions.
type MockPermissions struct {
	Bluetooth atomic.Bool
	Location  atomic.Bool
}

// NewMockPermissions creates permissions with everything granted.
func NewMockPermissions() *MockPermissions {
	p := &MockPermissions{}
	p.Bluetooth.Store(true)
	p.Location.Store(true)
	return p
}

func (m *MockPermissions) BluetoothAvailable() bool { return m.Bluetooth.Load() }
func (m *MockPermissions) LocationGranted() bool    { return m.Location.Load() }

// ──────────────────────────────────────────────
// MOCK READER SDK
// ──────────────────────────────────────────────

// MockReaderSDK is a mock implementation of ReaderSDK. Device events are
// delivered only when the test calls Emit.
type MockReaderSDK struct {
	mu        sync.Mutex
	authState domain.SDKAuthorizationState
	authObs   map[int]func(domain.SDKAuthorizationState)
	deviceObs map[int]func(domain.DeviceEvent)
	nextID    int
	devices   []domain.ReaderDevice
	pairings  []func(error)
	inputs    domain.CardInputMethods

	PairingError error
	ForgetError  error

	// AuthorizeBlock, when set, holds Authorize until it is closed or the
	// context ends.
	AuthorizeBlock chan struct{}
	// ObserveHook, when set, runs once inside the next ObserveDevices call.
	ObserveHook func()

	AuthorizeCallCount      int32
	DeauthorizeCallCount    int32
	StartPairingCallCount   int32
	StopPairingCallCount    int32
	InputMethodsCallCount   int32
	LastAuthorizedToken     string
	LastAuthorizedOrganizer string
}

// NewMockReaderSDK creates a new mock SDK in the given authorization state.
func NewMockReaderSDK(state domain.SDKAuthorizationState) *MockReaderSDK {
	return &MockReaderSDK{
		authState: state,
		authObs:   make(map[int]func(domain.SDKAuthorizationState)),
		deviceObs: make(map[int]func(domain.DeviceEvent)),
		inputs:    domain.NewCardInputMethods(domain.CardInputChip, domain.CardInputContactless),
	}
}

func (m *MockReaderSDK) AuthorizationState() domain.SDKAuthorizationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authState
}

func (m *MockReaderSDK) ObserveAuthorization(fn func(domain.SDKAuthorizationState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.authObs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.authObs, id)
		m.mu.Unlock()
	}
}

func (m *MockReaderSDK) Authorize(ctx context.Context, accessToken, organizationID string) error {
	atomic.AddInt32(&m.AuthorizeCallCount, 1)
	m.mu.Lock()
	block := m.AuthorizeBlock
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.LastAuthorizedToken = accessToken
	m.LastAuthorizedOrganizer = organizationID
	m.mu.Unlock()
	m.SetAuthState(domain.SDKAuthorized)
	return nil
}

func (m *MockReaderSDK) Deauthorize(ctx context.Context) error {
	atomic.AddInt32(&m.DeauthorizeCallCount, 1)
	m.SetAuthState(domain.SDKNotAuthorized)
	return nil
}

func (m *MockReaderSDK) ObserveDevices(fn func(domain.DeviceEvent)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.deviceObs[id] = fn
	hook := m.ObserveHook
	m.ObserveHook = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return func() {
		m.mu.Lock()
		delete(m.deviceObs, id)
		m.mu.Unlock()
	}
}

// AuthorizedToken returns the token of the last completed Authorize call.
func (m *MockReaderSDK) AuthorizedToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastAuthorizedToken
}

func (m *MockReaderSDK) Devices() []domain.ReaderDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ReaderDevice(nil), m.devices...)
}

func (m *MockReaderSDK) StartPairing(done func(error)) (domain.PairingHandle, error) {
	atomic.AddInt32(&m.StartPairingCallCount, 1)
	if m.PairingError != nil {
		return nil, m.PairingError
	}
	m.mu.Lock()
	m.pairings = append(m.pairings, done)
	m.mu.Unlock()
	return &mockPairingHandle{sdk: m}, nil
}

func (m *MockReaderSDK) Forget(serialNumber string) error {
	if m.ForgetError != nil {
		return m.ForgetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devices {
		if d.SerialNumber == serialNumber {
			m.devices = append(m.devices[:i:i], m.devices[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockReaderSDK) CardInputMethods(serialNumber string) domain.CardInputMethods {
	atomic.AddInt32(&m.InputMethodsCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs
}

// SetAuthState changes the SDK state and notifies observers.
func (m *MockReaderSDK) SetAuthState(state domain.SDKAuthorizationState) {
	m.mu.Lock()
	m.authState = state
	var observers []func(domain.SDKAuthorizationState)
	for _, fn := range m.authObs {
		observers = append(observers, fn)
	}
	m.mu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
}

// SetDevices replaces the SDK device list without emitting events.
func (m *MockReaderSDK) SetDevices(devices ...domain.ReaderDevice) {
	m.mu.Lock()
	m.devices = devices
	m.mu.Unlock()
}

// Emit delivers a device event to all observers.
func (m *MockReaderSDK) Emit(e domain.DeviceEvent) {
	m.mu.Lock()
	var observers []func(domain.DeviceEvent)
	for _, fn := range m.deviceObs {
		observers = append(observers, fn)
	}
	m.mu.Unlock()
	for _, fn := range observers {
		fn(e)
	}
}

// DeviceObservers returns the number of registered device observers.
func (m *MockReaderSDK) DeviceObservers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deviceObs)
}

// FinishPairing completes the i-th pairing attempt.
func (m *MockReaderSDK) FinishPairing(i int, err error) {
	m.mu.Lock()
	done := m.pairings[i]
	m.mu.Unlock()
	done(err)
}

type mockPairingHandle struct {
	sdk *MockReaderSDK
}

func (h *mockPairingHandle) Stop() {
	atomic.AddInt32(&h.sdk.StopPairingCallCount, 1)
}

// ──────────────────────────────────────────────
// MOCK PAYMENT SDK
// ──────────────────────────────────────────────

// MockPaymentSDK records captures. With Result set it answers immediately,
// otherwise the test completes the capture through Finish.
type MockPaymentSDK struct {
	mu       sync.Mutex
	Result   *domain.CaptureResult
	requests []domain.CaptureRequest
	pending  []func(domain.CaptureResult)

	CaptureCallCount int32
}

func (m *MockPaymentSDK) Capture(ctx context.Context, req domain.CaptureRequest, done func(domain.CaptureResult)) {
	atomic.AddInt32(&m.CaptureCallCount, 1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	res := m.Result
	if res == nil {
		m.pending = append(m.pending, done)
	}
	m.mu.Unlock()
	if res != nil {
		done(*res)
	}
}

// Finish delivers res to the i-th capture.
func (m *MockPaymentSDK) Finish(i int, res domain.CaptureResult) {
	m.mu.Lock()
	done := m.pending[i]
	m.mu.Unlock()
	done(res)
}

// Requests returns the capture requests seen so far.
func (m *MockPaymentSDK) Requests() []domain.CaptureRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CaptureRequest(nil), m.requests...)
}

// Pending returns the number of captures waiting for Finish.
func (m *MockPaymentSDK) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// ──────────────────────────────────────────────
// MOCK ORDER GATEWAY
// ──────────────────────────────────────────────

// MockOrderGateway is a mock implementation of OrderGateway. When Block is
// set, CreateOrder waits for it to close or for the context to end.
type MockOrderGateway struct {
	mu       sync.Mutex
	OrderID  string
	Err      error
	Block    chan struct{}
	requests []gateway.CreateOrderRequest
	tokens   []string

	CallCount int32
}

func (m *MockOrderGateway) CreateOrder(ctx context.Context, token string, req gateway.CreateOrderRequest) (*gateway.CreateOrderResponse, error) {
	atomic.AddInt32(&m.CallCount, 1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.tokens = append(m.tokens, token)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &gateway.Error{Op: "create order", Err: ctx.Err()}
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	id := m.OrderID
	if id == "" {
		id = "order-1"
	}
	return &gateway.CreateOrderResponse{OrderID: id}, nil
}

// Requests returns the order requests seen so far.
func (m *MockOrderGateway) Requests() []gateway.CreateOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gateway.CreateOrderRequest(nil), m.requests...)
}

// Tokens returns the bearer tokens seen so far.
func (m *MockOrderGateway) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

// ──────────────────────────────────────────────
// MOCK ATTEMPT REPOSITORY
// ──────────────────────────────────────────────

// MockAttemptRepository is a mock implementation of AttemptRepository.
type MockAttemptRepository struct {
	mu       sync.Mutex
	attempts map[string]domain.PaymentAttempt
	order    []string

	SaveError     error
	SaveCallCount int32
}

// NewMockAttemptRepository creates a new mock attempt repository.
func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{attempts: make(map[string]domain.PaymentAttempt)}
}

func (m *MockAttemptRepository) Save(ctx context.Context, a *domain.PaymentAttempt) error {
	atomic.AddInt32(&m.SaveCallCount, 1)
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.attempts[a.ID]
	if !ok {
		m.order = append(m.order, a.ID)
	}
	if !ok || !prev.UpdatedAt.After(a.UpdatedAt) {
		m.attempts[a.ID] = *a
	}
	return nil
}

func (m *MockAttemptRepository) GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *MockAttemptRepository) List(ctx context.Context, limit int) ([]*domain.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PaymentAttempt
	for i := len(m.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		a := m.attempts[m.order[i]]
		out = append(out, &a)
	}
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK TERMINAL LOCK
// ──────────────────────────────────────────────

// MockTerminalLock is an in-memory terminal lock.
type MockTerminalLock struct {
	mu   sync.Mutex
	held map[string]bool

	AcquireError     error
	ReleaseCallCount int32
}

// NewMockTerminalLock creates a new mock terminal lock.
func NewMockTerminalLock() *MockTerminalLock {
	return &MockTerminalLock{held: make(map[string]bool)}
}

func (m *MockTerminalLock) AcquireTerminalLock(ctx context.Context, terminalID string, ttl time.Duration) (bool, error) {
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[terminalID] {
		return false, nil
	}
	m.held[terminalID] = true
	return true, nil
}

func (m *MockTerminalLock) ReleaseTerminalLock(ctx context.Context, terminalID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, terminalID)
	return nil
}

// Held reports whether terminalID is locked.
func (m *MockTerminalLock) Held(terminalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[terminalID]
}

// ──────────────────────────────────────────────
// MOCK CATALOG
// ──────────────────────────────────────────────

// MockCatalogGateway is a mock implementation of CatalogGateway.
type MockCatalogGateway struct {
	Items     []gateway.CatalogItem
	Err       error
	CallCount int32
}

func (m *MockCatalogGateway) ListCatalog(ctx context.Context, token string) ([]gateway.CatalogItem, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Items, nil
}

// MockCatalogCache is an in-memory catalog cache.
type MockCatalogCache struct {
	mu    sync.Mutex
	items map[string][]domain.CatalogItem

	GetError error
}

// NewMockCatalogCache creates a new mock catalog cache.
func NewMockCatalogCache() *MockCatalogCache {
	return &MockCatalogCache{items: make(map[string][]domain.CatalogItem)}
}

func (m *MockCatalogCache) GetCatalog(ctx context.Context, organizationID string) ([]domain.CatalogItem, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[organizationID], nil
}

func (m *MockCatalogCache) SetCatalog(ctx context.Context, organizationID string, items []domain.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[organizationID] = items
	return nil
}

func (m *MockCatalogCache) InvalidateCatalog(ctx context.Context, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, organizationID)
	return nil
}

// Cached reports whether organizationID has a cached catalog.
func (m *MockCatalogCache) Cached(organizationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[organizationID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK RECEIPT GATEWAY
// ──────────────────────────────────────────────

// MockReceiptGateway is a mock implementation of ReceiptGateway.
type MockReceiptGateway struct {
	mu   sync.Mutex
	Sent []gateway.SendReceiptRequest
	Err  error
}

func (m *MockReceiptGateway) SendReceipt(ctx context.Context, token string, req gateway.SendReceiptRequest) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, req)
	return nil
}
