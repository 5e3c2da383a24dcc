package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"kiosk/internal/domain"
	"kiosk/internal/events"
)

const sdkAuthorizeTimeout = 30 * time.Second

// ConnectCode classifies the result of a connect request.
type ConnectCode string

const (
	ConnectNotAuthorized        ConnectCode = "NOT_AUTHORIZED"
	ConnectBluetoothUnavailable ConnectCode = "BLUETOOTH_UNAVAILABLE"
	ConnectLocationDenied       ConnectCode = "LOCATION_DENIED"
	ConnectSearching            ConnectCode = "SEARCHING"
	ConnectPairingFailed        ConnectCode = "PAIRING_FAILED"
	ConnectNotReady             ConnectCode = "NOT_READY"
	ConnectConnected            ConnectCode = "CONNECTED"
)

// ConnectResult is the steady-state answer to a connect request. Missing
// preconditions are reported here rather than as errors.
type ConnectResult struct {
	Code    ConnectCode
	Message string
	Status  domain.ConnectionStatus
}

// ReaderSnapshot is a read-only copy of the reader manager's state.
type ReaderSnapshot struct {
	Monitoring       bool
	Pairing          bool
	Devices          []domain.ReaderDevice
	Status           domain.ConnectionStatus
	LastPairingError string
}

// ReaderConnectionManager tracks card readers reported by the SDK and derives
// a single connection status from them.
type ReaderConnectionManager struct {
	sdk    ReaderSDK
	perms  Permissions
	bus    *events.Bus
	logger *slog.Logger

	mu             sync.Mutex
	closed         bool
	monitoring     bool
	monitorGen     uint64
	stopDevices    func()
	devices        []domain.ReaderDevice // discovery order
	selected       string
	status         domain.ConnectionStatus
	pairingActive  bool
	pairingGen     uint64
	pairing        domain.PairingHandle
	lastPairingErr error
	sdkToken       string
	sdkGen         uint64

	// sdkMu serializes Authorize and Deauthorize so only the newest session
	// reaches the SDK.
	sdkMu     sync.Mutex
	sdkCtx    context.Context
	sdkCancel context.CancelFunc
	sdkCalls  sync.WaitGroup

	stopAuthObserver func()
	unsubscribe      func()
}

// NewReaderConnectionManager creates a new ReaderConnectionManager. It follows
// the SDK's authorization state and hands it the session token published on the bus.
func NewReaderConnectionManager(sdk ReaderSDK, perms Permissions, bus *events.Bus, logger *slog.Logger) *ReaderConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &ReaderConnectionManager{
		sdk:    sdk,
		perms:  perms,
		bus:    bus,
		logger: logger.With(slog.String("component", "reader")),
		status: domain.ConnectionStatus{Kind: domain.ConnectionNotConnected},
	}
	m.sdkCtx, m.sdkCancel = context.WithCancel(context.Background())

	m.unsubscribe = events.On(bus, m.onSessionChanged)
	m.stopAuthObserver = sdk.ObserveAuthorization(m.onSDKAuthorization)
	m.onSDKAuthorization(sdk.AuthorizationState())
	return m
}

// Close detaches the manager from the SDK and the bus.
func (m *ReaderConnectionManager) Close() {
	m.unsubscribe()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.sdkCancel()
	m.sdkCalls.Wait()

	m.stopAuthObserver()
	m.StopPairing()
	m.StopMonitoring()
}

// Status returns the current aggregate connection status.
func (m *ReaderConnectionManager) Status() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Snapshot returns a copy of the device set and derived state.
func (m *ReaderConnectionManager) Snapshot() ReaderSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := ReaderSnapshot{
		Monitoring: m.monitoring,
		Pairing:    m.pairingActive,
		Devices:    append([]domain.ReaderDevice(nil), m.devices...),
		Status:     m.status,
	}
	if m.lastPairingErr != nil {
		s.LastPairingError = m.lastPairingErr.Error()
	}
	return s
}

// StartMonitoring subscribes to SDK device events. It requires the SDK to be
// authorized and is a no-op when already monitoring.
func (m *ReaderConnectionManager) StartMonitoring() error {
	if m.sdk.AuthorizationState() != domain.SDKAuthorized {
		return ErrNotAuthorized
	}

	m.mu.Lock()
	if m.monitoring {
		m.mu.Unlock()
		return nil
	}
	m.monitoring = true
	m.monitorGen++
	gen := m.monitorGen
	m.mu.Unlock()

	cancel := m.sdk.ObserveDevices(m.handleDeviceEvent)
	devices := m.sdk.Devices()

	m.mu.Lock()
	// Stopped, or stopped and restarted, while subscribing.
	if !m.monitoring || m.monitorGen != gen {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.stopDevices = cancel
	prev := m.selected
	m.devices = dedupe(devices)
	m.logger.Info("reader monitoring started", slog.Int("devices", len(m.devices)))
	m.commitLocked(prev, "")
	return nil
}

// StopMonitoring unsubscribes from device events and clears the device set.
// Calling it when not monitoring is a no-op.
func (m *ReaderConnectionManager) StopMonitoring() {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.monitoring = false
	cancel := m.stopDevices
	m.stopDevices = nil
	m.devices = nil
	m.selected = ""
	m.status = domain.ConnectionStatus{Kind: domain.ConnectionNotConnected}
	m.enqueueLocked()
	m.mu.Unlock()
	m.bus.Flush()

	if cancel != nil {
		cancel()
	}
	m.logger.Info("reader monitoring stopped")
}

// ConnectToReader checks the preconditions for taking a payment and starts
// pairing when no reader is known.
func (m *ReaderConnectionManager) ConnectToReader(ctx context.Context) ConnectResult {
	if m.sdk.AuthorizationState() != domain.SDKAuthorized {
		return ConnectResult{
			Code:    ConnectNotAuthorized,
			Message: "Sign in to your account before connecting a reader.",
			Status:  m.Status(),
		}
	}
	if !m.perms.BluetoothAvailable() {
		return ConnectResult{
			Code:    ConnectBluetoothUnavailable,
			Message: "Bluetooth is off. Turn on Bluetooth to connect a reader.",
			Status:  m.Status(),
		}
	}
	if !m.perms.LocationGranted() {
		return ConnectResult{
			Code:    ConnectLocationDenied,
			Message: "Location access is required to find nearby readers.",
			Status:  m.Status(),
		}
	}

	if err := m.StartMonitoring(); err != nil {
		return ConnectResult{Code: ConnectNotAuthorized, Message: err.Error(), Status: m.Status()}
	}

	m.mu.Lock()
	known := len(m.devices)
	pairing := m.pairingActive
	m.mu.Unlock()

	if known == 0 {
		if !pairing {
			if err := m.StartPairing(ctx); err != nil && err != ErrAlreadyPairing {
				return ConnectResult{Code: ConnectPairingFailed, Message: err.Error(), Status: m.Status()}
			}
		}
		return ConnectResult{Code: ConnectSearching, Message: "searching", Status: m.Status()}
	}

	status := m.Status()
	if status.Connected() {
		return ConnectResult{Code: ConnectConnected, Message: status.Message(), Status: status}
	}
	return ConnectResult{Code: ConnectNotReady, Message: status.Message(), Status: status}
}

// StartPairing begins discovery and bonding of a new reader. It fails with
// ErrAlreadyPairing while another pairing is active.
func (m *ReaderConnectionManager) StartPairing(ctx context.Context) error {
	m.mu.Lock()
	if m.pairingActive {
		m.mu.Unlock()
		return ErrAlreadyPairing
	}
	m.pairingActive = true
	m.pairingGen++
	gen := m.pairingGen
	m.lastPairingErr = nil
	m.commitLocked(m.selected, "")

	m.logger.Info("pairing started")
	handle, err := m.sdk.StartPairing(func(err error) {
		m.finishPairing(gen, err)
	})

	m.mu.Lock()
	if err != nil {
		if m.pairingGen == gen && m.pairingActive {
			m.pairingActive = false
			m.lastPairingErr = err
			m.commitLocked(m.selected, "")
		} else {
			m.mu.Unlock()
		}
		m.logger.Warn("pairing could not start", slog.Any("err", err))
		return err
	}

	switch {
	case m.pairingGen != gen:
		// Stopped before the SDK returned the handle.
		m.mu.Unlock()
		handle.Stop()
	case m.pairingActive:
		m.pairing = handle
		m.mu.Unlock()
	default:
		// Already finished through the completion callback.
		m.mu.Unlock()
	}
	return nil
}

// StopPairing cancels an active pairing. It is always safe to call.
func (m *ReaderConnectionManager) StopPairing() {
	m.mu.Lock()
	if !m.pairingActive {
		m.mu.Unlock()
		return
	}
	m.pairingActive = false
	m.pairingGen++
	handle := m.pairing
	m.pairing = nil
	m.commitLocked(m.selected, "")

	if handle != nil {
		handle.Stop()
	}
	m.logger.Info("pairing stopped")
}

// Forget asks the SDK to forget a reader and drops it from the device set.
func (m *ReaderConnectionManager) Forget(serialNumber string) error {
	if err := m.sdk.Forget(serialNumber); err != nil {
		return err
	}

	m.mu.Lock()
	prev := m.selected
	if i := indexOf(m.devices, serialNumber); i >= 0 {
		m.devices = append(m.devices[:i:i], m.devices[i+1:]...)
	}
	m.commitLocked(prev, serialNumber)
	return nil
}

func (m *ReaderConnectionManager) finishPairing(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.pairingGen || !m.pairingActive {
		m.mu.Unlock()
		return
	}
	m.pairingActive = false
	m.pairing = nil

	if err != nil {
		m.lastPairingErr = err
		m.commitLocked(m.selected, "")
		m.logger.Warn("pairing failed", slog.Any("err", err))
		return
	}
	m.mu.Unlock()

	devices := m.sdk.Devices()

	m.mu.Lock()
	prev := m.selected
	if m.monitoring {
		m.devices = dedupe(devices)
	}
	m.commitLocked(prev, "")
	m.logger.Info("pairing finished", slog.Int("devices", len(devices)))
}

// handleDeviceEvent applies one SDK device change. Events are applied in
// receipt order; a state change for a device no longer in the set is dropped.
func (m *ReaderConnectionManager) handleDeviceEvent(e domain.DeviceEvent) {
	serial := e.Device.SerialNumber

	m.mu.Lock()
	if !m.monitoring || serial == "" {
		m.mu.Unlock()
		return
	}

	prev := m.selected
	i := indexOf(m.devices, serial)
	switch e.Type {
	case domain.DeviceAdded:
		if i >= 0 {
			m.devices[i] = e.Device
		} else {
			m.devices = append(m.devices, e.Device)
		}
	case domain.DeviceRemoved:
		if i < 0 {
			m.mu.Unlock()
			return
		}
		m.devices = append(m.devices[:i:i], m.devices[i+1:]...)
	case domain.DeviceStateChanged:
		if i < 0 {
			m.mu.Unlock()
			m.logger.Debug("dropping state change for unknown reader", slog.String("serial", serial))
			return
		}
		m.devices[i] = e.Device
	default:
		m.mu.Unlock()
		return
	}

	m.logger.Debug("reader event applied",
		slog.String("type", string(e.Type)),
		slog.String("serial", serial),
		slog.String("state", string(e.Device.State)))
	m.commitLocked(prev, serial)
}

func (m *ReaderConnectionManager) onSDKAuthorization(state domain.SDKAuthorizationState) {
	if state == domain.SDKAuthorized {
		if err := m.StartMonitoring(); err != nil {
			m.logger.Warn("could not start reader monitoring", slog.Any("err", err))
		}
		return
	}
	if state == domain.SDKNotAuthorized {
		m.StopPairing()
		m.StopMonitoring()
	}
}

// onSessionChanged hands session changes to the SDK. Bus handlers must not
// block, so the SDK calls run on their own goroutine.
func (m *ReaderConnectionManager) onSessionChanged(e events.AuthorizationChanged) {
	authorize := e.Authorized()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if authorize {
		if m.sdkToken == e.AccessToken {
			m.mu.Unlock()
			return
		}
		m.sdkToken = e.AccessToken
	} else {
		if m.sdkToken == "" {
			m.mu.Unlock()
			return
		}
		m.sdkToken = ""
	}
	m.sdkGen++
	gen := m.sdkGen
	m.sdkCalls.Add(1)
	m.mu.Unlock()

	go m.syncSDK(gen, authorize, e.AccessToken, e.OrganizationID)
}

// syncSDK applies session generation gen to the SDK unless a newer session
// has superseded it.
func (m *ReaderConnectionManager) syncSDK(gen uint64, authorize bool, token, organizationID string) {
	defer m.sdkCalls.Done()

	m.sdkMu.Lock()
	defer m.sdkMu.Unlock()
	if !m.sdkCurrent(gen) {
		return
	}

	ctx, cancel := context.WithTimeout(m.sdkCtx, sdkAuthorizeTimeout)
	defer cancel()

	if authorize {
		if err := m.sdk.Authorize(ctx, token, organizationID); err != nil {
			m.logger.Error("reader sdk authorization failed", slog.Any("err", err))
			m.mu.Lock()
			if m.sdkGen == gen {
				m.sdkToken = ""
			}
			m.mu.Unlock()
		}
		return
	}

	if err := m.sdk.Deauthorize(ctx); err != nil {
		m.logger.Error("reader sdk deauthorization failed", slog.Any("err", err))
	}
	if !m.sdkCurrent(gen) {
		return
	}
	// Do not leave reader state behind if the SDK is slow to report the change.
	m.StopPairing()
	m.StopMonitoring()
}

func (m *ReaderConnectionManager) sdkCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sdkGen == gen
}

// commitLocked re-derives the selection and status after a mutation, refreshes
// the selected reader's input methods when needed and publishes the result.
// It must be called with m.mu held and releases it.
func (m *ReaderConnectionManager) commitLocked(prevSelected, changed string) {
	m.deriveLocked()

	selected := m.selected
	recheck := selected != "" && (selected != prevSelected || selected == changed)
	if !recheck {
		m.enqueueLocked()
		m.mu.Unlock()
		m.bus.Flush()
		return
	}
	m.mu.Unlock()

	methods := m.sdk.CardInputMethods(selected)

	m.mu.Lock()
	if m.selected == selected {
		m.status.InputMethods = methods
	}
	m.enqueueLocked()
	m.mu.Unlock()
	m.bus.Flush()
}

// deriveLocked recomputes the selection and aggregate status from the device set.
func (m *ReaderConnectionManager) deriveLocked() {
	if !m.monitoring {
		m.selected = ""
		m.status = domain.ConnectionStatus{Kind: domain.ConnectionNotConnected}
		return
	}

	prev := m.selected
	if i := indexOf(m.devices, prev); i < 0 || !m.devices[i].Ready() {
		m.selected = ""
		for _, d := range m.devices {
			if d.Ready() {
				m.selected = d.SerialNumber
				break
			}
		}
	}

	status := domain.ConnectionStatus{}
	switch {
	case m.selected != "":
		status.Kind = domain.ConnectionConnected
		status.SelectedReader = m.selected
		if m.selected == prev {
			status.InputMethods = m.status.InputMethods
		}
	case len(m.devices) == 0 && m.pairingActive:
		status.Kind = domain.ConnectionSearching
	case len(m.devices) == 0:
		status.Kind = domain.ConnectionNoReader
	default:
		status.Kind = domain.ConnectionNotReady
		status.ReaderState = m.devices[0].State
	}
	m.status = status
}

func (m *ReaderConnectionManager) enqueueLocked() {
	m.bus.Enqueue(events.ReaderStatusChanged{
		Status:  m.status,
		Devices: append([]domain.ReaderDevice(nil), m.devices...),
		At:      time.Now(),
	})
}

func indexOf(devices []domain.ReaderDevice, serial string) int {
	if serial == "" {
		return -1
	}
	for i, d := range devices {
		if d.SerialNumber == serial {
			return i
		}
	}
	return -1
}

// dedupe keeps the first occurrence of each serial number, preserving order.
func dedupe(devices []domain.ReaderDevice) []domain.ReaderDevice {
	out := make([]domain.ReaderDevice, 0, len(devices))
	for _, d := range devices {
		if d.SerialNumber == "" || indexOf(out, d.SerialNumber) >= 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}
