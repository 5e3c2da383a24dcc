package service_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/domain"
	"kiosk/internal/events"
	"kiosk/internal/service"
)

func reader(serial string, state domain.ReaderState) domain.ReaderDevice {
	return domain.ReaderDevice{SerialNumber: serial, Model: domain.ReaderModelContactlessChip, State: state}
}

func added(serial string, state domain.ReaderState) domain.DeviceEvent {
	return domain.DeviceEvent{Type: domain.DeviceAdded, Device: reader(serial, state)}
}

func changed(serial string, state domain.ReaderState) domain.DeviceEvent {
	return domain.DeviceEvent{Type: domain.DeviceStateChanged, Device: reader(serial, state)}
}

func removed(serial string) domain.DeviceEvent {
	return domain.DeviceEvent{Type: domain.DeviceRemoved, Device: reader(serial, domain.ReaderStateDisconnected)}
}

type readerRecorder struct {
	mu       sync.Mutex
	statuses []domain.ConnectionStatus
}

func recordReader(bus *events.Bus) *readerRecorder {
	r := &readerRecorder{}
	events.On(bus, func(e events.ReaderStatusChanged) {
		r.mu.Lock()
		r.statuses = append(r.statuses, e.Status)
		r.mu.Unlock()
	})
	return r
}

func (r *readerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func (r *readerRecorder) last() domain.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[len(r.statuses)-1]
}

func newReaderManager(t *testing.T, sdk *MockReaderSDK, perms *MockPermissions) (*service.ReaderConnectionManager, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil)
	m := service.NewReaderConnectionManager(sdk, perms, bus, nil)
	t.Cleanup(m.Close)
	return m, bus
}

func TestReader_StartMonitoringRequiresSDKAuthorization(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKNotAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	assert.ErrorIs(t, m.StartMonitoring(), service.ErrNotAuthorized)
	assert.Equal(t, domain.ConnectionNotConnected, m.Status().Kind)
	assert.Equal(t, 0, sdk.DeviceObservers())
}

func TestReader_MonitoringIsIdempotent(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	require.NoError(t, m.StartMonitoring())
	require.NoError(t, m.StartMonitoring())
	assert.Equal(t, 1, sdk.DeviceObservers())

	m.StopMonitoring()
	m.StopMonitoring()
	assert.Equal(t, 0, sdk.DeviceObservers())
	assert.Equal(t, domain.ConnectionNotConnected, m.Status().Kind)
}

func TestReader_StartMonitoringLoadsKnownDevices(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKNotAuthorized)
	sdk.SetDevices(reader("A", domain.ReaderStateConnecting), reader("B", domain.ReaderStateReady))
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	sdk.SetAuthState(domain.SDKAuthorized)

	status := m.Status()
	assert.True(t, status.Connected())
	assert.Equal(t, "B", status.SelectedReader)
	assert.True(t, status.InputMethods.Has(domain.CardInputContactless))
}

func TestReader_SelectionPrefersPreviousReader(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	sdk.Emit(added("A", domain.ReaderStateConnecting))
	sdk.Emit(added("B", domain.ReaderStateReady))
	assert.Equal(t, "B", m.Status().SelectedReader)

	// A becomes ready first in discovery order, but B stays selected.
	sdk.Emit(changed("A", domain.ReaderStateReady))
	assert.Equal(t, "B", m.Status().SelectedReader)

	sdk.Emit(changed("B", domain.ReaderStateUpdatingFirmware))
	assert.Equal(t, "A", m.Status().SelectedReader)
}

func TestReader_NotReadySurfacesFirstDeviceState(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	sdk.Emit(added("A", domain.ReaderStateUpdatingFirmware))
	sdk.Emit(added("B", domain.ReaderStateConnecting))

	status := m.Status()
	assert.Equal(t, domain.ConnectionNotReady, status.Kind)
	assert.Equal(t, domain.ReaderStateUpdatingFirmware, status.ReaderState)
	assert.Empty(t, status.SelectedReader)
	assert.Equal(t, "reader not ready (UPDATING_FIRMWARE)", status.Message())
}

func TestReader_StateChangeForUnknownDeviceIsDropped(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, bus := newReaderManager(t, sdk, NewMockPermissions())
	sdk.Emit(added("A", domain.ReaderStateReady))
	sdk.Emit(removed("A"))
	rec := recordReader(bus)

	sdk.Emit(changed("A", domain.ReaderStateReady))

	assert.Equal(t, 0, rec.count())
	assert.Empty(t, m.Snapshot().Devices)
	assert.Equal(t, domain.ConnectionNoReader, m.Status().Kind)
}

func TestReader_InputMethodsRecheckedForSelectedReader(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	sdk.Emit(added("A", domain.ReaderStateReady))
	first := sdk.InputMethodsCallCount
	assert.EqualValues(t, 1, first)

	// Changes to other readers do not touch the selection's input methods.
	sdk.Emit(added("B", domain.ReaderStateConnecting))
	assert.EqualValues(t, first, sdk.InputMethodsCallCount)

	sdk.Emit(domain.DeviceEvent{Type: domain.DeviceStateChanged, Device: domain.ReaderDevice{
		SerialNumber: "A", Model: domain.ReaderModelContactlessChip, State: domain.ReaderStateReady,
	}})
	assert.EqualValues(t, first+1, sdk.InputMethodsCallCount)
	assert.True(t, m.Status().InputMethods.Has(domain.CardInputChip))
}

// Every event permutation must leave the selection pointing at a Ready
// device of the set, and must keep a still-Ready selection.
func TestReader_SelectionInvariantUnderRandomEvents(t *testing.T) {
	serials := []string{"A", "B", "C", "D"}
	states := []domain.ReaderState{
		domain.ReaderStateConnecting,
		domain.ReaderStateReady,
		domain.ReaderStateDisconnected,
		domain.ReaderStateUpdatingFirmware,
		domain.ReaderStateFailedToConnect,
		domain.ReaderStateDisabled,
	}

	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		sdk := NewMockReaderSDK(domain.SDKAuthorized)
		m, _ := newReaderManager(t, sdk, NewMockPermissions())

		var model []domain.ReaderDevice
		indexOf := func(serial string) int {
			for i, d := range model {
				if d.SerialNumber == serial {
					return i
				}
			}
			return -1
		}

		prevSelected := ""
		for step := 0; step < 200; step++ {
			serial := serials[rng.Intn(len(serials))]
			state := states[rng.Intn(len(states))]

			switch rng.Intn(3) {
			case 0:
				sdk.Emit(added(serial, state))
				if i := indexOf(serial); i >= 0 {
					model[i].State = state
				} else {
					model = append(model, reader(serial, state))
				}
			case 1:
				sdk.Emit(removed(serial))
				if i := indexOf(serial); i >= 0 {
					model = append(model[:i:i], model[i+1:]...)
				}
			case 2:
				sdk.Emit(changed(serial, state))
				if i := indexOf(serial); i >= 0 {
					model[i].State = state
				}
			}

			snap := m.Snapshot()
			if len(model) == 0 {
				require.Empty(t, snap.Devices, "seed %d step %d", seed, step)
			} else {
				require.Equal(t, model, snap.Devices, "seed %d step %d", seed, step)
			}

			firstReady := ""
			for _, d := range model {
				if d.Ready() {
					firstReady = d.SerialNumber
					break
				}
			}

			status := snap.Status
			if firstReady == "" {
				require.False(t, status.Connected(), "seed %d step %d", seed, step)
				require.Empty(t, status.SelectedReader)
				if len(model) == 0 {
					require.Equal(t, domain.ConnectionNoReader, status.Kind)
				} else {
					require.Equal(t, domain.ConnectionNotReady, status.Kind)
					require.Equal(t, model[0].State, status.ReaderState)
				}
				prevSelected = ""
				continue
			}

			require.True(t, status.Connected(), "seed %d step %d", seed, step)
			i := indexOf(status.SelectedReader)
			require.GreaterOrEqual(t, i, 0)
			require.True(t, model[i].Ready())

			if j := indexOf(prevSelected); j >= 0 && model[j].Ready() {
				require.Equal(t, prevSelected, status.SelectedReader, "seed %d step %d", seed, step)
			} else {
				require.Equal(t, firstReady, status.SelectedReader, "seed %d step %d", seed, step)
			}
			prevSelected = status.SelectedReader
		}
	}
}

func TestReader_ConnectPreconditionsInOrder(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKNotAuthorized)
	perms := NewMockPermissions()
	perms.Bluetooth.Store(false)
	perms.Location.Store(false)
	m, _ := newReaderManager(t, sdk, perms)

	res := m.ConnectToReader(context.Background())
	assert.Equal(t, service.ConnectNotAuthorized, res.Code)

	sdk.SetAuthState(domain.SDKAuthorized)
	res = m.ConnectToReader(context.Background())
	assert.Equal(t, service.ConnectBluetoothUnavailable, res.Code)
	assert.NotEmpty(t, res.Message)

	perms.Bluetooth.Store(true)
	res = m.ConnectToReader(context.Background())
	assert.Equal(t, service.ConnectLocationDenied, res.Code)

	perms.Location.Store(true)
	res = m.ConnectToReader(context.Background())
	assert.Equal(t, service.ConnectSearching, res.Code)
	assert.Equal(t, "searching", res.Message)
	assert.EqualValues(t, 1, sdk.StartPairingCallCount)
}

func TestReader_ConnectWhilePairingReportsSearching(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	require.NoError(t, m.StartPairing(context.Background()))
	res := m.ConnectToReader(context.Background())

	assert.Equal(t, service.ConnectSearching, res.Code)
	assert.Equal(t, domain.ConnectionSearching, res.Status.Kind)
	assert.EqualValues(t, 1, sdk.StartPairingCallCount)
}

func TestReader_ConnectWithReadyReader(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())
	sdk.Emit(added("A", domain.ReaderStateReady))

	res := m.ConnectToReader(context.Background())
	assert.Equal(t, service.ConnectConnected, res.Code)
	assert.Equal(t, "connected", res.Message)
	assert.EqualValues(t, 0, sdk.StartPairingCallCount)
}

func TestReader_PairingLifecycle(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	require.NoError(t, m.StartPairing(context.Background()))
	assert.ErrorIs(t, m.StartPairing(context.Background()), service.ErrAlreadyPairing)
	assert.True(t, m.Snapshot().Pairing)

	sdk.SetDevices(reader("P1", domain.ReaderStateReady))
	sdk.FinishPairing(0, nil)

	snap := m.Snapshot()
	assert.False(t, snap.Pairing)
	assert.Empty(t, snap.LastPairingError)
	assert.Equal(t, "P1", snap.Status.SelectedReader)
	require.Len(t, snap.Devices, 1)
}

func TestReader_PairingFailureIsRecorded(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	require.NoError(t, m.StartPairing(context.Background()))
	sdk.FinishPairing(0, errors.New("reader rejected bond"))

	snap := m.Snapshot()
	assert.False(t, snap.Pairing)
	assert.Equal(t, "reader rejected bond", snap.LastPairingError)
	assert.Equal(t, domain.ConnectionNoReader, snap.Status.Kind)

	require.NoError(t, m.StartPairing(context.Background()), "pairing can be retried after a failure")
}

func TestReader_PairingStartErrorIsReturned(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	sdk.PairingError = errors.New("bluetooth busy")
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	err := m.StartPairing(context.Background())
	require.Error(t, err)
	assert.False(t, m.Snapshot().Pairing)

	res := m.ConnectToReader(context.Background())
	assert.Equal(t, service.ConnectPairingFailed, res.Code)
}

func TestReader_StopPairingIgnoresSupersededCallback(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())

	require.NoError(t, m.StartPairing(context.Background()))
	m.StopPairing()
	m.StopPairing()
	assert.EqualValues(t, 1, sdk.StopPairingCallCount)

	require.NoError(t, m.StartPairing(context.Background()))

	// The first pairing's late failure must not end the second one.
	sdk.FinishPairing(0, errors.New("cancelled"))
	snap := m.Snapshot()
	assert.True(t, snap.Pairing)
	assert.Empty(t, snap.LastPairingError)
	assert.Equal(t, domain.ConnectionSearching, snap.Status.Kind)
}

func TestReader_Forget(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())
	sdk.Emit(added("A", domain.ReaderStateReady))
	sdk.Emit(added("B", domain.ReaderStateReady))

	require.NoError(t, m.Forget("A"))
	status := m.Status()
	assert.Equal(t, "B", status.SelectedReader)
	require.Len(t, m.Snapshot().Devices, 1)

	sdk.ForgetError = errors.New("unknown reader")
	assert.Error(t, m.Forget("B"))
	assert.Len(t, m.Snapshot().Devices, 1)
}

func TestReader_SessionDrivesSDKAuthorization(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKNotAuthorized)
	m, bus := newReaderManager(t, sdk, NewMockPermissions())
	rec := recordReader(bus)

	bus.Publish(events.AuthorizationChanged{
		Status:         domain.AuthorizationStatusAuthorized,
		OrganizationID: "org-1",
		AccessToken:    "tok-1",
	})
	require.Eventually(t, func() bool { return m.Snapshot().Monitoring }, waitFor, tick)
	assert.EqualValues(t, 1, atomic.LoadInt32(&sdk.AuthorizeCallCount))
	assert.Equal(t, "tok-1", sdk.AuthorizedToken())

	sdk.Emit(added("A", domain.ReaderStateReady))
	require.True(t, m.Status().Connected())

	// Republishing the same session does not re-authorize.
	bus.Publish(events.AuthorizationChanged{
		Status:         domain.AuthorizationStatusAuthorized,
		OrganizationID: "org-1",
		AccessToken:    "tok-1",
	})
	assert.Never(t, func() bool { return atomic.LoadInt32(&sdk.AuthorizeCallCount) != 1 }, 50*time.Millisecond, tick)

	bus.Publish(events.AuthorizationChanged{Status: domain.AuthorizationStatusIdle, OrganizationID: "org-1"})
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sdk.DeauthorizeCallCount) == 1 && !m.Snapshot().Monitoring
	}, waitFor, tick)

	snap := m.Snapshot()
	assert.Empty(t, snap.Devices)
	assert.Equal(t, domain.ConnectionNotConnected, snap.Status.Kind)
	assert.Equal(t, domain.ConnectionNotConnected, rec.last().Kind)
}

func TestReader_SlowSDKAuthorizationDoesNotHoldBus(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKNotAuthorized)
	sdk.AuthorizeBlock = make(chan struct{})
	m, bus := newReaderManager(t, sdk, NewMockPermissions())

	var delivered atomic.Int32
	events.On(bus, func(events.PaymentCompleted) { delivered.Add(1) })

	published := make(chan struct{})
	go func() {
		bus.Publish(events.AuthorizationChanged{
			Status:         domain.AuthorizationStatusAuthorized,
			OrganizationID: "org-1",
			AccessToken:    "tok-1",
		})
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(waitFor):
		t.Fatal("publish blocked on sdk authorization")
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sdk.AuthorizeCallCount) == 1 }, waitFor, tick)

	// Authorize is still running; other events are delivered right away.
	bus.Publish(events.PaymentCompleted{})
	assert.EqualValues(t, 1, delivered.Load())
	assert.False(t, m.Snapshot().Monitoring)

	close(sdk.AuthorizeBlock)
	require.Eventually(t, func() bool { return m.Snapshot().Monitoring }, waitFor, tick)
	assert.Equal(t, "tok-1", sdk.AuthorizedToken())
}

func TestReader_LogoutDuringSlowAuthorizationWins(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKNotAuthorized)
	sdk.AuthorizeBlock = make(chan struct{})
	m, bus := newReaderManager(t, sdk, NewMockPermissions())

	bus.Publish(events.AuthorizationChanged{
		Status:         domain.AuthorizationStatusAuthorized,
		OrganizationID: "org-1",
		AccessToken:    "tok-1",
	})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sdk.AuthorizeCallCount) == 1 }, waitFor, tick)

	bus.Publish(events.AuthorizationChanged{Status: domain.AuthorizationStatusIdle})
	close(sdk.AuthorizeBlock)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sdk.DeauthorizeCallCount) == 1 && !m.Snapshot().Monitoring
	}, waitFor, tick)
	assert.Equal(t, domain.SDKNotAuthorized, sdk.AuthorizationState())
	assert.Equal(t, 0, sdk.DeviceObservers())
}

func TestReader_RestartWhileSubscribingKeepsOneObserver(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKNotAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())
	sdk.SetAuthState(domain.SDKAuthorized)
	m.StopMonitoring()
	require.Equal(t, 0, sdk.DeviceObservers())

	sdk.ObserveHook = func() {
		m.StopMonitoring()
		require.NoError(t, m.StartMonitoring())
	}
	require.NoError(t, m.StartMonitoring())

	assert.True(t, m.Snapshot().Monitoring)
	assert.Equal(t, 1, sdk.DeviceObservers())

	m.StopMonitoring()
	assert.Equal(t, 0, sdk.DeviceObservers())
}

func TestReader_LosingSDKAuthorizationClearsState(t *testing.T) {
	sdk := NewMockReaderSDK(domain.SDKAuthorized)
	m, _ := newReaderManager(t, sdk, NewMockPermissions())
	sdk.Emit(added("A", domain.ReaderStateReady))
	require.NoError(t, m.StartPairing(context.Background()))

	sdk.SetAuthState(domain.SDKNotAuthorized)

	snap := m.Snapshot()
	assert.False(t, snap.Monitoring)
	assert.False(t, snap.Pairing)
	assert.Empty(t, snap.Devices)
	assert.Equal(t, domain.ConnectionNotConnected, snap.Status.Kind)
	assert.Equal(t, 0, sdk.DeviceObservers())
}
