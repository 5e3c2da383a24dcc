// Package sdk provides an in-process stand-in for the native reader SDK used
// when the kiosk runs without a hardware bridge.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"kiosk/internal/domain"
)

var (
	// ErrUnknownReader is returned when forgetting a reader the simulator does not know.
	ErrUnknownReader = errors.New("unknown reader")

	// ErrNotAuthorized is returned by capture and pairing before Authorize.
	ErrNotAuthorized = errors.New("sdk not authorized")
)

// Options tunes the simulator's timings and environment.
type Options struct {
	PairingDelay   time.Duration
	CaptureDelay   time.Duration
	Bluetooth      bool
	Location       bool
	Offline        bool // Captures with AllowOffline are queued instead of settled
	DeclineCapture bool
}

// Simulator implements the reader, payment and permission surfaces in memory.
type Simulator struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	authState  domain.SDKAuthorizationState
	authObs    map[uint64]func(domain.SDKAuthorizationState)
	deviceObs  map[uint64]func(domain.DeviceEvent)
	nextObsID  uint64
	devices    []domain.ReaderDevice
	pairCount  int
	nextResult *domain.CaptureResult
}

// NewSimulator creates a new Simulator.
func NewSimulator(opts Options, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		opts:      opts,
		logger:    logger.With(slog.String("component", "sdk-simulator")),
		authState: domain.SDKNotAuthorized,
		authObs:   make(map[uint64]func(domain.SDKAuthorizationState)),
		deviceObs: make(map[uint64]func(domain.DeviceEvent)),
	}
}

// BluetoothAvailable reports the simulated Bluetooth radio state.
func (s *Simulator) BluetoothAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Bluetooth
}

// LocationGranted reports the simulated location permission.
func (s *Simulator) LocationGranted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Location
}

// AuthorizationState returns the SDK authorization state.
func (s *Simulator) AuthorizationState() domain.SDKAuthorizationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authState
}

// ObserveAuthorization registers fn for authorization state changes.
func (s *Simulator) ObserveAuthorization(fn func(domain.SDKAuthorizationState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextObsID++
	id := s.nextObsID
	s.authObs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.authObs, id)
		s.mu.Unlock()
	}
}

// Authorize accepts any non-empty token.
func (s *Simulator) Authorize(ctx context.Context, accessToken, organizationID string) error {
	if accessToken == "" || organizationID == "" {
		return errors.New("access token and organization id are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.setAuthState(domain.SDKAuthorizing)
	s.setAuthState(domain.SDKAuthorized)
	s.logger.Info("sdk authorized", slog.String("organization_id", organizationID))
	return nil
}

// Deauthorize drops the SDK authorization.
func (s *Simulator) Deauthorize(ctx context.Context) error {
	s.setAuthState(domain.SDKNotAuthorized)
	return nil
}

// ObserveDevices registers fn for device events.
func (s *Simulator) ObserveDevices(fn func(domain.DeviceEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextObsID++
	id := s.nextObsID
	s.deviceObs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.deviceObs, id)
		s.mu.Unlock()
	}
}

// Devices returns the paired readers.
func (s *Simulator) Devices() []domain.ReaderDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ReaderDevice(nil), s.devices...)
}

// StartPairing discovers one simulated reader after the pairing delay.
func (s *Simulator) StartPairing(done func(error)) (domain.PairingHandle, error) {
	if s.AuthorizationState() != domain.SDKAuthorized {
		return nil, ErrNotAuthorized
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.PairingDelay):
		}

		s.mu.Lock()
		s.pairCount++
		serial := fmt.Sprintf("SIM-%04d", s.pairCount)
		s.mu.Unlock()

		s.AddReader(domain.ReaderDevice{
			SerialNumber: serial,
			Model:        domain.ReaderModelContactlessChip,
			State:        domain.ReaderStateReady,
		})
		done(nil)
	}()

	return pairingHandle{cancel: cancel}, nil
}

// Forget removes a paired reader.
func (s *Simulator) Forget(serialNumber string) error {
	s.mu.Lock()
	idx := -1
	for i, d := range s.devices {
		if d.SerialNumber == serialNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownReader
	}
	removed := s.devices[idx]
	s.devices = append(s.devices[:idx:idx], s.devices[idx+1:]...)
	s.mu.Unlock()

	s.emit(domain.DeviceEvent{Type: domain.DeviceRemoved, Device: removed})
	return nil
}

// CardInputMethods reports what the reader accepts.
func (s *Simulator) CardInputMethods(serialNumber string) domain.CardInputMethods {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.SerialNumber != serialNumber {
			continue
		}
		if d.Model == domain.ReaderModelMagstripe {
			return domain.NewCardInputMethods(domain.CardInputSwipe)
		}
		return domain.NewCardInputMethods(domain.CardInputChip, domain.CardInputContactless)
	}
	return domain.NewCardInputMethods()
}

// Capture settles the charge after the capture delay.
func (s *Simulator) Capture(ctx context.Context, req domain.CaptureRequest, done func(domain.CaptureResult)) {
	go func() {
		select {
		case <-ctx.Done():
			done(domain.CaptureResult{Status: domain.CaptureCancelled, Reason: ctx.Err().Error()})
			return
		case <-time.After(s.opts.CaptureDelay):
		}
		done(s.result(req))
	}()
}

// SetNextCaptureResult forces the result of the next capture.
func (s *Simulator) SetNextCaptureResult(res domain.CaptureResult) {
	s.mu.Lock()
	s.nextResult = &res
	s.mu.Unlock()
}

// AddReader adds or replaces a reader and notifies observers.
func (s *Simulator) AddReader(d domain.ReaderDevice) {
	s.mu.Lock()
	replaced := false
	for i := range s.devices {
		if s.devices[i].SerialNumber == d.SerialNumber {
			s.devices[i] = d
			replaced = true
		}
	}
	if !replaced {
		s.devices = append(s.devices, d)
	}
	s.mu.Unlock()

	if replaced {
		s.emit(domain.DeviceEvent{Type: domain.DeviceStateChanged, Device: d})
		return
	}
	s.emit(domain.DeviceEvent{Type: domain.DeviceAdded, Device: d})
}

// SetReaderState changes a reader's state and notifies observers.
func (s *Simulator) SetReaderState(serialNumber string, state domain.ReaderState) error {
	s.mu.Lock()
	var changed *domain.ReaderDevice
	for i := range s.devices {
		if s.devices[i].SerialNumber == serialNumber {
			s.devices[i].State = state
			d := s.devices[i]
			changed = &d
		}
	}
	s.mu.Unlock()

	if changed == nil {
		return ErrUnknownReader
	}
	s.emit(domain.DeviceEvent{Type: domain.DeviceStateChanged, Device: *changed})
	return nil
}

func (s *Simulator) result(req domain.CaptureRequest) domain.CaptureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextResult != nil {
		res := *s.nextResult
		s.nextResult = nil
		return res
	}
	if s.authState != domain.SDKAuthorized {
		return domain.CaptureResult{Status: domain.CaptureFailed, Reason: ErrNotAuthorized.Error()}
	}
	if s.opts.DeclineCapture {
		return domain.CaptureResult{Status: domain.CaptureFailed, Reason: "card declined"}
	}
	if s.opts.Offline {
		if !req.AllowOffline {
			return domain.CaptureResult{Status: domain.CaptureFailed, Reason: "network unavailable"}
		}
		return domain.CaptureResult{Status: domain.CaptureQueuedOffline, TransactionID: "offline-" + uuid.NewString()}
	}
	return domain.CaptureResult{Status: domain.CaptureSucceeded, TransactionID: uuid.NewString()}
}

func (s *Simulator) setAuthState(state domain.SDKAuthorizationState) {
	s.mu.Lock()
	if s.authState == state {
		s.mu.Unlock()
		return
	}
	s.authState = state
	observers := make([]func(domain.SDKAuthorizationState), 0, len(s.authObs))
	for _, fn := range s.authObs {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

func (s *Simulator) emit(e domain.DeviceEvent) {
	s.mu.Lock()
	observers := make([]func(domain.DeviceEvent), 0, len(s.deviceObs))
	for _, fn := range s.deviceObs {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(e)
	}
}

type pairingHandle struct {
	cancel context.CancelFunc
}

func (h pairingHandle) Stop() { h.cancel() }
