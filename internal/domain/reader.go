package domain

// ReaderState mirrors the vendor SDK's per-device connection state.
type ReaderState string

const (
	ReaderStateConnecting       ReaderState = "CONNECTING"
	ReaderStateReady            ReaderState = "READY"
	ReaderStateDisconnected     ReaderState = "DISCONNECTED"
	ReaderStateUpdatingFirmware ReaderState = "UPDATING_FIRMWARE"
	ReaderStateFailedToConnect  ReaderState = "FAILED_TO_CONNECT"
	ReaderStateDisabled         ReaderState = "DISABLED"
)

// ReaderModel is the capability tag of a reader.
type ReaderModel string

const (
	ReaderModelContactlessChip ReaderModel = "CONTACTLESS_CHIP"
	ReaderModelMagstripe       ReaderModel = "MAGSTRIPE"
	ReaderModelStand           ReaderModel = "STAND"
	ReaderModelTapToPay        ReaderModel = "TAP_TO_PAY"
)

// ReaderDevice is a card reader known to the SDK.
type ReaderDevice struct {
	SerialNumber string
	Model        ReaderModel
	State        ReaderState
	BatteryLevel *float64 // 0-1, nil when the reader does not report it
	IsCharging   *bool
}

// Ready reports whether the reader can take a payment.
func (d ReaderDevice) Ready() bool {
	return d.State == ReaderStateReady
}

// DeviceEventType identifies a change reported by the SDK device observer.
type DeviceEventType string

const (
	DeviceAdded        DeviceEventType = "ADDED"
	DeviceRemoved      DeviceEventType = "REMOVED"
	DeviceStateChanged DeviceEventType = "STATE_CHANGED"
)

// DeviceEvent is a single device change delivered by the SDK.
type DeviceEvent struct {
	Type   DeviceEventType
	Device ReaderDevice
}

// SDKAuthorizationState is the native SDK's own authorization state.
type SDKAuthorizationState string

const (
	SDKNotAuthorized SDKAuthorizationState = "NOT_AUTHORIZED"
	SDKAuthorizing   SDKAuthorizationState = "AUTHORIZING"
	SDKAuthorized    SDKAuthorizationState = "AUTHORIZED"
)

// CardInputMethod is one way a reader can accept a card.
type CardInputMethod string

const (
	CardInputChip        CardInputMethod = "CHIP"
	CardInputContactless CardInputMethod = "CONTACTLESS"
	CardInputSwipe       CardInputMethod = "SWIPE"
)

// CardInputMethods is the set of input methods currently available on a reader.
type CardInputMethods map[CardInputMethod]bool

// NewCardInputMethods builds a set from the given methods.
func NewCardInputMethods(methods ...CardInputMethod) CardInputMethods {
	set := make(CardInputMethods, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}

// Has reports whether m is available.
func (c CardInputMethods) Has(m CardInputMethod) bool {
	return c[m]
}

// List returns the available methods in a stable order.
func (c CardInputMethods) List() []CardInputMethod {
	var out []CardInputMethod
	for _, m := range []CardInputMethod{CardInputChip, CardInputContactless, CardInputSwipe} {
		if c[m] {
			out = append(out, m)
		}
	}
	return out
}

// ConnectionKind is the aggregate reader connection summary.
type ConnectionKind string

const (
	ConnectionNotConnected ConnectionKind = "NOT_CONNECTED"
	ConnectionNoReader     ConnectionKind = "NO_READER"
	ConnectionSearching    ConnectionKind = "SEARCHING"
	ConnectionNotReady     ConnectionKind = "NOT_READY"
	ConnectionConnected    ConnectionKind = "CONNECTED"
)

// ConnectionStatus is derived from the device set after every change.
type ConnectionStatus struct {
	Kind           ConnectionKind
	SelectedReader string      // Serial number of the selected reader, empty unless Connected
	ReaderState    ReaderState // Sub-state surfaced when NotReady
	InputMethods   CardInputMethods
}

// Connected reports whether a Ready reader is selected.
func (s ConnectionStatus) Connected() bool {
	return s.Kind == ConnectionConnected && s.SelectedReader != ""
}

// Message returns the user-displayable status line.
func (s ConnectionStatus) Message() string {
	switch s.Kind {
	case ConnectionConnected:
		return "connected"
	case ConnectionNoReader:
		return "no reader"
	case ConnectionSearching:
		return "searching"
	case ConnectionNotReady:
		if s.ReaderState != "" {
			return "reader not ready (" + string(s.ReaderState) + ")"
		}
		return "reader not ready"
	default:
		return "not connected"
	}
}

// PairingHandle controls a running pairing operation.
type PairingHandle interface {
	Stop()
}
