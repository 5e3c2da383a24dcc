package service

import (
	"errors"
	"fmt"

	"kiosk/internal/gateway"
)

var (
	// ErrNotAuthorized is returned when an operation needs an authorized session.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrAlreadyInProgress is returned when a conflicting request is already running.
	ErrAlreadyInProgress = errors.New("already in progress")

	// ErrAlreadyPairing is returned when a pairing attempt is already active.
	ErrAlreadyPairing = errors.New("pairing already in progress")

	// ErrNetwork is returned for transport failures and timeouts talking to the backend.
	ErrNetwork = errors.New("network error")

	// ErrBackendRejected is returned when the backend answers with an error status.
	ErrBackendRejected = errors.New("backend rejected request")

	// ErrDeviceUnavailable is returned when no usable reader or permission is available.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrUserCancelled marks an attempt the donor dismissed. It is not a failure.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrCaptureFailed is returned when the reader declined or faulted.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrAuthorizationTimeout is returned when polling exhausted its deadline.
	ErrAuthorizationTimeout = errors.New("authorization timed out")

	// ErrInvalidAmount is returned when the donation amount is not positive.
	ErrInvalidAmount = errors.New("invalid donation amount")

	// ErrConflictingLineItem is returned when a catalog item is combined with a custom amount.
	ErrConflictingLineItem = errors.New("catalog item and custom amount are mutually exclusive")

	// ErrCaptureInFlight is returned when cancelling an attempt whose capture already started.
	ErrCaptureInFlight = errors.New("capture in flight")

	// ErrAttemptFinished is returned when starting an attempt that already reached a terminal state.
	ErrAttemptFinished = errors.New("attempt already finished")

	// ErrNoAttempt is returned when there is no current attempt.
	ErrNoAttempt = errors.New("no active attempt")

	// ErrAttemptNotCompleted is returned when a receipt is requested for an unfinished donation.
	ErrAttemptNotCompleted = errors.New("attempt not completed")

	// ErrInvalidEmail is returned when a receipt address is empty or malformed.
	ErrInvalidEmail = errors.New("invalid email")

	// ErrInvalidDeepLink is returned when a callback URI cannot be parsed.
	ErrInvalidDeepLink = errors.New("invalid deep link")
)

// classifyBackendError maps a gateway failure onto the service taxonomy while
// keeping the backend error in the chain.
func classifyBackendError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrTransport):
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	case errors.Is(err, gateway.ErrClient), errors.Is(err, gateway.ErrServer):
		return fmt.Errorf("%w: %w", ErrBackendRejected, err)
	default:
		return err
	}
}
