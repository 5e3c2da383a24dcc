package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport is returned when the request never produced an HTTP response.
	ErrTransport = errors.New("backend unreachable")

	// ErrClient is returned for 4xx responses.
	ErrClient = errors.New("backend rejected request")

	// ErrServer is returned for 5xx responses.
	ErrServer = errors.New("backend error")
)

// Error describes a failed backend call.
type Error struct {
	Op         string
	StatusCode int    // Zero for transport failures
	Reason     string // Server-supplied reason, if any
	Err        error  // Underlying transport error, if any
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

// Unwrap exposes the classification sentinel and the transport cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.class()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) class() error {
	switch {
	case e.StatusCode == 0:
		return ErrTransport
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return ErrClient
	}
}

// Unauthorized reports whether the backend refused the access token.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Unauthorized()
}
