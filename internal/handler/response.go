package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kiosk/internal/repository"
	"kiosk/internal/sdk"
	"kiosk/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Guidance  string `json:"guidance,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}
	resp.Retryable, resp.Guidance = errorHint(err)
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrNoAttempt),
		errors.Is(err, sdk.ErrUnknownReader):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrConflictingLineItem),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidDeepLink):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrNotAuthorized):
		return http.StatusUnauthorized

	// Conflict errors
	case errors.Is(err, service.ErrAlreadyInProgress),
		errors.Is(err, service.ErrAlreadyPairing),
		errors.Is(err, service.ErrCaptureInFlight),
		errors.Is(err, service.ErrAttemptFinished),
		errors.Is(err, service.ErrAttemptNotCompleted),
		errors.Is(err, service.ErrUserCancelled):
		return http.StatusConflict

	case errors.Is(err, service.ErrCaptureFailed):
		return http.StatusPaymentRequired

	// Upstream errors
	case errors.Is(err, service.ErrAuthorizationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrNetwork),
		errors.Is(err, service.ErrBackendRejected):
		return http.StatusBadGateway

	// Service unavailable
	case errors.Is(err, service.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// errorHint tells the kiosk UI whether to offer a retry or what the operator
// should fix. A cancelled donation gets neither.
func errorHint(err error) (retryable bool, guidance string) {
	switch {
	case errors.Is(err, service.ErrUserCancelled):
		return false, ""
	case errors.Is(err, service.ErrDeviceUnavailable):
		return false, "Connect a card reader and make sure it is ready, then try again."
	case errors.Is(err, service.ErrNotAuthorized):
		return false, "Sign in to your account to continue."
	case errors.Is(err, service.ErrAuthorizationTimeout),
		errors.Is(err, service.ErrNetwork),
		errors.Is(err, service.ErrBackendRejected),
		errors.Is(err, service.ErrCaptureFailed):
		return true, ""
	}
	return false, ""
}
