package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kiosk/internal/domain"
)

// AuthService is the authorization surface exposed over the local API.
type AuthService interface {
	Session() domain.AuthorizationSession
	Begin(ctx context.Context) (domain.AuthorizationSession, error)
	HandleCallback(ctx context.Context, state string, success bool, errMsg string) bool
	HandleDeepLink(ctx context.Context, rawURL string) (bool, error)
	PollForAuthorization() error
	Logout()
}

// AuthHandler handles HTTP requests for the kiosk's OAuth session.
type AuthHandler struct {
	auth AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// SessionResponse is the HTTP response describing the authorization session.
// The access token never leaves the process.
type SessionResponse struct {
	Status         string `json:"status"`
	Authorized     bool   `json:"authorized"`
	OrganizationID string `json:"organization_id"`
	Pending        bool   `json:"pending"`
	LastError      string `json:"last_error,omitempty"`
	StartedAt      string `json:"started_at,omitempty"`
	AuthorizedAt   string `json:"authorized_at,omitempty"`
}

// DeepLinkRequest is the HTTP request body for forwarding a deep link.
type DeepLinkRequest struct {
	URL string `json:"url" binding:"required"`
}

// DeepLinkResponse reports whether a forwarded deep link was applied.
type DeepLinkResponse struct {
	Accepted bool            `json:"accepted"`
	Session  SessionResponse `json:"session"`
}

func toSessionResponse(s domain.AuthorizationSession) SessionResponse {
	resp := SessionResponse{
		Status:         string(s.Status),
		Authorized:     s.Authorized(),
		OrganizationID: s.OrganizationID,
		Pending:        s.PendingState != "",
		LastError:      s.LastError,
	}
	if !s.StartedAt.IsZero() {
		resp.StartedAt = s.StartedAt.Format(time.RFC3339)
	}
	if !s.AuthorizedAt.IsZero() {
		resp.AuthorizedAt = s.AuthorizedAt.Format(time.RFC3339)
	}
	return resp
}

// GetSession handles GET /v1/auth
func (h *AuthHandler) GetSession(c *gin.Context) {
	respondJSON(c, http.StatusOK, toSessionResponse(h.auth.Session()))
}

// Begin handles POST /v1/auth/begin
func (h *AuthHandler) Begin(c *gin.Context) {
	session, err := h.auth.Begin(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusAccepted, toSessionResponse(session))
}

// Poll handles POST /v1/auth/poll
func (h *AuthHandler) Poll(c *gin.Context) {
	if err := h.auth.PollForAuthorization(); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusAccepted, toSessionResponse(h.auth.Session()))
}

// DeepLink handles POST /v1/auth/deeplink
func (h *AuthHandler) DeepLink(c *gin.Context) {
	var req DeepLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	accepted, err := h.auth.HandleDeepLink(c.Request.Context(), req.URL)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, DeepLinkResponse{
		Accepted: accepted,
		Session:  toSessionResponse(h.auth.Session()),
	})
}

// Logout handles POST /v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.auth.Logout()
	respondJSON(c, http.StatusOK, toSessionResponse(h.auth.Session()))
}

// Callback handles GET /oauth/callback, the redirect form of the deep link.
func (h *AuthHandler) Callback(c *gin.Context) {
	state := c.Query("state")
	if state == "" {
		c.String(http.StatusBadRequest, "Missing state parameter.")
		return
	}
	success, _ := strconv.ParseBool(c.Query("success"))

	if !h.auth.HandleCallback(c.Request.Context(), state, success, c.Query("error")) {
		c.String(http.StatusConflict, "This sign-in link has expired. Start again from the kiosk.")
		return
	}

	if h.auth.Session().Authorized() {
		c.String(http.StatusOK, "Signed in. You can return to the kiosk.")
		return
	}
	c.String(http.StatusOK, "Sign-in received. Return to the kiosk to finish.")
}
