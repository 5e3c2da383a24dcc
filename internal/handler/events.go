package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slog"

	"kiosk/internal/events"
)

const (
	eventBuffer       = 64
	heartbeatInterval = 15 * time.Second
)

// EventSource is the bus surface the event stream needs.
type EventSource interface {
	SubscribeAll(h events.Handler) (unsubscribe func())
}

// EventHandler streams session events to the kiosk UI as server-sent events.
type EventHandler struct {
	source    EventSource
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(source EventSource, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{
		source:    source,
		heartbeat: heartbeatInterval,
		logger:    logger.With(slog.String("component", "event_stream")),
	}
}

// Stream handles GET /v1/events
func (h *EventHandler) Stream(c *gin.Context) {
	// Bus handlers run on the publisher's goroutine and must not block.
	ch := make(chan events.Event, eventBuffer)
	unsubscribe := h.source.SubscribeAll(func(e events.Event) {
		select {
		case ch <- e:
		default:
			h.logger.Warn("event stream lagging, dropping event", slog.String("topic", string(e.Topic())))
		}
	})
	defer unsubscribe()

	// A stream outlives the server's write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("CONNECTED", gin.H{"at": time.Now().Format(time.RFC3339)})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			c.SSEvent("HEARTBEAT", gin.H{"at": time.Now().Format(time.RFC3339)})
			return true
		case e := <-ch:
			c.SSEvent(string(e.Topic()), eventPayload(e))
			return true
		}
	})
}

// eventPayload converts a bus event to its wire form. Access tokens are never
// included.
func eventPayload(e events.Event) any {
	switch e := e.(type) {
	case events.AuthorizationChanged:
		return gin.H{
			"status":          string(e.Status),
			"authorized":      e.Authorized(),
			"organization_id": e.OrganizationID,
			"error":           e.Error,
			"at":              e.At.Format(time.RFC3339),
		}
	case events.SessionExpired:
		return gin.H{"reason": e.Reason, "at": e.At.Format(time.RFC3339)}
	case events.ReaderStatusChanged:
		return gin.H{
			"status":  toConnectionResponse(e.Status),
			"devices": toDeviceResponses(e.Devices),
			"at":      e.At.Format(time.RFC3339),
		}
	case events.PaymentStateChanged:
		return toAttemptResponse(e.Attempt)
	case events.PaymentCompleted:
		payload := gin.H{
			"attempt_id":     e.Outcome.AttemptID,
			"state":          string(e.Outcome.State),
			"transaction_id": e.Outcome.TransactionID,
			"provisional":    e.Outcome.Provisional,
			"amount_cents":   e.AmountCents,
			"currency":       e.Currency,
			"at":             e.At.Format(time.RFC3339),
		}
		if e.Outcome.Err != nil {
			payload["error"] = e.Outcome.Err.Error()
			payload["retryable"], payload["guidance"] = errorHint(e.Outcome.Err)
		}
		return payload
	default:
		return gin.H{"topic": string(e.Topic())}
	}
}
