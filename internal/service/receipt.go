package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"kiosk/internal/domain"
	"kiosk/internal/events"
	"kiosk/internal/gateway"
)

// AttemptLookup finds a donation attempt by id.
type AttemptLookup interface {
	Lookup(ctx context.Context, id string) (*domain.PaymentAttempt, error)
}

// ReceiptService emails donation receipts through the backend.
type ReceiptService struct {
	gateway  ReceiptGateway
	attempts AttemptLookup
	bus      *events.Bus
	logger   *slog.Logger

	mu    sync.Mutex
	token string

	unsubscribe func()
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(gw ReceiptGateway, attempts AttemptLookup, bus *events.Bus, logger *slog.Logger) *ReceiptService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ReceiptService{
		gateway:  gw,
		attempts: attempts,
		bus:      bus,
		logger:   logger.With(slog.String("component", "receipt")),
	}
	s.unsubscribe = events.On(bus, func(e events.AuthorizationChanged) {
		s.mu.Lock()
		s.token = ""
		if e.Authorized() {
			s.token = e.AccessToken
		}
		s.mu.Unlock()
	})
	return s
}

// Close detaches the service from the bus.
func (s *ReceiptService) Close() {
	s.unsubscribe()
}

// Send emails the receipt of a completed donation to email.
func (s *ReceiptService) Send(ctx context.Context, attemptID, email string) error {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return ErrInvalidEmail
	}

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return ErrNotAuthorized
	}

	a, err := s.attempts.Lookup(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.State != domain.PaymentStateCompleted || a.TransactionID == "" {
		return ErrAttemptNotCompleted
	}

	err = s.gateway.SendReceipt(ctx, token, gateway.SendReceiptRequest{
		OrderID:       a.OrderID,
		TransactionID: a.TransactionID,
		Email:         email,
	})
	if err != nil {
		if gateway.IsUnauthorized(err) {
			s.bus.Publish(events.SessionExpired{Reason: "receipt request unauthorized", At: time.Now()})
		}
		return fmt.Errorf("send receipt: %w", classifyBackendError(err))
	}

	s.logger.Info("receipt sent", slog.String("attempt_id", a.ID))
	return nil
}
