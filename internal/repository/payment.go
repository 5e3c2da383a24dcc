package repository

import (
	"context"

	"kiosk/internal/domain"
)

// AttemptRepository defines the persistence operations for donation attempts.
type AttemptRepository interface {
	// Save inserts the attempt or updates it when the stored copy is older.
	Save(ctx context.Context, attempt *domain.PaymentAttempt) error

	// GetByID retrieves an attempt by ID.
	GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error)

	// List retrieves the most recent attempts, newest first.
	List(ctx context.Context, limit int) ([]*domain.PaymentAttempt, error)
}
