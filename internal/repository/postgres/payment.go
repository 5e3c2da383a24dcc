package postgres

import (
	"context"
	"database/sql"
	"errors"

	"kiosk/internal/domain"
	"kiosk/internal/repository"
)

const attemptColumns = `id, reference_id, amount_cents, currency, is_custom_amount, catalog_item_id,
		allow_offline, order_id, transaction_id, provisional, state, error, created_at, updated_at`

// AttemptRepository is a PostgreSQL implementation of repository.AttemptRepository.
type AttemptRepository struct {
	q Querier
}

// NewAttemptRepository creates a new PostgreSQL attempt repository.
func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{q: db}
}

// Save upserts an attempt. Writes carrying an older updated_at than the stored
// row are ignored so out-of-order journal writes cannot roll a state back.
func (r *AttemptRepository) Save(ctx context.Context, a *domain.PaymentAttempt) error {
	query := `
		INSERT INTO donation_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			order_id = EXCLUDED.order_id,
			transaction_id = EXCLUDED.transaction_id,
			provisional = EXCLUDED.provisional,
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
		WHERE donation_attempts.updated_at <= EXCLUDED.updated_at
	`

	_, err := r.q.ExecContext(ctx, query,
		a.ID,
		a.ReferenceID,
		a.AmountCents,
		a.Currency,
		a.IsCustomAmount,
		nullString(a.CatalogItemID),
		a.AllowOffline,
		nullString(a.OrderID),
		nullString(a.TransactionID),
		a.Provisional,
		a.State,
		nullString(a.Error),
		a.CreatedAt,
		a.UpdatedAt,
	)

	return err
}

// GetByID retrieves an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM donation_attempts WHERE id = $1`

	a, err := scanAttempt(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return a, nil
}

// List retrieves the most recent attempts, newest first.
func (r *AttemptRepository) List(ctx context.Context, limit int) ([]*domain.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + attemptColumns + ` FROM donation_attempts ORDER BY created_at DESC LIMIT $1`

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*domain.PaymentAttempt, error) {
	var (
		a                                       domain.PaymentAttempt
		catalogItemID, orderID, txID, lastError sql.NullString
	)
	err := row.Scan(
		&a.ID,
		&a.ReferenceID,
		&a.AmountCents,
		&a.Currency,
		&a.IsCustomAmount,
		&catalogItemID,
		&a.AllowOffline,
		&orderID,
		&txID,
		&a.Provisional,
		&a.State,
		&lastError,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CatalogItemID = catalogItemID.String
	a.OrderID = orderID.String
	a.TransactionID = txID.String
	a.Error = lastError.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
