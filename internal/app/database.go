package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"

	"kiosk/internal/config"
)

const attemptsSchema = `
CREATE TABLE IF NOT EXISTS donation_attempts (
	id               TEXT PRIMARY KEY,
	reference_id     TEXT NOT NULL,
	amount_cents     BIGINT NOT NULL,
	currency         TEXT NOT NULL,
	is_custom_amount BOOLEAN NOT NULL DEFAULT FALSE,
	catalog_item_id  TEXT,
	allow_offline    BOOLEAN NOT NULL DEFAULT FALSE,
	order_id         TEXT,
	transaction_id   TEXT,
	provisional      BOOLEAN NOT NULL DEFAULT FALSE,
	state            TEXT NOT NULL,
	error            TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS donation_attempts_created_at_idx ON donation_attempts (created_at DESC);
`

// NewDatabase opens the PostgreSQL attempt journal and makes sure its table exists.
// If nrApp is provided, it uses New Relic instrumented driver for automatic SQL tracing.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	// The "nrpostgres" driver is registered by the nrpq import.
	driver := "postgres"
	if nrApp != nil {
		driver = "nrpostgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driver, err)
	}

	// One kiosk writes one attempt at a time; a small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, attemptsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}
