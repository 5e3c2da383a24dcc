package redis

import (
	"context"
	"time"

	"kiosk/internal/domain"
)

// CacheStoreInterface defines the interface for catalog caching.
type CacheStoreInterface interface {
	GetCatalog(ctx context.Context, organizationID string) ([]domain.CatalogItem, error)
	SetCatalog(ctx context.Context, organizationID string, items []domain.CatalogItem) error
	InvalidateCatalog(ctx context.Context, organizationID string) error
}

// LockStoreInterface defines the interface for terminal locking.
type LockStoreInterface interface {
	AcquireTerminalLock(ctx context.Context, terminalID string, ttl time.Duration) (bool, error)
	ReleaseTerminalLock(ctx context.Context, terminalID string) error
}

// IdempotencyStoreInterface defines the interface for replayable responses.
type IdempotencyStoreInterface interface {
	GetResponse(ctx context.Context, key string) ([]byte, error)
	SetResponse(ctx context.Context, key string, data []byte) error
}

// Ensure concrete types implement interfaces.
var (
	_ CacheStoreInterface       = (*CacheStore)(nil)
	_ LockStoreInterface        = (*LockStore)(nil)
	_ IdempotencyStoreInterface = (*IdempotencyStore)(nil)
)
