package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"kiosk/internal/domain"
)

// CatalogCacheTTL bounds how long preset donation items are served from cache.
const CatalogCacheTTL = 5 * time.Minute

const catalogCachePrefix = "cache:catalog:"

// CacheStore handles catalog caching in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore. A zero ttl uses CatalogCacheTTL.
func NewCacheStore(client *redis.Client, ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = CatalogCacheTTL
	}
	return &CacheStore{client: client, ttl: ttl}
}

// GetCatalog retrieves the cached catalog of an organization.
// Returns nil, nil on a cache miss.
func (s *CacheStore) GetCatalog(ctx context.Context, organizationID string) ([]domain.CatalogItem, error) {
	data, err := s.client.Get(ctx, catalogCachePrefix+organizationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	items := []domain.CatalogItem{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SetCatalog stores the catalog of an organization.
func (s *CacheStore) SetCatalog(ctx context.Context, organizationID string, items []domain.CatalogItem) error {
	if items == nil {
		items = []domain.CatalogItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, catalogCachePrefix+organizationID, data, s.ttl).Err()
}

// InvalidateCatalog removes an organization's catalog from cache.
func (s *CacheStore) InvalidateCatalog(ctx context.Context, organizationID string) error {
	return s.client.Del(ctx, catalogCachePrefix+organizationID).Err()
}
