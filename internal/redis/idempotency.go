package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyTTL is how long a replayable response is kept.
const IdempotencyTTL = 24 * time.Hour

const idempotencyPrefix = "idempotency:"

// IdempotencyStore keeps serialized responses of idempotent requests in Redis.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore creates a new IdempotencyStore. A zero ttl uses IdempotencyTTL.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = IdempotencyTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// GetResponse returns the stored response for key, or nil, nil when none is stored.
func (s *IdempotencyStore) GetResponse(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// SetResponse stores a response for key.
func (s *IdempotencyStore) SetResponse(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, idempotencyPrefix+key, data, s.ttl).Err()
}
