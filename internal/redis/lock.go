package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockStore handles terminal locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

// AcquireTerminalLock attempts to acquire the lock for the given kiosk terminal.
// Returns true if the lock was acquired, false if already held.
func (s *LockStore) AcquireTerminalLock(ctx context.Context, terminalID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:terminal:%s", terminalID)

	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// ReleaseTerminalLock releases the lock for the given kiosk terminal.
func (s *LockStore) ReleaseTerminalLock(ctx context.Context, terminalID string) error {
	key := fmt.Sprintf("lock:terminal:%s", terminalID)

	return s.client.Del(ctx, key).Err()
}
