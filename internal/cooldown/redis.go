package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares cooldown windows across instances. Keys expire on
// their own, so no sweeper is needed.
type RedisStore struct {
	client *redis.Client
	period time.Duration
}

// NewRedisStore creates a Redis-backed cooldown store with the standard
// period.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, period: Period}
}

// Allow opens a cooldown window with SET NX; a live key means the window
// is still open and its TTL is the wait.
func (s *RedisStore) Allow(ctx context.Context, deviceID, pinID int64) (bool, time.Duration, error) {
	key := fmt.Sprintf("cooldown:stats:%d:%d", deviceID, pinID)

	ok, err := s.client.SetNX(ctx, key, 1, s.period).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to set cooldown key: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read cooldown ttl: %w", err)
	}
	if ttl < 0 {
		// Key vanished between SETNX and TTL; treat as open.
		return true, 0, nil
	}
	return false, ttl, nil
}
