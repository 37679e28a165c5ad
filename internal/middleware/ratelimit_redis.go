package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements RateLimitStore on Redis so limits are
// shared across instances. It uses a fixed window counter per key.
//
// The store fails open: if Redis is unavailable the request is allowed and
// the error is logged and counted, so a Redis outage degrades to unlimited
// traffic rather than a full outage.
type RedisRateLimitStore struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics *Metrics // optional; may be nil
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client, logger *slog.Logger, metrics *Metrics) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, logger: logger, metrics: metrics}
}

// Allow checks if a request from the given key should be allowed.
// Implements the RateLimitStore interface.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	redisKey := "ratelimit:" + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// NX: only the request that opens the window sets the expiry.
	pipe.ExpireNX(ctx, redisKey, config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		s.failOpen(ctx, err)
		return true, 0
	}

	if incr.Val() <= int64(config.RequestsPerWindow) {
		return true, 0
	}

	ttl, err := s.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		if err != nil {
			s.failOpen(ctx, err)
		}
		return false, 1
	}
	retryAfter := int(ttl / time.Second)
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, retryAfter
}

func (s *RedisRateLimitStore) failOpen(ctx context.Context, err error) {
	s.logger.ErrorContext(ctx, "rate limit redis error, failing open",
		slog.String("error", err.Error()))
	if s.metrics != nil {
		s.metrics.IncRateLimitRedisErrors()
	}
}
