/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is the prefix for Redis keys used by RedisFixedWindowLimiter.
const DefaultRedisKeyPrefix = "ratelimit:"

// RedisFixedWindowLimiter implements the fixed window rate limiting algorithm
// on top of Redis, counting admissions per key per window across all service
// instances sharing the same Redis. Window counters are ephemeral: they live
// in Redis only for the duration of the window and are never recovered.
// It is safe for concurrent use as is.
type RedisFixedWindowLimiter struct {
	client    redis.UniversalClient
	maxRate   Rate
	keyPrefix string
}

// NewRedisFixedWindowLimiter creates a new fixed window rate limiter allowing
// at most maxRate.Count admissions per maxRate.Duration window. The passed
// client is only used, the caller owns its lifecycle. If keyPrefix is empty,
// DefaultRedisKeyPrefix is used.
func NewRedisFixedWindowLimiter(
	client redis.UniversalClient, maxRate Rate, keyPrefix string,
) (*RedisFixedWindowLimiter, error) {
	if maxRate.Count < 1 {
		return nil, fmt.Errorf("rate count should be >= 1, got %d", maxRate.Count)
	}
	if maxRate.Duration <= 0 {
		return nil, fmt.Errorf("rate duration should be positive, got %s", maxRate.Duration)
	}
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisFixedWindowLimiter{client: client, maxRate: maxRate, keyPrefix: keyPrefix}, nil
}

// Allow checks if the action should be allowed based on the rate limit.
// Unlike the in-memory limiters it may return an error (Redis unreachable);
// the caller decides whether to fail open or closed.
func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	now := time.Now()
	windowStart := now.Truncate(l.maxRate.Duration)
	redisKey := fmt.Sprintf("%s%s:%d", l.keyPrefix, key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.maxRate.Duration)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("incr window counter: %w", err)
	}

	if incr.Val() > int64(l.maxRate.Count) {
		return false, windowStart.Add(l.maxRate.Duration).Sub(now), nil
	}
	return true, 0, nil
}
