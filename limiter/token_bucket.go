/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-ratelimit/clock"
	"github.com/acronis/go-ratelimit/internal/keyzone"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// Tokens are refilled lazily on each Allow call: the time elapsed since the
// last refill is converted to tokens at the configured per-second rate and
// added to the bucket, capped at its capacity. The refill accounting runs on
// denied calls too. A freshly created bucket is full and admits capacity
// calls in immediate succession.
//
// TokenBucket is not safe for concurrent use.
// Wrap it with NewSerialized to share it between goroutines.
type TokenBucket struct {
	capacity   int
	refillRate float64
	clk        clock.Clock
	getBucket  func(key string) *bucketState
}

// NewTokenBucket creates a new token bucket limiter driven by the system
// clock. Capacity is the maximum number of tokens in the bucket, refillRate
// is the number of tokens added per second. If maxKeys is 0, one bucket is
// shared by all keys; otherwise per-key buckets are tracked in an LRU zone
// bounded by maxKeys.
func NewTokenBucket(capacity int, refillRate float64, maxKeys int) (*TokenBucket, error) {
	return NewTokenBucketWithClock(capacity, refillRate, maxKeys, clock.System())
}

// NewTokenBucketWithClock is a version of NewTokenBucket with an injectable
// time source. Tests use it with clock.ManualClock or clock.OffsetClock to
// simulate the passage of time without sleeping.
func NewTokenBucketWithClock(capacity int, refillRate float64, maxKeys int, clk clock.Clock) (*TokenBucket, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("capacity should not be negative, got %d", capacity)
	}
	if refillRate < 0 {
		return nil, fmt.Errorf("refill rate should not be negative, got %v", refillRate)
	}
	getBucket, err := newBucketProvider(capacity, maxKeys, clk)
	if err != nil {
		return nil, err
	}
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		clk:        clk,
		getBucket:  getBucket,
	}, nil
}

// Allow checks if the action should be allowed. It never returns an error,
// denial is a normal outcome. retryAfter estimates the wait until one token
// becomes available; it is 0 when the action is admitted and when the refill
// rate is 0 (a bucket that never refills allows no estimate).
func (l *TokenBucket) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	b := l.getBucket(key)
	b.refill(l.clk.Now(), l.capacity, l.refillRate)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}
	return false, estimateRetryAfter(b.tokens, 1, l.refillRate), nil
}

// bucketState is the mutable part of a token bucket.
// Invariant: 0 <= tokens <= capacity.
type bucketState struct {
	tokens     float64
	lastRefill time.Time
}

func (b *bucketState) refill(now time.Time, capacity int, refillRate float64) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		// Repeated calls within the same clock tick must not double-refill.
		return
	}
	b.tokens += elapsed.Seconds() * refillRate
	if maxTokens := float64(capacity); b.tokens > maxTokens {
		b.tokens = maxTokens
	}
	b.lastRefill = now
}

// estimateRetryAfter estimates the wait until the token level reaches want.
func estimateRetryAfter(tokens, want, refillRate float64) time.Duration {
	if refillRate <= 0 {
		return 0
	}
	deficit := want - tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / refillRate * float64(time.Second))
}

// newBucketProvider returns a function resolving the bucket for a key:
// a single shared bucket when maxKeys is 0, per-key buckets in an LRU zone
// otherwise. New buckets start full.
func newBucketProvider(capacity, maxKeys int, clk clock.Clock) (func(key string) *bucketState, error) {
	newBucket := func() *bucketState {
		return &bucketState{tokens: float64(capacity), lastRefill: clk.Now()}
	}
	if maxKeys == 0 {
		b := newBucket()
		return func(_ string) *bucketState { return b }, nil
	}
	zone, err := keyzone.New[*bucketState](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new LRU zone for keys: %w", err)
	}
	return func(key string) *bucketState {
		b, _ := zone.GetOrAdd(key, newBucket)
		return b
	}, nil
}
