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
)

// Priority is the admission priority of an action.
type Priority int

// Supported priorities.
const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// PriorityBucket is a token bucket that keeps a reserved headroom of tokens
// for high-priority work. A normal admission never drains the bucket below
// the reserved level; a high-priority admission may drain it to zero.
// If reserved equals capacity, normal admissions are always denied.
//
// Refill accounting, validation, and edge case behavior are the same as for
// TokenBucket. PriorityBucket is not safe for concurrent use, wrap it with
// NewSerialized to share it between goroutines.
type PriorityBucket struct {
	capacity   int
	reserved   int
	refillRate float64
	clk        clock.Clock
	getBucket  func(key string) *bucketState
}

// NewPriorityBucket creates a new priority token bucket limiter driven by the
// system clock. Reserved is the number of tokens kept as headroom for
// high-priority admissions. See NewTokenBucket for the remaining parameters.
func NewPriorityBucket(capacity int, refillRate float64, reserved, maxKeys int) (*PriorityBucket, error) {
	return NewPriorityBucketWithClock(capacity, refillRate, reserved, maxKeys, clock.System())
}

// NewPriorityBucketWithClock is a version of NewPriorityBucket with an
// injectable time source.
func NewPriorityBucketWithClock(
	capacity int, refillRate float64, reserved, maxKeys int, clk clock.Clock,
) (*PriorityBucket, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("capacity should not be negative, got %d", capacity)
	}
	if refillRate < 0 {
		return nil, fmt.Errorf("refill rate should not be negative, got %v", refillRate)
	}
	if reserved < 0 {
		return nil, fmt.Errorf("reserved tokens should not be negative, got %d", reserved)
	}
	if reserved > capacity {
		return nil, fmt.Errorf("reserved tokens should not exceed capacity %d, got %d", capacity, reserved)
	}
	getBucket, err := newBucketProvider(capacity, maxKeys, clk)
	if err != nil {
		return nil, err
	}
	return &PriorityBucket{
		capacity:   capacity,
		reserved:   reserved,
		refillRate: refillRate,
		clk:        clk,
		getBucket:  getBucket,
	}, nil
}

// Allow checks if the action should be allowed with normal priority.
func (l *PriorityBucket) Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	return l.AllowPriority(ctx, key, PriorityNormal)
}

// AllowPriority checks if the action should be allowed with the given
// priority. Like TokenBucket.Allow it never returns an error, and retryAfter
// estimates the wait until the bucket refills enough for an admission at the
// given priority (0 if the refill rate is 0).
func (l *PriorityBucket) AllowPriority(
	_ context.Context, key string, priority Priority,
) (allow bool, retryAfter time.Duration, err error) {
	b := l.getBucket(key)
	b.refill(l.clk.Now(), l.capacity, l.refillRate)
	minLevel := 1.0
	if priority != PriorityHigh {
		minLevel = float64(l.reserved) + 1
	}
	if b.tokens >= minLevel {
		b.tokens--
		return true, 0, nil
	}
	return false, estimateRetryAfter(b.tokens, minLevel, l.refillRate), nil
}
