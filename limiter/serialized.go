/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"sync"
	"time"
)

// SerializedLimiter wraps another limiter with a mutex so that limiters that
// are not internally synchronized (TokenBucket, PriorityBucket) can be shared
// between goroutines. At most one goroutine executes the wrapped Allow at a
// time; the rest block until the lock is free, with no timeout and no
// fairness guarantee beyond what sync.Mutex provides.
type SerializedLimiter struct {
	mu      sync.Mutex
	limiter Limiter
}

// NewSerialized creates a new SerializedLimiter wrapping the passed limiter.
func NewSerialized(limiter Limiter) *SerializedLimiter {
	return &SerializedLimiter{limiter: limiter}
}

// Allow checks if the action should be allowed, serializing calls to the
// wrapped limiter.
func (l *SerializedLimiter) Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.Allow(ctx, key)
}
