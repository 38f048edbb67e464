/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package clock provides a time source abstraction for rate limiters.
// It allows tests to simulate the passage of time deterministically
// instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock is a source of the current time.
type Clock interface {
	Now() time.Time
}

// The Func type is an adapter to allow the use of ordinary functions as Clock.
type Func func() time.Time

// Now implements Clock interface.
func (f Func) Now() time.Time {
	return f()
}

// System returns a Clock backed by time.Now.
// Returned values carry Go's monotonic clock reading,
// so intervals measured with it never go backward.
func System() Clock {
	return Func(time.Now)
}

// OffsetClock is a Clock that reports the base clock's time shifted forward
// by an accumulated offset. The offset only grows, so as long as the base
// clock is monotonic, OffsetClock is monotonic too.
//
// It is intended for tests and simulations that need to fast-forward time
// for a limiter driven by the real clock.
type OffsetClock struct {
	base Clock

	mu     sync.Mutex
	offset time.Duration
}

// NewOffsetClock creates a new OffsetClock on top of the base clock.
// If base is nil, the system clock is used.
func NewOffsetClock(base Clock) *OffsetClock {
	if base == nil {
		base = System()
	}
	return &OffsetClock{base: base}
}

// Now returns the base clock's time plus the accumulated offset.
func (c *OffsetClock) Now() time.Time {
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()
	return c.base.Now().Add(offset)
}

// Advance permanently adds d to the clock's offset.
// Negative durations are treated as zero, the clock never goes backward.
func (c *OffsetClock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

// ManualClock is a Clock that stays at a fixed instant until it is moved
// explicitly with Advance or Set. It is safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a new ManualClock set to the given instant.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the instant the clock is currently set to.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
// Negative durations are treated as zero, the clock never goes backward.
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to the given instant.
func (c *ManualClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
