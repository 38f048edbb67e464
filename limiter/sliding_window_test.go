/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// SlidingWindowLimiterTestSuite contains tests for SlidingWindowLimiter
type SlidingWindowLimiterTestSuite struct {
	suite.Suite
}

func TestSlidingWindowLimiter(t *testing.T) {
	suite.Run(t, new(SlidingWindowLimiterTestSuite))
}

func (ts *SlidingWindowLimiterTestSuite) TestAllowSequential() {
	limiter, err := NewSlidingWindowLimiter(Rate{Count: 2, Duration: time.Second}, 100)
	ts.NoError(err)

	ctx := context.Background()
	key := "client-1"

	// First two requests fit into the window.
	for i := 0; i < 2; i++ {
		allow, retryAfter, err := limiter.Allow(ctx, key)
		ts.NoError(err)
		ts.True(allow)
		ts.Equal(time.Duration(0), retryAfter)
	}

	// Third request should be rate limited.
	allow, retryAfter, err := limiter.Allow(ctx, key)
	ts.NoError(err)
	ts.False(allow)
	ts.Greater(retryAfter, time.Duration(0))
}

func (ts *SlidingWindowLimiterTestSuite) TestRetryAfterCalculation() {
	limiter, err := NewSlidingWindowLimiter(Rate{Count: 1, Duration: time.Second}, 100)
	ts.NoError(err)

	ctx := context.Background()
	key := "client-1"

	allow, _, err := limiter.Allow(ctx, key)
	ts.NoError(err)
	ts.True(allow)

	// The estimate points to the start of the next window.
	allow, retryAfter, err := limiter.Allow(ctx, key)
	ts.NoError(err)
	ts.False(allow)
	ts.Greater(retryAfter, time.Duration(0))
	ts.LessOrEqual(retryAfter, time.Second)
}

func (ts *SlidingWindowLimiterTestSuite) TestPerKeyIsolation() {
	limiter, err := NewSlidingWindowLimiter(Rate{Count: 1, Duration: time.Second}, 2)
	ts.NoError(err)

	ctx := context.Background()

	allow, _, err := limiter.Allow(ctx, "tenant-a")
	ts.NoError(err)
	ts.True(allow)

	allow, _, err = limiter.Allow(ctx, "tenant-a")
	ts.NoError(err)
	ts.False(allow)

	// Another key has its own window.
	allow, _, err = limiter.Allow(ctx, "tenant-b")
	ts.NoError(err)
	ts.True(allow)
}

func (ts *SlidingWindowLimiterTestSuite) TestSharedWindow() {
	// maxKeys 0 means all keys share one window.
	limiter, err := NewSlidingWindowLimiter(Rate{Count: 1, Duration: time.Second}, 0)
	ts.NoError(err)

	ctx := context.Background()

	allow, _, err := limiter.Allow(ctx, "tenant-a")
	ts.NoError(err)
	ts.True(allow)

	allow, _, err = limiter.Allow(ctx, "tenant-b")
	ts.NoError(err)
	ts.False(allow)
}

func (ts *SlidingWindowLimiterTestSuite) TestConstructorValidation() {
	_, err := NewSlidingWindowLimiter(Rate{Count: 1, Duration: time.Second}, -1)
	ts.EqualError(err, "new LRU zone for keys: max keys should be positive, got -1")
}
