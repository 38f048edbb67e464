/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/log/logtest"
)

func TestDoWithRetrySucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), nil, nil,
		func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary glitch")
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoWithRetryNonRetryableError(t *testing.T) {
	persistentErr := errors.New("bad request")
	isRetryable := func(err error) bool {
		return !errors.Is(err, persistentErr)
	}

	attempts := 0
	err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), isRetryable, nil,
		func(ctx context.Context) error {
			attempts++
			return persistentErr
		})
	require.ErrorIs(t, err, persistentErr)
	require.Equal(t, 1, attempts)
}

func TestDoWithRetryMaxAttemptsExceeded(t *testing.T) {
	wantErr := errors.New("service unavailable")
	attempts := 0
	err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 2), nil, nil,
		func(ctx context.Context) error {
			attempts++
			return wantErr
		})
	require.ErrorIs(t, err, wantErr)
	// The first attempt plus two retries.
	require.Equal(t, 3, attempts)
}

func TestDoWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := DoWithRetry(ctx, NewConstantBackoffPolicy(time.Millisecond, 10), nil, nil,
		func(ctx context.Context) error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("temporary glitch")
		})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

func TestLogNotify(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	attempts := 0
	err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), nil,
		LogNotify(logRecorder),
		func(ctx context.Context) error {
			attempts++
			if attempts < 2 {
				return errors.New("temporary glitch")
			}
			return nil
		})
	require.NoError(t, err)

	entry, found := logRecorder.FindEntry("retrying after error")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)
	_, found = entry.FindField("error")
	require.True(t, found)
	_, found = entry.FindField("duration")
	require.True(t, found)
}

func TestConstantBackoffPolicy(t *testing.T) {
	bf := NewConstantBackoffPolicy(42*time.Millisecond, 2).NewBackOff()
	require.Equal(t, 42*time.Millisecond, bf.NextBackOff())
	require.Equal(t, 42*time.Millisecond, bf.NextBackOff())
	require.Equal(t, backoff.Stop, bf.NextBackOff())
}

func TestExponentialBackoffPolicy(t *testing.T) {
	bf := NewExponentialBackoffPolicy(time.Second, 2).NewBackOff()

	// Delays are randomized around the growing interval.
	d := bf.NextBackOff()
	require.Greater(t, d, time.Duration(0))
	d = bf.NextBackOff()
	require.Greater(t, d, time.Duration(0))
	require.Equal(t, backoff.Stop, bf.NextBackOff())
}
