/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-ratelimit/internal/keyzone"
	"github.com/acronis/go-ratelimit/limiter"
)

// backlogSlotsProvider provides backlog slots for rate limiting.
type backlogSlotsProvider func(key string) chan struct{}

// processorParams contains common data that relates to the rate limiting procedure.
type processorParams struct {
	Key                 string
	RequestBacklogged   bool
	EstimatedRetryAfter time.Duration
}

// requestHandler abstracts the request-specific operations of the rate limiting flow.
type requestHandler interface {
	// GetContext returns the request context.
	GetContext() context.Context

	// GetKey extracts the rate limiting key from the request.
	// Returns key, bypass (whether to bypass rate limiting), and error.
	GetKey() (string, bool, error)

	// Execute processes the actual request.
	Execute() error

	// OnReject handles request rejection when rate limit is exceeded.
	OnReject(params processorParams) error

	// OnError handles errors that occur during rate limiting.
	OnError(params processorParams, err error) error
}

// requestProcessor handles the rate limiting logic shared by all requests.
type requestProcessor struct {
	limiter         limiter.Limiter
	getBacklogSlots backlogSlotsProvider
	backlogTimeout  time.Duration
}

// backlogParams defines parameters for the backlog processing.
type backlogParams struct {
	MaxKeys int
	Limit   int
	Timeout time.Duration
}

func newRequestProcessor(lim limiter.Limiter, backlog backlogParams) (*requestProcessor, error) {
	if backlog.Limit < 0 {
		return nil, fmt.Errorf("backlog limit should not be negative, got %d", backlog.Limit)
	}
	if backlog.MaxKeys < 0 {
		return nil, fmt.Errorf("max keys for backlog should not be negative, got %d", backlog.MaxKeys)
	}
	var getBacklogSlots backlogSlotsProvider
	if backlog.Limit > 0 {
		getBacklogSlots = newBacklogSlotsProvider(backlog.Limit, backlog.MaxKeys)
	}

	if backlog.Timeout == 0 {
		backlog.Timeout = DefaultRateLimitBacklogTimeout
	}

	return &requestProcessor{
		limiter:         lim,
		getBacklogSlots: getBacklogSlots,
		backlogTimeout:  backlog.Timeout,
	}, nil
}

// ProcessRequest contains the shared rate limiting logic.
func (p *requestProcessor) ProcessRequest(rh requestHandler) error {
	ctx := rh.GetContext()

	key, bypass, err := rh.GetKey()
	if err != nil {
		return rh.OnError(processorParams{Key: key}, fmt.Errorf("get key for rate limit: %w", err))
	}
	if bypass { // Rate limiting is bypassed for this request.
		return rh.Execute()
	}

	allow, retryAfter, err := p.limiter.Allow(ctx, key)
	if err != nil {
		return rh.OnError(processorParams{Key: key}, fmt.Errorf("rate limit: %w", err))
	}

	if allow {
		return rh.Execute()
	}

	if p.getBacklogSlots == nil { // Backlogging is disabled.
		return rh.OnReject(processorParams{
			Key:                 key,
			RequestBacklogged:   false,
			EstimatedRetryAfter: retryAfter,
		})
	}

	return p.processBacklog(rh, key, retryAfter)
}

// processBacklog contains the shared backlog processing logic.
func (p *requestProcessor) processBacklog(rh requestHandler, key string, retryAfter time.Duration) error {
	ctx := rh.GetContext()

	backlogSlots := p.getBacklogSlots(key)
	backlogged := false
	select {
	case backlogSlots <- struct{}{}:
		backlogged = true
	default:
		// There are no free slots in the backlog, reject the request immediately.
		return rh.OnReject(processorParams{
			Key:                 key,
			RequestBacklogged:   backlogged,
			EstimatedRetryAfter: retryAfter,
		})
	}

	freeBacklogSlotIfNeeded := func() {
		if backlogged {
			select {
			case <-backlogSlots:
				backlogged = false
			default:
			}
		}
	}

	defer freeBacklogSlotIfNeeded()

	backlogTimeoutTimer := time.NewTimer(p.backlogTimeout)
	defer backlogTimeoutTimer.Stop()

	retryTimer := time.NewTimer(retryAfter)
	defer retryTimer.Stop()

	var allow bool
	var err error

	for {
		select {
		case <-retryTimer.C:
			// Will do another check of the rate limit.
		case <-backlogTimeoutTimer.C:
			freeBacklogSlotIfNeeded()
			return rh.OnReject(processorParams{
				Key:                 key,
				RequestBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			})
		case <-ctx.Done():
			freeBacklogSlotIfNeeded()
			return rh.OnError(processorParams{
				Key:                 key,
				RequestBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			}, ctx.Err())
		}

		if allow, retryAfter, err = p.limiter.Allow(ctx, key); err != nil {
			freeBacklogSlotIfNeeded()
			return rh.OnError(processorParams{
				Key:                 key,
				RequestBacklogged:   backlogged,
				EstimatedRetryAfter: retryAfter,
			}, fmt.Errorf("rate limit: %w", err))
		}

		if allow {
			freeBacklogSlotIfNeeded()
			return rh.Execute()
		}

		if !retryTimer.Stop() {
			select {
			case <-retryTimer.C:
			default:
			}
		}
		retryTimer.Reset(retryAfter)
	}
}

// newBacklogSlotsProvider creates a new backlog slots provider.
func newBacklogSlotsProvider(backlogLimit, maxKeys int) backlogSlotsProvider {
	if maxKeys == 0 {
		backlogSlots := make(chan struct{}, backlogLimit)
		return func(key string) chan struct{} {
			return backlogSlots
		}
	}
	slotsZone, _ := keyzone.New[chan struct{}](maxKeys) // Error is always nil here, maxKeys is checked above.
	return func(key string) chan struct{} {
		backlogSlots, _ := slotsZone.GetOrAdd(key, func() chan struct{} {
			return make(chan struct{}, backlogLimit)
		})
		return backlogSlots
	}
}
