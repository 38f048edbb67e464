/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware provides HTTP middleware for limiting the rate of incoming requests.
//
// The middleware may limit all requests with a single shared limit or keep a
// separate limit per key extracted from the request (client address, header
// value, or a custom function). Whitelisted keys skip limiting, rejected and
// whitelisted requests may be recorded in an audit trail and reported to a
// metrics collector, and the dry-run mode allows assessing the effect of a
// limit before enforcing it.
//
// Limits may be constructed directly (RateLimit, RateLimitWithOpts) or from a
// configuration with named zones (Config, RateLimitZone).
package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-ratelimit/audit"
	"github.com/acronis/go-ratelimit/limiter"
	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/whitelist"
)

// DefaultRateLimitMaxKeys is a default value of maximum keys number for the RateLimit middleware.
const DefaultRateLimitMaxKeys = 10000

// DefaultRateLimitBacklogTimeout determines how long the HTTP request may be in the backlog status.
const DefaultRateLimitBacklogTimeout = time.Second * 5

// RateLimitErrCode is an error code that is used in a response body
// if the request is rejected by the middleware that limits the rate of HTTP requests.
const RateLimitErrCode = "tooManyRequests"

// RateLimitLogFieldKey it is the name of the logged field that contains a key for the requests rate limiter.
const RateLimitLogFieldKey = "rate_limit_key"

// RateLimitZoneLogFieldKey it is the name of the logged field that contains a name of the rate limiting zone.
const RateLimitZoneLogFieldKey = "rate_limit_zone"

const userAgentLogFieldKey = "user_agent"

// RateLimitAuditAction is the action recorded in audit events emitted by the RateLimit middleware.
const RateLimitAuditAction = "http_request"

// RateLimitAlg represents a type for specifying rate-limiting algorithm.
type RateLimitAlg int

// Supported rate-limiting algorithms.
const (
	RateLimitAlgTokenBucket RateLimitAlg = iota
	RateLimitAlgLeakyBucket
	RateLimitAlgSlidingWindow
)

// Rate describes the frequency of requests.
type Rate = limiter.Rate

// RateLimitParams contains data that relates to the rate limiting procedure
// and could be used for rejecting or handling an occurred error.
type RateLimitParams struct {
	ErrDomain           string
	ResponseStatusCode  int
	GetRetryAfter       RateLimitGetRetryAfterFunc
	Key                 string
	MaxRate             Rate
	RequestBacklogged   bool
	EstimatedRetryAfter time.Duration
}

// RateLimitGetRetryAfterFunc is a function that is called to get a value for Retry-After response HTTP header
// when the rate limit is exceeded.
type RateLimitGetRetryAfterFunc func(r *http.Request, estimatedTime time.Duration) time.Duration

// RateLimitOnRejectFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnRejectFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger)

// RateLimitOnErrorFunc is a function that is called for rejecting HTTP request when the rate limit is exceeded.
type RateLimitOnErrorFunc func(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger)

// RateLimitGetKeyFunc is a function that is called for getting key for rate limiting.
type RateLimitGetKeyFunc func(r *http.Request) (key string, bypass bool, err error)

type rateLimitHandler struct {
	next           http.Handler
	processor      *requestProcessor
	getKey         RateLimitGetKeyFunc
	errDomain      string
	respStatusCode int
	getRetryAfter  RateLimitGetRetryAfterFunc
	maxRate        Rate
	zoneName       string
	whitelist      *whitelist.Registry
	auditTrail     *audit.Trail
	metrics        MetricsCollector
	dryRun         bool

	onReject RateLimitOnRejectFunc
	onError  RateLimitOnErrorFunc
}

func (h *rateLimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	reqHandler := &rateLimitRequestHandler{rw: rw, r: r, parent: h}
	_ = h.processor.ProcessRequest(reqHandler) // Error is always nil, as it is handled in the rateLimitRequestHandler methods.
}

func (h *rateLimitHandler) observeBypass(key string) {
	h.metrics.IncRateLimitBypasses(h.zoneName)
	if h.auditTrail != nil {
		h.auditTrail.Append(RateLimitAuditAction, audit.DecisionBypassed, h.auditMetadata(key, false))
	}
}

func (h *rateLimitHandler) observeReject(key string) {
	h.metrics.IncRateLimitRejects(h.zoneName, h.dryRun)
	if h.auditTrail != nil {
		h.auditTrail.Append(RateLimitAuditAction, audit.DecisionRejected, h.auditMetadata(key, h.dryRun))
	}
}

func (h *rateLimitHandler) auditMetadata(key string, dryRun bool) map[string]string {
	md := map[string]string{"key": key}
	if h.zoneName != "" {
		md["zone"] = h.zoneName
	}
	if dryRun {
		md["dry_run"] = "true"
	}
	return md
}

// rateLimitRequestHandler implements requestHandler for HTTP requests.
type rateLimitRequestHandler struct {
	rw     http.ResponseWriter
	r      *http.Request
	parent *rateLimitHandler
}

func (h *rateLimitRequestHandler) GetContext() context.Context {
	return h.r.Context()
}

func (h *rateLimitRequestHandler) GetKey() (key string, bypass bool, err error) {
	if h.parent.getKey == nil {
		return "", false, nil
	}
	key, bypass, err = h.parent.getKey(h.r)
	if err != nil || bypass {
		return key, bypass, err
	}
	if h.parent.whitelist != nil && h.parent.whitelist.Contains(key) {
		h.parent.observeBypass(key)
		return key, true, nil
	}
	return key, false, nil
}

func (h *rateLimitRequestHandler) Execute() error {
	h.parent.next.ServeHTTP(h.rw, h.r)
	return nil
}

func (h *rateLimitRequestHandler) OnReject(params processorParams) error {
	h.parent.observeReject(params.Key)
	h.parent.onReject(h.rw, h.r, h.convertParams(params), h.parent.next, h.logger())
	return nil
}

func (h *rateLimitRequestHandler) OnError(params processorParams, err error) error {
	h.parent.onError(h.rw, h.r, h.convertParams(params), err, h.parent.next, h.logger())
	return nil
}

func (h *rateLimitRequestHandler) logger() log.FieldLogger {
	logger := GetLoggerFromContext(h.r.Context())
	if logger != nil && h.parent.zoneName != "" {
		logger = logger.With(log.String(RateLimitZoneLogFieldKey, h.parent.zoneName))
	}
	return logger
}

func (h *rateLimitRequestHandler) convertParams(params processorParams) RateLimitParams {
	return RateLimitParams{
		ErrDomain:           h.parent.errDomain,
		ResponseStatusCode:  h.parent.respStatusCode,
		GetRetryAfter:       h.parent.getRetryAfter,
		Key:                 params.Key,
		MaxRate:             h.parent.maxRate,
		RequestBacklogged:   params.RequestBacklogged,
		EstimatedRetryAfter: params.EstimatedRetryAfter,
	}
}

// RateLimitOpts represents an options for the RateLimit middleware.
type RateLimitOpts struct {
	Alg                RateLimitAlg
	MaxBurst           int
	GetKey             RateLimitGetKeyFunc
	MaxKeys            int
	ResponseStatusCode int
	GetRetryAfter      RateLimitGetRetryAfterFunc
	DryRun             bool
	BacklogLimit       int
	BacklogTimeout     time.Duration

	// ZoneName is used as a zone label in metrics and audit events and is logged on rejects.
	ZoneName string

	// Whitelist allows requests with whitelisted keys to skip rate limiting.
	Whitelist *whitelist.Registry

	// AuditTrail records rejected and whitelisted requests when it is not nil.
	AuditTrail *audit.Trail

	// Metrics collects rejects and bypasses. No metrics are collected if it is nil.
	Metrics MetricsCollector

	OnReject         RateLimitOnRejectFunc
	OnRejectInDryRun RateLimitOnRejectFunc
	OnError          RateLimitOnErrorFunc
}

// RateLimit is a middleware that limits the rate of HTTP requests.
func RateLimit(maxRate Rate, errDomain string) (func(next http.Handler) http.Handler, error) {
	return RateLimitWithOpts(maxRate, errDomain, RateLimitOpts{GetRetryAfter: GetRetryAfterEstimatedTime})
}

// MustRateLimit is a version of RateLimit that panics if an error occurs.
func MustRateLimit(maxRate Rate, errDomain string) func(next http.Handler) http.Handler {
	mw, err := RateLimit(maxRate, errDomain)
	if err != nil {
		panic(err)
	}
	return mw
}

// RateLimitWithOpts is a configurable version of a middleware to limit the rate of HTTP requests.
func RateLimitWithOpts(maxRate Rate, errDomain string, opts RateLimitOpts) (func(next http.Handler) http.Handler, error) {
	maxKeys := 0
	if opts.GetKey != nil {
		maxKeys = opts.MaxKeys
		if maxKeys == 0 {
			maxKeys = DefaultRateLimitMaxKeys
		}
	}

	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusServiceUnavailable
	}

	makeLimiter := func() (limiter.Limiter, error) {
		switch opts.Alg {
		case RateLimitAlgTokenBucket:
			if maxRate.Count <= 0 || maxRate.Duration <= 0 {
				return nil, fmt.Errorf("max rate should be positive, got %q", maxRate)
			}
			if opts.MaxBurst < 0 {
				return nil, fmt.Errorf("max burst should not be negative, got %d", opts.MaxBurst)
			}
			// A fresh token bucket admits its full capacity at once,
			// so the capacity is the steady one request plus the allowed burst.
			bucket, err := limiter.NewTokenBucket(opts.MaxBurst+1, maxRate.PerSecond(), maxKeys)
			if err != nil {
				return nil, err
			}
			return limiter.NewSerialized(bucket), nil
		case RateLimitAlgLeakyBucket:
			return limiter.NewLeakyBucketLimiter(maxRate, opts.MaxBurst, maxKeys)
		case RateLimitAlgSlidingWindow:
			return limiter.NewSlidingWindowLimiter(maxRate, maxKeys)
		default:
			return nil, fmt.Errorf("unknown rate limit alg")
		}
	}
	lim, err := makeLimiter()
	if err != nil {
		return nil, err
	}

	backlog := backlogParams{
		MaxKeys: maxKeys,
		Limit:   opts.BacklogLimit,
		Timeout: opts.BacklogTimeout,
	}
	if opts.DryRun {
		backlog.Limit = 0 // Backlogging should be disabled in dry-run mode to avoid blocking requests.
	}
	processor, err := newRequestProcessor(lim, backlog)
	if err != nil {
		return nil, fmt.Errorf("new rate limit request processor: %w", err)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}

	return func(next http.Handler) http.Handler {
		return &rateLimitHandler{
			next:           next,
			processor:      processor,
			errDomain:      errDomain,
			getKey:         opts.GetKey,
			getRetryAfter:  opts.GetRetryAfter,
			respStatusCode: respStatusCode,
			maxRate:        maxRate,
			zoneName:       opts.ZoneName,
			whitelist:      opts.Whitelist,
			auditTrail:     opts.AuditTrail,
			metrics:        metrics,
			dryRun:         opts.DryRun,
			onReject:       makeRateLimitOnRejectFunc(opts),
			onError:        makeRateLimitOnErrorFunc(opts),
		}
	}, nil
}

// MustRateLimitWithOpts is a version of RateLimitWithOpts that panics if an error occurs.
func MustRateLimitWithOpts(maxRate Rate, errDomain string, opts RateLimitOpts) func(next http.Handler) http.Handler {
	mw, err := RateLimitWithOpts(maxRate, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

// GetRetryAfterEstimatedTime returns estimated time after that the client may retry the request.
func GetRetryAfterEstimatedTime(_ *http.Request, estimatedTime time.Duration) time.Duration {
	return estimatedTime
}

// DefaultRateLimitOnReject sends HTTP response in a typical go-ratelimit way when the rate limit is exceeded,
// or when the request is backlogged and the backlog limit is exceeded.
func DefaultRateLimitOnReject(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger = logger.With(
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	rw.Header().Set("X-RateLimit-Limit", strconv.Itoa(params.MaxRate.Count))
	rw.Header().Set("X-RateLimit-Remaining", "0")
	if params.GetRetryAfter != nil {
		rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(params.GetRetryAfter(r, params.EstimatedRetryAfter).Seconds()))))
	}
	apiErr := NewError(params.ErrDomain, RateLimitErrCode, "Too many requests.")
	RespondError(rw, params.ResponseStatusCode, apiErr, logger)
}

// DefaultRateLimitOnError sends HTTP response in a typical go-ratelimit way in case when an error occurs
// during the rate limiting.
func DefaultRateLimitOnError(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, err error, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Error(err.Error(), log.String(RateLimitLogFieldKey, params.Key))
	}
	RespondInternalError(rw, params.ErrDomain, logger)
}

// DefaultRateLimitOnRejectInDryRun sends HTTP response in a typical go-ratelimit way
// when the rate limit is exceeded in the dry-run mode.
func DefaultRateLimitOnRejectInDryRun(
	rw http.ResponseWriter, r *http.Request, params RateLimitParams, next http.Handler, logger log.FieldLogger,
) {
	if logger != nil {
		logger.Warn("too many requests, serving will be continued because of dry run mode",
			log.String(RateLimitLogFieldKey, params.Key),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	next.ServeHTTP(rw, r)
}

func makeRateLimitOnRejectFunc(opts RateLimitOpts) RateLimitOnRejectFunc {
	if opts.DryRun {
		if opts.OnRejectInDryRun != nil {
			return opts.OnRejectInDryRun
		}
		return DefaultRateLimitOnRejectInDryRun
	}
	if opts.OnReject != nil {
		return opts.OnReject
	}
	return DefaultRateLimitOnReject
}

func makeRateLimitOnErrorFunc(opts RateLimitOpts) RateLimitOnErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return DefaultRateLimitOnError
}
