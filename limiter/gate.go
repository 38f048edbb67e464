/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-ratelimit/audit"
	"github.com/acronis/go-ratelimit/log"
	"github.com/acronis/go-ratelimit/whitelist"
)

// DefaultGateAuditAction is the action recorded in audit events emitted by Gate
// when no other action is configured with WithAuditAction.
const DefaultGateAuditAction = "request"

// Decision describes the outcome of a single Gate check.
type Decision struct {
	// Allowed reports whether the action may proceed.
	Allowed bool

	// Bypassed reports whether limiting was skipped because the key is whitelisted.
	Bypassed bool

	// Key is the key the decision was made for.
	Key string

	// RetryAfter estimates how long the caller should wait before retrying.
	// It is zero for allowed actions and may be zero for rejected ones
	// when the limiter cannot give an estimate.
	RetryAfter time.Duration
}

// Gate wraps a Limiter with the policy around it: whitelisted keys bypass
// limiting entirely, every verdict may be recorded in an audit trail, and in
// dry-run mode rejected actions are admitted anyway while still being recorded,
// which allows assessing the effect of a limit before enforcing it.
type Gate struct {
	limiter     Limiter
	whitelist   *whitelist.Registry
	auditTrail  *audit.Trail
	auditAction string
	logger      log.FieldLogger
	dryRun      bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithWhitelist makes the Gate admit keys from the registry without consulting
// the limiter.
func WithWhitelist(registry *whitelist.Registry) GateOption {
	return func(g *Gate) {
		g.whitelist = registry
	}
}

// WithAuditTrail makes the Gate record every verdict in the trail.
func WithAuditTrail(trail *audit.Trail) GateOption {
	return func(g *Gate) {
		g.auditTrail = trail
	}
}

// WithAuditAction sets the action name for recorded audit events.
func WithAuditAction(action string) GateOption {
	return func(g *Gate) {
		g.auditAction = action
	}
}

// WithGateLogger sets the logger for rejected checks.
func WithGateLogger(logger log.FieldLogger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithDryRun enables dry-run mode: rejected actions are admitted,
// but still audited and logged as rejected.
func WithDryRun(enabled bool) GateOption {
	return func(g *Gate) {
		g.dryRun = enabled
	}
}

// NewGate creates a new Gate around the passed limiter.
func NewGate(limiter Limiter, options ...GateOption) *Gate {
	g := &Gate{limiter: limiter, auditAction: DefaultGateAuditAction, logger: log.NewDisabledLogger()}
	for i := range options {
		options[i](g)
	}
	return g
}

// Check decides whether the action identified by key may proceed.
// The returned error comes from the underlying limiter (for example, Redis
// being unreachable); the Decision is zero-valued apart from Key in that case.
func (g *Gate) Check(ctx context.Context, key string) (Decision, error) {
	if g.whitelist != nil && g.whitelist.Contains(key) {
		g.record(key, audit.DecisionBypassed, nil)
		return Decision{Allowed: true, Bypassed: true, Key: key}, nil
	}

	allow, retryAfter, err := g.limiter.Allow(ctx, key)
	if err != nil {
		return Decision{Key: key}, fmt.Errorf("rate limit: %w", err)
	}

	if allow {
		g.record(key, audit.DecisionAllowed, nil)
		return Decision{Allowed: true, Key: key}, nil
	}

	if g.dryRun {
		g.record(key, audit.DecisionRejected, map[string]string{"dry_run": "true"})
		g.logger.Warn("rate limit exceeded, serving will be continued because of dry run mode",
			log.String("key", key), log.DurationIn(retryAfter, time.Millisecond))
		return Decision{Allowed: true, Key: key, RetryAfter: retryAfter}, nil
	}

	g.record(key, audit.DecisionRejected, nil)
	g.logger.Warn("rate limit exceeded",
		log.String("key", key), log.DurationIn(retryAfter, time.Millisecond))
	return Decision{Allowed: false, Key: key, RetryAfter: retryAfter}, nil
}

func (g *Gate) record(key string, decision audit.Decision, metadata map[string]string) {
	if g.auditTrail == nil {
		return
	}
	md := map[string]string{"key": key}
	for k, v := range metadata {
		md[k] = v
	}
	g.auditTrail.Append(g.auditAction, decision, md)
}
