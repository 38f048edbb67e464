/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-ratelimit/internal/libinfo"
)

const (
	metricsLabelDryRun = "dry_run"
	metricsLabelZone   = "zone"
)

const (
	metricsValYes = "yes"
	metricsValNo  = "no"
)

// MetricsCollector is a collector of metrics for rate limiting rejects and bypasses.
type MetricsCollector interface {
	// IncRateLimitRejects increments the counter of requests rejected because the rate limit is exceeded.
	IncRateLimitRejects(zone string, dryRun bool)

	// IncRateLimitBypasses increments the counter of requests that bypassed rate limiting
	// because their key is whitelisted.
	IncRateLimitBypasses(zone string)
}

type disabledMetrics struct{}

func (disabledMetrics) IncRateLimitRejects(zone string, dryRun bool) {}
func (disabledMetrics) IncRateLimitBypasses(zone string)             {}

// PrometheusMetrics is a Prometheus-based implementation of the MetricsCollector interface.
type PrometheusMetrics struct {
	RateLimitRejects  *prometheus.CounterVec
	RateLimitBypasses *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	rateLimitRejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "rate_limit_rejects_total",
		Help:        "Number of rejected requests due to rate limit exceeded.",
		ConstLabels: libinfo.AddPrometheusLibVersionLabel(nil),
	}, []string{metricsLabelZone, metricsLabelDryRun})

	rateLimitBypasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "rate_limit_bypasses_total",
		Help:        "Number of requests that bypassed rate limiting because of whitelisting.",
		ConstLabels: libinfo.AddPrometheusLibVersionLabel(nil),
	}, []string{metricsLabelZone})

	return &PrometheusMetrics{
		RateLimitRejects:  rateLimitRejects,
		RateLimitBypasses: rateLimitBypasses,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.RateLimitRejects,
		pm.RateLimitBypasses,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.RateLimitRejects)
	prometheus.Unregister(pm.RateLimitBypasses)
}

// IncRateLimitRejects increments the counter of requests rejected because the rate limit is exceeded.
func (pm *PrometheusMetrics) IncRateLimitRejects(zone string, dryRun bool) {
	dryRunVal := metricsValNo
	if dryRun {
		dryRunVal = metricsValYes
	}
	pm.RateLimitRejects.With(prometheus.Labels{metricsLabelZone: zone, metricsLabelDryRun: dryRunVal}).Inc()
}

// IncRateLimitBypasses increments the counter of requests that bypassed rate limiting.
func (pm *PrometheusMetrics) IncRateLimitBypasses(zone string) {
	pm.RateLimitBypasses.With(prometheus.Labels{metricsLabelZone: zone}).Inc()
}
