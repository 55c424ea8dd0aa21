// Package metrics provides Prometheus metrics collection for the auth gate.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global metrics - used by the application
	// Using atomic.Pointer for lock-free initialization checks on hot path metrics.
	requestsTotal       atomic.Pointer[prometheus.CounterVec]
	requestDuration     atomic.Pointer[prometheus.HistogramVec]
	checkDecisionsTotal atomic.Pointer[prometheus.CounterVec]
	tokenEventsTotal    atomic.Pointer[prometheus.CounterVec]
	probeDuration       atomic.Pointer[prometheus.HistogramVec]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	// HTTP request counter: tracks all requests by method, path (normalized), and status code
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	// Request duration histogram: tracks latency distribution
	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	// Authorization decision counter
	checkDecisionsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Subsystem: "gate",
			Name:      "check_decisions_total",
			Help:      "Total number of authorization decisions by outcome and deny reason",
		},
		[]string{"outcome", "reason"},
	)
	if err := reg.Register(checkDecisionsTotalVec); err != nil {
		return fmt.Errorf("failed to register checkDecisionsTotal: %w", err)
	}

	// Token lifecycle event counter
	tokenEventsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "authgate",
			Subsystem: "token",
			Name:      "events_total",
			Help:      "Total number of token lifecycle events by type and token class",
		},
		[]string{"event", "class"},
	)
	if err := reg.Register(tokenEventsTotalVec); err != nil {
		return fmt.Errorf("failed to register tokenEventsTotal: %w", err)
	}

	// Bot probe duration histogram
	probeDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "authgate",
			Subsystem: "registry",
			Name:      "probe_duration_seconds",
			Help:      "Bot liveness probe duration in seconds by result",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	if err := reg.Register(probeDurationVec); err != nil {
		return fmt.Errorf("failed to register probeDuration: %w", err)
	}

	// Store metrics in atomics for lock-free access in record functions
	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	checkDecisionsTotal.Store(checkDecisionsTotalVec)
	tokenEventsTotal.Store(tokenEventsTotalVec)
	probeDuration.Store(probeDurationVec)

	return nil
}

// RecordRequest increments the requests counter for the given method, path, and status code.
// The path should be normalized (e.g., "/v1/tokens/:id" instead of a concrete id).
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records the latency for a request in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordCheckDecision increments the decision counter. The reason label is
// empty for allowed decisions.
func RecordCheckDecision(outcome, reason string) {
	if counter := checkDecisionsTotal.Load(); counter != nil {
		counter.WithLabelValues(outcome, reason).Inc()
	}
}

// RecordTokenEvent increments the token lifecycle event counter.
// Common events: "issued", "verified", "revoked", "expired_purge".
func RecordTokenEvent(event, class string) {
	if counter := tokenEventsTotal.Load(); counter != nil {
		counter.WithLabelValues(event, class).Inc()
	}
}

// RecordTokenEvents adds n occurrences of a token lifecycle event at once,
// for batch operations like the expiry purge.
func RecordTokenEvents(event, class string, n int64) {
	if counter := tokenEventsTotal.Load(); counter != nil {
		counter.WithLabelValues(event, class).Add(float64(n))
	}
}

// RecordProbeDuration records one bot liveness probe.
// Result is "ok" or "error".
func RecordProbeDuration(result string, durationSeconds float64) {
	if histogram := probeDuration.Load(); histogram != nil {
		histogram.WithLabelValues(result).Observe(durationSeconds)
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
