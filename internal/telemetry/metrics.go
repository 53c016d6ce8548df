// Package telemetry provides observability primitives for the proxy.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the proxy.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	// CacheHits/CacheMisses count dedup.Cache lookups (spec.md §4.4):
	// a hit means an in-flight or replayed fingerprint matched.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	TokensProcessed *prometheus.CounterVec

	CircuitBreakerState   *prometheus.GaugeVec   // labels: target, state
	CircuitBreakerRejects *prometheus.CounterVec // labels: target

	// PaymentChallengesTotal counts HTTP 402 challenges observed per
	// model (spec.md §4.2 "Payment Engine").
	PaymentChallengesTotal *prometheus.CounterVec // labels: model
	// PaymentRejectedTotal counts the fatal second-402 case that
	// surfaces to the client instead of retrying.
	PaymentRejectedTotal *prometheus.CounterVec // labels: model

	// RoutingDecisionsTotal counts routing outcomes by method and tier
	// (spec.md §4.1's scored/forced/default/free_fallback methods).
	RoutingDecisionsTotal *prometheus.CounterVec // labels: method, tier
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "clawrouter",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clawrouter",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "dedup_cache_hits_total",
			Help:      "Total dedup cache lookups that matched an in-flight or completed fingerprint.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "dedup_cache_misses_total",
			Help:      "Total dedup cache lookups that started a new upstream send.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clawrouter",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per target (0=closed, 1=open, 2=half_open).",
		}, []string{"target"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by circuit breaker.",
		}, []string{"target"}),

		PaymentChallengesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "payment_challenges_total",
			Help:      "Total HTTP 402 payment challenges received from upstream.",
		}, []string{"model"}),

		PaymentRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "payment_rejected_total",
			Help:      "Total signed authorizations rejected with a second 402.",
		}, []string{"model"}),

		RoutingDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clawrouter",
			Name:      "routing_decisions_total",
			Help:      "Total routing decisions by method and tier.",
		}, []string{"method", "tier"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.TokensProcessed,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
		m.PaymentChallengesTotal,
		m.PaymentRejectedTotal,
		m.RoutingDecisionsTotal,
	)

	return m
}
