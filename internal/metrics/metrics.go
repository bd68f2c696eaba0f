// Package metrics defines the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total HTTP requests handled, by method, upstream and status code.",
	}, []string{"method", "upstream", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "End-to-end request latency.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"upstream"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_ratelimit_rejections_total",
		Help: "Requests rejected by the rate limiter.",
	})

	RateLimitTrackedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_ratelimit_tracked_clients",
		Help: "Client IPs currently tracked by the rate limiter.",
	})

	// 0=closed, 1=open, 2=half_open
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_circuit_breaker_state",
		Help: "Circuit breaker state per upstream (0=closed, 1=open, 2=half_open).",
	}, []string{"upstream"})

	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_circuit_breaker_rejections_total",
		Help: "Calls rejected by an open circuit breaker.",
	}, []string{"upstream"})

	DiscoveryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_discovery_runs_total",
		Help: "Reflection discovery attempts per upstream and result.",
	}, []string{"upstream", "result"})

	DiscoveredRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_discovered_routes",
		Help: "Routes in the active route table.",
	})

	SkippedMethods = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_discovery_skipped_methods",
		Help: "Methods seen in the last discovery round that matched no naming convention.",
	})

	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_retries_total",
		Help: "Retried upstream call attempts.",
	}, []string{"upstream"})

	AuthDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_auth_decisions_total",
		Help: "Auth gate outcomes.",
	}, []string{"decision"})

	PolicyCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_policy_cache_events_total",
		Help: "Policy cache lookups by outcome.",
	}, []string{"event"})
)

// Handler returns the HTTP handler serving the Prometheus text exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}
