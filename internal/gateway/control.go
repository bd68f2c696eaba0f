package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/grpcgate/grpcgate/internal/circuitbreaker"
	"github.com/grpcgate/grpcgate/internal/discovery"
	"github.com/grpcgate/grpcgate/internal/logging"
	"github.com/grpcgate/grpcgate/internal/metrics"
	"github.com/grpcgate/grpcgate/internal/ratelimit"
	"github.com/grpcgate/grpcgate/internal/router"
)

// RouteSource produces route entries, normally via reflection discovery.
type RouteSource interface {
	Refresh(ctx context.Context) discovery.Result
}

// Control owns the periodic maintenance work: route discovery and table
// swap, rate-limiter sweeps, and breaker stat refreshes for monitoring.
// Breaker timeouts are never time-triggered; they resolve lazily on
// admission.
type Control struct {
	discoverer RouteSource
	routes     *router.Cell
	limiter    *ratelimit.Limiter
	breakers   *circuitbreaker.Manager

	refreshInterval time.Duration
	statsInterval   time.Duration
}

// NewControl creates the control loop. Intervals are assumed to be
// validated and clamped by the config loader.
func NewControl(
	discoverer RouteSource,
	routes *router.Cell,
	limiter *ratelimit.Limiter,
	breakers *circuitbreaker.Manager,
	refreshInterval, statsInterval time.Duration,
) *Control {
	return &Control{
		discoverer:      discoverer,
		routes:          routes,
		limiter:         limiter,
		breakers:        breakers,
		refreshInterval: refreshInterval,
		statsInterval:   statsInterval,
	}
}

// Run blocks until ctx is done, driving both tickers. An initial
// discovery pass runs immediately so the gateway starts with routes.
func (c *Control) Run(ctx context.Context) {
	c.RefreshRoutes(ctx)

	refresh := time.NewTicker(c.refreshInterval)
	defer refresh.Stop()
	stats := time.NewTicker(c.statsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			c.RefreshRoutes(ctx)
			removed := c.limiter.Sweep()
			if removed > 0 {
				logging.Debug("rate limiter sweep", zap.Int("removed_clients", removed))
			}
		case <-stats.C:
			c.publishStats()
		}
	}
}

// RefreshRoutes runs one discovery pass and atomically installs the new
// route table. Also used by the admin refresh endpoint.
func (c *Control) RefreshRoutes(ctx context.Context) discovery.Result {
	res := c.discoverer.Refresh(ctx)

	// Lenient build: discovery output may contain convention collisions
	// across services; first entry wins and each dedup is logged.
	table, err := router.Build(res.Entries, false)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		logging.Error("route table build failed, keeping previous table", zap.Error(err))
		return res
	}

	old := c.routes.Swap(table)
	res.RoutesDiscovered = table.Len()
	metrics.DiscoveredRoutes.Set(float64(table.Len()))

	logging.Info("route table refreshed",
		zap.Int("routes", table.Len()),
		zap.Int("previous_routes", old.Len()),
		zap.Int("services_queried", res.ServicesQueried),
		zap.Int("skipped_methods", res.SkippedMethods),
		zap.Int("errors", len(res.Errors)))
	return res
}

// publishStats pushes breaker and limiter state into the metrics gauges.
func (c *Control) publishStats() {
	for upstream, snap := range c.breakers.Snapshots() {
		var state float64
		switch snap.State {
		case "open":
			state = 1
		case "half_open":
			state = 2
		}
		metrics.BreakerState.WithLabelValues(upstream).Set(state)
	}
	metrics.RateLimitTrackedClients.Set(float64(c.limiter.Stats().TrackedClients))
}
