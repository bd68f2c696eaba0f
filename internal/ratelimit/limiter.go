// Package ratelimit implements sliding-window per-client-IP admission
// control with bounded memory.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/grpcgate/grpcgate/config"
)

// excludedPaths bypass the limiter unconditionally.
var excludedPaths = map[string]bool{
	"/health":           true,
	"/health/liveness":  true,
	"/health/readiness": true,
	"/health/live":      true,
	"/health/ready":     true,
	"/metrics":          true,
	"/api/health":       true,
}

// clientState tracks recent request timestamps for one client IP.
type clientState struct {
	timestamps []time.Time // ascending
	lastSeen   time.Time
}

// Limiter is a sliding-window rate limiter keyed by client IP. The client
// map is an LRU bounded to maxClients; inserting past the cap evicts the
// least-recently-seen client.
type Limiter struct {
	enabled bool
	limit   int
	window  time.Duration

	mu      sync.Mutex
	clients *simplelru.LRU[string, *clientState]

	now func() time.Time

	allowed  atomic.Int64
	rejected atomic.Int64
	evicted  atomic.Int64
}

// New creates a limiter from config.
func New(cfg config.RateLimitConfig) *Limiter {
	limit := cfg.RequestsPerWindow
	if limit <= 0 {
		limit = 60
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = 10000
	}

	l := &Limiter{
		enabled: cfg.Enabled,
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	// NewLRU only errors on non-positive size, which is guarded above.
	l.clients, _ = simplelru.NewLRU[string, *clientState](maxClients, func(string, *clientState) {
		l.evicted.Add(1)
	})
	return l
}

// Excluded reports whether a path bypasses rate limiting.
func Excluded(path string) bool {
	return excludedPaths[path]
}

// Check admits or rejects one request from ip at the current time.
// Returns whether the request is allowed and how many requests remain in
// the window.
func (l *Limiter) Check(ip string) (allowed bool, remaining int) {
	if !l.enabled {
		return true, l.limit
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.clients.Get(ip)
	if !ok {
		state = &clientState{}
		l.clients.Add(ip, state)
	}

	// Drop timestamps strictly older than the window start.
	i := 0
	for i < len(state.timestamps) && state.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		state.timestamps = append(state.timestamps[:0], state.timestamps[i:]...)
	}

	if len(state.timestamps) >= l.limit {
		l.rejected.Add(1)
		return false, 0
	}

	// Only admitted requests refresh lastSeen, so a client that keeps
	// hammering a full window still becomes sweep-eligible.
	state.timestamps = append(state.timestamps, now)
	state.lastSeen = now
	l.allowed.Add(1)
	return true, l.limit - len(state.timestamps)
}

// Limit returns the configured requests-per-window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Sweep drops clients whose window is empty and that have been inactive
// for at least two windows. Invoked periodically by the control loop.
// Returns the number of clients removed.
func (l *Limiter) Sweep() int {
	if !l.enabled {
		return 0
	}

	now := l.now()
	cutoff := now.Add(-l.window)
	idle := 2 * l.window

	l.mu.Lock()
	defer l.mu.Unlock()

	var stale []string
	for _, ip := range l.clients.Keys() {
		state, ok := l.clients.Peek(ip)
		if !ok {
			continue
		}

		i := 0
		for i < len(state.timestamps) && state.timestamps[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			state.timestamps = append(state.timestamps[:0], state.timestamps[i:]...)
		}

		if len(state.timestamps) == 0 && now.Sub(state.lastSeen) >= idle {
			stale = append(stale, ip)
		}
	}

	for _, ip := range stale {
		l.clients.Remove(ip)
	}
	return len(stale)
}

// Stats is a snapshot of limiter counters.
type Stats struct {
	TrackedClients int   `json:"tracked_clients"`
	Allowed        int64 `json:"allowed"`
	Rejected       int64 `json:"rejected"`
	Evicted        int64 `json:"evicted"`
}

// Stats returns current limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	tracked := l.clients.Len()
	l.mu.Unlock()

	return Stats{
		TrackedClients: tracked,
		Allowed:        l.allowed.Load(),
		Rejected:       l.rejected.Load(),
		Evicted:        l.evicted.Load(),
	}
}
