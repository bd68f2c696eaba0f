package gateway

import (
	"context"
	"net/http"
	"sync"
)

// UpstreamProber checks upstream reachability for readiness.
type UpstreamProber interface {
	HealthCheck(ctx context.Context, upstream string) bool
	Services() []string
}

// Health serves liveness and readiness. Liveness is unconditional: if
// the process can answer, it is live. Readiness probes every upstream.
type Health struct {
	prober UpstreamProber
}

// NewHealth creates the health surface over the connection pool.
func NewHealth(prober UpstreamProber) *Health {
	return &Health{prober: prober}
}

// Register mounts the health handlers on mux. Liveness and readiness
// answer under both the short and the long path form.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleLive)
	mux.HandleFunc("/health/live", h.handleLive)
	mux.HandleFunc("/health/liveness", h.handleLive)
	mux.HandleFunc("/health/ready", h.handleReady)
	mux.HandleFunc("/health/readiness", h.handleReady)
	mux.HandleFunc("/api/health", h.handleLive)
}

func (h *Health) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 200 only when every upstream answers its health
// probe. Probes run in parallel; each carries its own short deadline
// inside the pool.
func (h *Health) handleReady(w http.ResponseWriter, r *http.Request) {
	services := h.prober.Services()
	results := make(map[string]string, len(services))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	ready := true
	for _, name := range services {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ok := h.prober.HealthCheck(r.Context(), name)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				results[name] = "up"
			} else {
				results[name] = "down"
				ready = false
			}
		}(name)
	}
	wg.Wait()

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":   overall,
		"services": results,
	})
}
