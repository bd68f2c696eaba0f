package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/grpcgate/grpcgate/internal/logging"
	"github.com/grpcgate/grpcgate/internal/metrics"
)

// Cache TTLs: successful fetches live longer than negative entries, so a
// flapping auth service is retried reasonably soon.
const (
	successTTL  = 300 * time.Second
	negativeTTL = 60 * time.Second
)

// Policy is the auth requirement for one gRPC method.
type Policy struct {
	RequireAuth   bool
	RequiredRoles []string
}

// conservative is the fallback installed when the policy fetch fails:
// require a valid token, no role restriction.
var conservative = Policy{RequireAuth: true}

// PolicyFetcher fetches policies from the auth service.
type PolicyFetcher interface {
	GetAuthPolicy(ctx context.Context, grpcMethod string) (*GetAuthPolicyResponse, error)
}

type policyEntry struct {
	policy   Policy
	cachedAt time.Time
	ttl      time.Duration
}

// PolicyCache caches per-method auth policies with positive and negative
// TTLs. Concurrent misses for the same method are coalesced.
type PolicyCache struct {
	fetcher PolicyFetcher

	mu      sync.RWMutex
	entries map[string]policyEntry
	group   singleflight.Group

	now func() time.Time
}

// NewPolicyCache creates an empty policy cache backed by fetcher.
func NewPolicyCache(fetcher PolicyFetcher) *PolicyCache {
	return &PolicyCache{
		fetcher: fetcher,
		entries: make(map[string]policyEntry),
		now:     time.Now,
	}
}

// Lookup returns the policy for a gRPC method, fetching on miss or
// expiry. Fetch failures degrade to the conservative policy, negatively
// cached; they never surface an error to the caller.
func (pc *PolicyCache) Lookup(ctx context.Context, grpcMethod string) Policy {
	if p, ok := pc.cached(grpcMethod); ok {
		metrics.PolicyCacheEvents.WithLabelValues("hit").Inc()
		return p
	}

	v, _, _ := pc.group.Do(grpcMethod, func() (interface{}, error) {
		// Another caller may have filled the entry while we waited on
		// the flight group.
		if p, ok := pc.cached(grpcMethod); ok {
			return p, nil
		}

		resp, err := pc.fetcher.GetAuthPolicy(ctx, grpcMethod)
		if err != nil {
			metrics.PolicyCacheEvents.WithLabelValues("negative").Inc()
			logging.Warn("policy fetch failed, using conservative fallback",
				zap.String("grpc_method", grpcMethod),
				zap.Error(err))
			pc.store(grpcMethod, conservative, negativeTTL)
			return conservative, nil
		}

		metrics.PolicyCacheEvents.WithLabelValues("miss").Inc()
		p := Policy{RequireAuth: resp.RequireAuth, RequiredRoles: resp.RequiredRoles}
		ttl := successTTL
		if resp.CacheTTLSeconds > 0 {
			ttl = time.Duration(resp.CacheTTLSeconds) * time.Second
		}
		pc.store(grpcMethod, p, ttl)
		return p, nil
	})
	return v.(Policy)
}

// cached returns a live entry. An entry whose age equals its TTL is
// expired.
func (pc *PolicyCache) cached(grpcMethod string) (Policy, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	e, ok := pc.entries[grpcMethod]
	if !ok || pc.now().Sub(e.cachedAt) >= e.ttl {
		return Policy{}, false
	}
	return e.policy, true
}

func (pc *PolicyCache) store(grpcMethod string, p Policy, ttl time.Duration) {
	pc.mu.Lock()
	pc.entries[grpcMethod] = policyEntry{policy: p, cachedAt: pc.now(), ttl: ttl}
	pc.mu.Unlock()
}
