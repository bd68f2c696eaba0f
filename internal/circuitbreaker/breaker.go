// Package circuitbreaker tracks per-upstream failure state and rejects
// calls to upstreams that are failing.
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/grpcgate/grpcgate/config"
	"github.com/grpcgate/grpcgate/internal/errors"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker implements a Closed/Open/HalfOpen circuit breaker for one upstream.
// Open→HalfOpen is evaluated lazily on Admit, never on a timer.
type Breaker struct {
	mu               sync.Mutex
	state            State
	consecFailures   int
	consecSuccesses  int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration

	now func() time.Time

	// cumulative counters, atomic so Snapshot readers stay cheap
	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64
	totalRejected  atomic.Int64
}

// New creates a breaker, filling zero-valued parameters with defaults.
func New(cfg config.CircuitBreakerConfig) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 2
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
	}
}

// Admit decides whether a call may proceed. In Open state it transitions to
// HalfOpen once the open timeout has elapsed, permitting that attempt as the
// probe. Returns ErrBreakerOpen on rejection.
func (b *Breaker) Admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.openTimeout {
			b.state = StateHalfOpen
			b.consecSuccesses = 0
			b.consecFailures = 0
			return nil
		}
		b.totalRejected.Add(1)
		return errors.ErrBreakerOpen
	}

	return errors.ErrBreakerOpen
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.totalSuccesses.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecFailures = 0

	case StateHalfOpen:
		b.consecSuccesses++
		if b.consecSuccesses >= b.successThreshold {
			b.state = StateClosed
			b.consecFailures = 0
			b.consecSuccesses = 0
		}
	}
}

// RecordFailure records a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.totalFailures.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecFailures++
		if b.consecFailures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.consecSuccesses = 0
		}

	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.consecFailures = 0
		b.consecSuccesses = 0
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State            string `json:"state"`
	ConsecFailures   int    `json:"consecutive_failures"`
	ConsecSuccesses  int    `json:"consecutive_successes"`
	FailureThreshold int    `json:"failure_threshold"`
	SuccessThreshold int    `json:"success_threshold"`
	TotalFailures    int64  `json:"total_failures"`
	TotalSuccesses   int64  `json:"total_successes"`
	TotalRejected    int64  `json:"total_rejected"`
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	state := b.state
	consecFailures := b.consecFailures
	consecSuccesses := b.consecSuccesses
	b.mu.Unlock()

	return Snapshot{
		State:            state.String(),
		ConsecFailures:   consecFailures,
		ConsecSuccesses:  consecSuccesses,
		FailureThreshold: b.failureThreshold,
		SuccessThreshold: b.successThreshold,
		TotalFailures:    b.totalFailures.Load(),
		TotalSuccesses:   b.totalSuccesses.Load(),
		TotalRejected:    b.totalRejected.Load(),
	}
}

// Manager holds one breaker per upstream.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates an empty breaker manager.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

// Add registers a breaker for an upstream.
func (m *Manager) Add(upstream string, cfg config.CircuitBreakerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[upstream] = New(cfg)
}

// Get returns the breaker for an upstream, or nil if none is registered.
func (m *Manager) Get(upstream string) *Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[upstream]
}

// Snapshots returns snapshots of every registered breaker.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Snapshot, len(m.breakers))
	for name, b := range m.breakers {
		result[name] = b.Snapshot()
	}
	return result
}
