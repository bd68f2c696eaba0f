// Package pool maintains one long-lived multiplexed gRPC channel per
// upstream and performs unary calls with bounded retry.
package pool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/grpcgate/grpcgate/config"
	"github.com/grpcgate/grpcgate/internal/logging"
)

// Channel tuning. One multiplexed HTTP/2 channel per upstream.
const (
	tcpKeepalive     = 60 * time.Second
	http2PingPeriod  = 30 * time.Second
	keepaliveTimeout = 20 * time.Second
	connectTimeout   = 10 * time.Second
	healthTimeout    = 2 * time.Second
)

// Pool lazily creates and caches gRPC channels by upstream name.
// Creation is single-flight per upstream.
type Pool struct {
	upstreams map[string]config.UpstreamConfig

	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
	group singleflight.Group
}

// New creates a pool for the configured upstreams. No channels are
// opened until first use.
func New(upstreams map[string]config.UpstreamConfig) *Pool {
	return &Pool{
		upstreams: upstreams,
		conns:     make(map[string]*grpc.ClientConn),
	}
}

// Get returns the channel for an upstream, creating it on first use.
func (p *Pool) Get(ctx context.Context, upstream string) (grpc.ClientConnInterface, error) {
	p.mu.RLock()
	conn, ok := p.conns[upstream]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	v, err, _ := p.group.Do(upstream, func() (interface{}, error) {
		p.mu.RLock()
		existing, found := p.conns[upstream]
		p.mu.RUnlock()
		if found {
			return existing, nil
		}

		cfg, known := p.upstreams[upstream]
		if !known {
			return nil, fmt.Errorf("unknown upstream %q", upstream)
		}

		created, dialErr := dial(cfg)
		if dialErr != nil {
			return nil, dialErr
		}

		p.mu.Lock()
		p.conns[upstream] = created
		p.mu.Unlock()

		logging.Info("upstream channel created",
			zap.String("upstream", upstream),
			zap.String("endpoint", cfg.Endpoint),
			zap.Bool("tls", cfg.TLS.Enabled))
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*grpc.ClientConn), nil
}

// dial builds the channel with keepalive, connect timeout and optional TLS.
func dial(cfg config.UpstreamConfig) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if cfg.TLS.Enabled {
		caPEM, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLS.CAFile)
		}
		creds = credentials.NewTLS(&tls.Config{
			ServerName: cfg.TLS.Domain,
			RootCAs:    roots,
			MinVersion: tls.VersionTLS12,
		})
	}

	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: tcpKeepalive,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                http2PingPeriod,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: connectTimeout,
		}),
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		}),
	}

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Endpoint, err)
	}
	return conn, nil
}

// HealthCheck probes an upstream via grpc.health.v1 with a short timeout.
func (p *Pool) HealthCheck(ctx context.Context, upstream string) bool {
	conn, err := p.Get(ctx, upstream)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Services returns the configured upstream names, sorted.
func (p *Pool) Services() []string {
	names := make([]string, 0, len(p.upstreams))
	for name := range p.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Timeout returns the per-call timeout configured for an upstream.
func (p *Pool) Timeout(upstream string) time.Duration {
	if cfg, ok := p.upstreams[upstream]; ok && cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return config.DefaultUpstreamTimeout
}

// Close tears down every open channel.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, conn := range p.conns {
		if err := conn.Close(); err != nil {
			logging.Warn("closing upstream channel", zap.String("upstream", name), zap.Error(err))
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
}
