package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/grpcgate/grpcgate/config"
	"github.com/grpcgate/grpcgate/internal/auth"
	"github.com/grpcgate/grpcgate/internal/circuitbreaker"
	"github.com/grpcgate/grpcgate/internal/discovery"
	"github.com/grpcgate/grpcgate/internal/logging"
	"github.com/grpcgate/grpcgate/internal/metrics"
	"github.com/grpcgate/grpcgate/internal/pool"
	"github.com/grpcgate/grpcgate/internal/ratelimit"
	"github.com/grpcgate/grpcgate/internal/realip"
	"github.com/grpcgate/grpcgate/internal/router"
	"github.com/grpcgate/grpcgate/internal/tracing"
)

// Server owns every gateway component and the HTTP listener.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	pool       *pool.Pool
	authClient *auth.Client
	control    *Control
	tracer     *tracing.Tracer
}

// NewServer wires the full pipeline from config.
func NewServer(cfg *config.Config) (*Server, error) {
	extractor, err := realip.New(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	upstreamPool := pool.New(cfg.Upstreams)

	breakers := circuitbreaker.NewManager()
	for name, up := range cfg.Upstreams {
		breakers.Add(name, up.CircuitBreaker)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	routes := router.NewCell()

	authClient, err := auth.NewClient(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth client: %w", err)
	}
	gate := auth.NewGate(auth.NewPolicyCache(authClient), authClient)

	discoverer := discovery.New(cfg, upstreamPool)
	control := NewControl(discoverer, routes, limiter, breakers,
		cfg.Discovery.RefreshInterval, cfg.Discovery.StatsInterval)

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	dispatcher := NewDispatcher(limiter, routes, gate, breakers, upstreamPool,
		extractor, cfg.Server.MaxBodyBytes, cfg.Server.RequestTimeout)

	mux := http.NewServeMux()
	NewHealth(upstreamPool).Register(mux)
	NewAdmin(control, routes, breakers, authClient).Register(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", tracer.Middleware(dispatcher))

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
		pool:       upstreamPool,
		authClient: authClient,
		control:    control,
		tracer:     tracer,
	}, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// releases every channel.
func (s *Server) Run(ctx context.Context) error {
	controlCtx, stopControl := context.WithCancel(context.Background())
	defer stopControl()
	go s.control.Run(controlCtx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down", zap.Duration("drain_timeout", s.cfg.Shutdown.DrainTimeout))
	stopControl()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.DrainTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("drain incomplete, forcing close", zap.Error(err))
		s.httpServer.Close()
	}

	s.pool.Close()
	if err := s.authClient.Close(); err != nil {
		logging.Warn("closing auth channel", zap.Error(err))
	}
	if err := s.tracer.Close(); err != nil {
		logging.Warn("closing tracer", zap.Error(err))
	}
	return nil
}
