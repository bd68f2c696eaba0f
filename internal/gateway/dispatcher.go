// Package gateway wires the request pipeline: rate limiting, routing,
// auth, circuit breaking, translation and the upstream call.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/grpcgate/grpcgate/internal/circuitbreaker"
	gwerrors "github.com/grpcgate/grpcgate/internal/errors"
	"github.com/grpcgate/grpcgate/internal/logging"
	"github.com/grpcgate/grpcgate/internal/metrics"
	"github.com/grpcgate/grpcgate/internal/pool"
	"github.com/grpcgate/grpcgate/internal/ratelimit"
	"github.com/grpcgate/grpcgate/internal/realip"
	"github.com/grpcgate/grpcgate/internal/router"
	"github.com/grpcgate/grpcgate/internal/trace"
	"github.com/grpcgate/grpcgate/internal/translate"
)

// RateLimiter is the admission check the dispatcher runs per client IP.
type RateLimiter interface {
	Check(ip string) (allowed bool, remaining int)
	Limit() int
	Window() time.Duration
}

// TableProvider hands out the current route table snapshot.
type TableProvider interface {
	Load() *router.Table
}

// Authorizer applies the auth policy for a routed gRPC method.
type Authorizer interface {
	Authorize(ctx context.Context, authorization, grpcMethod string) (map[string]string, error)
}

// BreakerRegistry resolves the circuit breaker for an upstream.
type BreakerRegistry interface {
	Get(upstream string) *circuitbreaker.Breaker
}

// Backend performs the upstream call.
type Backend interface {
	Invoke(ctx context.Context, upstream, fullMethod string, payload []byte, md metadata.MD) (*pool.Reply, error)
	Timeout(upstream string) time.Duration
}

// Dispatcher handles every non-system request end to end.
type Dispatcher struct {
	limiter  RateLimiter
	routes   TableProvider
	gate     Authorizer
	breakers BreakerRegistry
	backend  Backend
	ips      *realip.Extractor

	maxBodyBytes   int64
	requestTimeout time.Duration
}

// NewDispatcher assembles the pipeline.
func NewDispatcher(
	limiter RateLimiter,
	routes TableProvider,
	gate Authorizer,
	breakers BreakerRegistry,
	backend Backend,
	ips *realip.Extractor,
	maxBodyBytes int64,
	requestTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		limiter:        limiter,
		routes:         routes,
		gate:           gate,
		breakers:       breakers,
		backend:        backend,
		ips:            ips,
		maxBodyBytes:   maxBodyBytes,
		requestTimeout: requestTimeout,
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tc := trace.FromRequest(r)
	ip := d.ips.Extract(r)

	ctx, cancel := context.WithTimeout(r.Context(), d.requestTimeout)
	defer cancel()

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	upstream := d.dispatch(ctx, sw, r, tc, ip)

	elapsed := time.Since(start)
	if upstream == "" {
		upstream = "-"
	}
	metrics.RequestsTotal.WithLabelValues(r.Method, upstream, strconv.Itoa(sw.status)).Inc()
	metrics.RequestDuration.WithLabelValues(upstream).Observe(elapsed.Seconds())

	logging.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", sw.status),
		zap.Duration("duration", elapsed),
		zap.String("client_ip", ip),
		zap.String("upstream", upstream),
		zap.String("trace_id", tc.TraceID))
}

// dispatch runs the ordered pipeline and writes the response. It returns
// the upstream name once routing has resolved one, for metrics and the
// access log.
func (d *Dispatcher) dispatch(ctx context.Context, w *statusWriter, r *http.Request, tc trace.Context, ip string) string {
	if !ratelimit.Excluded(r.URL.Path) {
		allowed, remaining := d.limiter.Check(ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.limiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			metrics.RateLimitRejections.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(d.limiter.Window().Seconds())))
			gwerrors.ErrRateLimitExceeded.WriteJSON(w, tc.TraceID)
			return ""
		}
	}

	match, ok := d.routes.Load().Lookup(r.Method, r.URL.Path)
	if !ok {
		gwerrors.ErrRouteNotFound.WriteJSON(w, tc.TraceID)
		return ""
	}

	authMD, err := d.gate.Authorize(ctx, r.Header.Get("Authorization"), match.GRPCMethod)
	if err != nil {
		gwerrors.AsGatewayError(err).WriteJSON(w, tc.TraceID)
		return match.Upstream
	}

	breaker := d.breakers.Get(match.Upstream)
	if breaker == nil {
		gwerrors.ErrInternal.WithMessage("no circuit breaker for upstream").WriteJSON(w, tc.TraceID)
		return match.Upstream
	}
	if err := breaker.Admit(); err != nil {
		metrics.BreakerRejections.WithLabelValues(match.Upstream).Inc()
		gwerrors.AsGatewayError(err).WriteJSON(w, tc.TraceID)
		return match.Upstream
	}

	// Conversion failures after admission make no upstream call, so the
	// breaker records no outcome for them.
	payload, err := translate.ReadBody(r, d.maxBodyBytes)
	if err != nil {
		gwerrors.AsGatewayError(err).WriteJSON(w, tc.TraceID)
		return match.Upstream
	}
	payload, err = translate.MergePathParams(payload, match.Params)
	if err != nil {
		gwerrors.AsGatewayError(err).WriteJSON(w, tc.TraceID)
		return match.Upstream
	}
	md := translate.BuildMetadata(r, tc, authMD)

	callCtx, cancel := context.WithTimeout(ctx, d.backend.Timeout(match.Upstream))
	defer cancel()

	reply, err := d.backend.Invoke(callCtx, match.Upstream, match.GRPCMethod, payload, md)
	if err != nil {
		// A request cancelled by the client or cut off by the overall
		// deadline records neither success nor failure.
		if r.Context().Err() != nil {
			return match.Upstream
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			gwerrors.ErrGatewayTimeout.WriteJSON(w, tc.TraceID)
			return match.Upstream
		}

		if breakerFailure(err) {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
		translate.ErrorFromUpstream(err).WriteJSON(w, tc.TraceID)
		return match.Upstream
	}

	breaker.RecordSuccess()
	if err := translate.WriteSuccess(w, reply.Payload, reply.Header, tc.TraceID); err != nil {
		gwerrors.AsGatewayError(err).WriteJSON(w, tc.TraceID)
	}
	return match.Upstream
}

// breakerFailure reports whether an upstream error counts against the
// circuit breaker. Application-level rejections mean the upstream is
// healthy and answering; only infrastructure-shaped failures count.
func breakerFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Internal, codes.Unknown, codes.DataLoss:
		return true
	default:
		return false
	}
}

// statusWriter captures the status code for metrics and access logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
