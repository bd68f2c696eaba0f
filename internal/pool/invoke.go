package pool

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/grpcgate/grpcgate/internal/logging"
	"github.com/grpcgate/grpcgate/internal/metrics"
)

// Retry schedule: up to maxAttempts attempts, waiting
// initialBackoff * 2^(attempt-1) between them.
const (
	maxAttempts    = 3
	initialBackoff = 100 * time.Millisecond
)

// Reply is the upstream's answer to a unary call.
type Reply struct {
	Payload []byte
	Header  metadata.MD
	Trailer metadata.MD
}

// retryable reports whether a call error warrants another attempt.
// Exactly three status codes qualify.
func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Invoke performs one unary call against an upstream, carrying the given
// metadata and raw payload. Transient failures are retried; all other
// errors return immediately with the upstream's status.
func (p *Pool) Invoke(ctx context.Context, upstream, fullMethod string, payload []byte, md metadata.MD) (*Reply, error) {
	conn, err := p.Get(ctx, upstream)
	if err != nil {
		return nil, err
	}

	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = initialBackoff
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.MaxElapsedTime = 0

	var reply *Reply
	attempt := 0

	call := func() error {
		attempt++
		if attempt > 1 {
			metrics.UpstreamRetries.WithLabelValues(upstream).Inc()
			logging.Debug("retrying upstream call",
				zap.String("upstream", upstream),
				zap.String("grpc_method", fullMethod),
				zap.Int("attempt", attempt))
		}

		var (
			out     []byte
			header  metadata.MD
			trailer metadata.MD
		)
		err := conn.Invoke(ctx, fullMethod, &payload, &out,
			grpc.ForceCodec(rawCodec{}),
			grpc.Header(&header),
			grpc.Trailer(&trailer),
		)
		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		reply = &Reply{Payload: out, Header: header, Trailer: trailer}
		return nil
	}

	err = backoff.Retry(call,
		backoff.WithContext(backoff.WithMaxRetries(schedule, maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return reply, nil
}
