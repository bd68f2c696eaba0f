// Package translate converts between client HTTP requests and upstream
// gRPC calls. Payloads are JSON on both sides and pass through verbatim.
package translate

import (
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"google.golang.org/grpc/metadata"

	gwerrors "github.com/grpcgate/grpcgate/internal/errors"
	"github.com/grpcgate/grpcgate/internal/trace"
)

// propagateHeaders are the incoming headers copied into upstream
// metadata.
var propagateHeaders = []string{
	"x-trace-id",
	"x-span-id",
	"x-parent-span-id",
	"x-request-id",
	"x-correlation-id",
	"traceparent",
	"tracestate",
	"user-agent",
	"x-forwarded-for",
	"x-real-ip",
}

// ReadBody reads the request body up to limit bytes. An empty body is
// valid and yields empty payload bytes; a non-empty body must be valid
// JSON.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, gwerrors.ErrPayloadTooLarge
		}
		return nil, gwerrors.Wrap(gwerrors.ErrInternal, err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, gwerrors.ErrMalformedBody
	}
	return body, nil
}

// MergePathParams merges routing path parameters into the JSON body as
// top-level string fields. An empty body becomes a fresh object.
func MergePathParams(body []byte, params map[string]string) ([]byte, error) {
	if len(params) == 0 {
		return body, nil
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	var err error
	for name, value := range params {
		body, err = sjson.SetBytes(body, name, value)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.ErrMalformedBody, err)
		}
	}
	return body, nil
}

// BuildMetadata assembles the outgoing gRPC metadata: the propagate-list
// headers, the request's trace identity, and any auth claims attached by
// the gate.
func BuildMetadata(r *http.Request, tc trace.Context, authMD map[string]string) metadata.MD {
	md := metadata.MD{}
	for _, name := range propagateHeaders {
		if v := r.Header.Get(name); v != "" {
			md.Set(name, v)
		}
	}

	// The request's trace id always travels, generated or not. A valid
	// incoming traceparent is forwarded unchanged.
	md.Set("x-trace-id", tc.TraceID)
	if tc.Traceparent != "" {
		md.Set("traceparent", tc.Traceparent)
	}

	for k, v := range authMD {
		md.Set(k, v)
	}
	return md
}
