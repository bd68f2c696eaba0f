package translate

import (
	"net/http"

	"github.com/tidwall/gjson"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	gwerrors "github.com/grpcgate/grpcgate/internal/errors"
)

// responseHeaders are the upstream metadata keys copied back onto the
// HTTP response.
var responseHeaders = []string{
	"tracestate",
	"traceparent",
	"x-correlation-id",
	"x-request-id",
}

// HTTPStatus maps a gRPC status code to an HTTP status. The mapping is
// exhaustive over the defined codes; anything unrecognized is a 500.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return http.StatusRequestTimeout
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.Unknown, codes.Internal, codes.DataLoss:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// symbolicCode picks the error-body code for an upstream failure.
func symbolicCode(code codes.Code) string {
	switch code {
	case codes.DeadlineExceeded:
		return gwerrors.CodeTimeout
	case codes.NotFound:
		return gwerrors.CodeNotFound
	case codes.Unavailable:
		return gwerrors.CodeServiceUnavailable
	case codes.Unknown, codes.Internal, codes.DataLoss:
		return gwerrors.CodeInternalError
	default:
		return gwerrors.CodeBackendError
	}
}

// ErrorFromUpstream converts a failed gRPC call into the gateway error
// that will be written to the client.
func ErrorFromUpstream(err error) *gwerrors.GatewayError {
	st, ok := status.FromError(err)
	if !ok {
		return gwerrors.Wrap(gwerrors.ErrInternal, err)
	}
	msg := st.Message()
	if msg == "" {
		msg = st.Code().String()
	}
	return gwerrors.Wrap(gwerrors.New(HTTPStatus(st.Code()), symbolicCode(st.Code()), msg), err)
}

// WriteSuccess writes an upstream OK reply to the client: the payload
// bytes pass through as the JSON body. A non-empty payload that is not
// valid JSON is a 502.
func WriteSuccess(w http.ResponseWriter, payload []byte, header metadata.MD, traceID string) error {
	if len(payload) > 0 && !gjson.ValidBytes(payload) {
		return gwerrors.ErrUpstreamNotJSON
	}

	for _, name := range responseHeaders {
		if vals := header.Get(name); len(vals) > 0 {
			w.Header().Set(name, vals[0])
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Trace-Id", traceID)
	w.WriteHeader(http.StatusOK)
	if len(payload) > 0 {
		w.Write(payload)
	}
	return nil
}
