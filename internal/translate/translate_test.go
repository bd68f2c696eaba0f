package translate

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	gwerrors "github.com/grpcgate/grpcgate/internal/errors"
	"github.com/grpcgate/grpcgate/internal/trace"
)

func TestReadBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/users", strings.NewReader(`{"name":"alice"}`))
	body, err := ReadBody(r, 1<<20)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(body) != `{"name":"alice"}` {
		t.Errorf("body = %q", body)
	}
}

func TestReadBodyEmpty(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/users", nil)
	body, err := ReadBody(r, 1<<20)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("empty body should yield empty payload, got %q", body)
	}
}

func TestReadBodyRejectsInvalidJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/users", strings.NewReader(`{"name":`))
	_, err := ReadBody(r, 1<<20)
	ge := gwerrors.AsGatewayError(err)
	if ge.Code != gwerrors.CodeConversionError || ge.Status != http.StatusBadRequest {
		t.Errorf("got %d/%s, want 400/CONVERSION_ERROR", ge.Status, ge.Code)
	}
}

func TestReadBodyEnforcesLimit(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/users", strings.NewReader(`{"blob":"`+strings.Repeat("x", 100)+`"}`))
	_, err := ReadBody(r, 50)
	ge := gwerrors.AsGatewayError(err)
	if ge.Status != http.StatusRequestEntityTooLarge {
		t.Errorf("got status %d, want 413", ge.Status)
	}
}

func TestMergePathParams(t *testing.T) {
	body, err := MergePathParams([]byte(`{"name":"alice"}`), map[string]string{"id": "42"})
	if err != nil {
		t.Fatalf("MergePathParams: %v", err)
	}
	want := `{"name":"alice","id":"42"}`
	if string(body) != want {
		t.Errorf("body = %s, want %s", body, want)
	}
}

func TestMergePathParamsEmptyBody(t *testing.T) {
	body, err := MergePathParams(nil, map[string]string{"id": "42"})
	if err != nil {
		t.Fatalf("MergePathParams: %v", err)
	}
	if string(body) != `{"id":"42"}` {
		t.Errorf("body = %s", body)
	}
}

func TestMergePathParamsNoParams(t *testing.T) {
	in := []byte(`{"a":1}`)
	body, err := MergePathParams(in, nil)
	if err != nil {
		t.Fatalf("MergePathParams: %v", err)
	}
	if string(body) != string(in) {
		t.Errorf("body changed without params: %s", body)
	}
}

func TestParamsAreStringTyped(t *testing.T) {
	body, err := MergePathParams([]byte(`{}`), map[string]string{"user-id": "123"})
	if err != nil {
		t.Fatalf("MergePathParams: %v", err)
	}
	if string(body) != `{"user-id":"123"}` {
		t.Errorf("numeric-looking params must stay strings: %s", body)
	}
}

func TestBuildMetadata(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/users/1", nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.Header.Set("tracestate", "vendor=1")
	r.Header.Set("x-correlation-id", "corr-1")
	r.Header.Set("User-Agent", "curl/8")
	r.Header.Set("Cookie", "secret=1")

	tc := trace.Context{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", Traceparent: r.Header.Get("traceparent")}
	md := BuildMetadata(r, tc, map[string]string{"_auth_user_id": "u1", "_auth_roles": "admin,editor"})

	for key, want := range map[string]string{
		"traceparent":      "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"tracestate":       "vendor=1",
		"x-correlation-id": "corr-1",
		"user-agent":       "curl/8",
		"x-trace-id":       "4bf92f3577b34da6a3ce929d0e0e4736",
		"_auth_user_id":    "u1",
		"_auth_roles":      "admin,editor",
	} {
		if got := md.Get(key); len(got) != 1 || got[0] != want {
			t.Errorf("md[%s] = %v, want %q", key, got, want)
		}
	}
	if got := md.Get("cookie"); len(got) != 0 {
		t.Errorf("cookie must not propagate, got %v", got)
	}
}

func TestBuildMetadataGeneratedTraceID(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/users", nil)
	tc := trace.Context{TraceID: "deadbeefdeadbeefdeadbeefdeadbeef", Generated: true}
	md := BuildMetadata(r, tc, nil)
	if got := md.Get("x-trace-id"); len(got) != 1 || got[0] != tc.TraceID {
		t.Errorf("x-trace-id = %v, want generated id", got)
	}
	if len(md.Get("traceparent")) != 0 {
		t.Error("no traceparent should be forged for requests arriving without one")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.OK, 200},
		{codes.Canceled, 408},
		{codes.InvalidArgument, 400},
		{codes.OutOfRange, 400},
		{codes.DeadlineExceeded, 504},
		{codes.NotFound, 404},
		{codes.AlreadyExists, 409},
		{codes.Aborted, 409},
		{codes.PermissionDenied, 403},
		{codes.ResourceExhausted, 429},
		{codes.FailedPrecondition, 412},
		{codes.Unimplemented, 501},
		{codes.Unavailable, 503},
		{codes.Unauthenticated, 401},
		{codes.Unknown, 500},
		{codes.Internal, 500},
		{codes.DataLoss, 500},
	}
	for _, tc := range tests {
		if got := HTTPStatus(tc.code); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestErrorFromUpstream(t *testing.T) {
	err := status.Error(codes.NotFound, "user 42 not found")
	ge := ErrorFromUpstream(err)
	if ge.Status != 404 || ge.Code != gwerrors.CodeNotFound {
		t.Errorf("got %d/%s, want 404/NOT_FOUND", ge.Status, ge.Code)
	}
	if ge.Message != "user 42 not found" {
		t.Errorf("message = %q", ge.Message)
	}

	ge = ErrorFromUpstream(status.Error(codes.DeadlineExceeded, ""))
	if ge.Status != 504 || ge.Code != gwerrors.CodeTimeout {
		t.Errorf("got %d/%s, want 504/TIMEOUT", ge.Status, ge.Code)
	}

	ge = ErrorFromUpstream(status.Error(codes.InvalidArgument, "bad field"))
	if ge.Status != 400 || ge.Code != gwerrors.CodeBackendError {
		t.Errorf("got %d/%s, want 400/BACKEND_ERROR", ge.Status, ge.Code)
	}
}

func TestWriteSuccessPassThrough(t *testing.T) {
	w := httptest.NewRecorder()
	header := metadata.Pairs("tracestate", "vendor=1", "x-request-id", "req-7")

	if err := WriteSuccess(w, []byte(`{"id":"42"}`), header, "abc"); err != nil {
		t.Fatalf("WriteSuccess: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != `{"id":"42"}` {
		t.Errorf("body = %s", got)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content-type = %q", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("X-Trace-Id") != "abc" {
		t.Errorf("x-trace-id = %q", w.Header().Get("X-Trace-Id"))
	}
	if w.Header().Get("tracestate") != "vendor=1" || w.Header().Get("x-request-id") != "req-7" {
		t.Error("upstream trace headers must propagate to the response")
	}
}

func TestWriteSuccessEmptyPayload(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteSuccess(w, nil, nil, "abc"); err != nil {
		t.Fatalf("WriteSuccess: %v", err)
	}
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("empty payload must yield empty 200 body, got %d %q", w.Code, w.Body.String())
	}
}

func TestWriteSuccessRejectsNonJSON(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteSuccess(w, []byte("\x00\x01binary"), nil, "abc")
	ge := gwerrors.AsGatewayError(err)
	if ge.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", ge.Status)
	}
}
