// Package trace handles W3C Trace Context propagation and trace id
// generation for requests arriving without one.
package trace

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Traceparent is a parsed W3C traceparent header:
// 00-<trace_id:32 hex>-<span_id:16 hex>-<flags:2 hex>.
type Traceparent struct {
	Version string
	TraceID string
	SpanID  string
	Flags   string
}

// String renders the header in wire format.
func (tp Traceparent) String() string {
	return tp.Version + "-" + tp.TraceID + "-" + tp.SpanID + "-" + tp.Flags
}

// Parse parses a traceparent header value. Field lengths and hex content
// are validated; an all-zero trace or span id is rejected per the W3C
// spec.
func Parse(value string) (Traceparent, bool) {
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return Traceparent{}, false
	}
	version, traceID, spanID, flags := parts[0], parts[1], parts[2], parts[3]

	if len(version) != 2 || len(traceID) != 32 || len(spanID) != 16 || len(flags) != 2 {
		return Traceparent{}, false
	}
	if !isHex(version) || !isHex(traceID) || !isHex(spanID) || !isHex(flags) {
		return Traceparent{}, false
	}
	if version == "ff" {
		return Traceparent{}, false
	}
	if allZero(traceID) || allZero(spanID) {
		return Traceparent{}, false
	}

	return Traceparent{Version: version, TraceID: traceID, SpanID: spanID, Flags: flags}, true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func allZero(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '0' {
			return false
		}
	}
	return true
}

// NewTraceID generates a fresh trace id: a UUIDv4 rendered without
// dashes, which is 32 hex characters.
func NewTraceID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// Context carries the per-request trace identity.
type Context struct {
	TraceID     string
	Traceparent string // raw header, forwarded unchanged when present
	Generated   bool
}

// FromRequest derives the trace context for an incoming request:
// traceparent wins, then x-trace-id, then x-request-id, then a generated
// id.
func FromRequest(r *http.Request) Context {
	if raw := r.Header.Get("traceparent"); raw != "" {
		if tp, ok := Parse(raw); ok {
			return Context{TraceID: tp.TraceID, Traceparent: raw}
		}
	}
	if id := r.Header.Get("x-trace-id"); id != "" {
		return Context{TraceID: id}
	}
	if id := r.Header.Get("x-request-id"); id != "" {
		return Context{TraceID: id}
	}
	return Context{TraceID: NewTraceID(), Generated: true}
}
