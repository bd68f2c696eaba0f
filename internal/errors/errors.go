// Package errors defines the typed errors each pipeline stage returns and
// the JSON error body the gateway emits to clients.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Symbolic error codes surfaced in the response body.
const (
	CodeRouteNotFound      = "ROUTE_NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeConversionError    = "CONVERSION_ERROR"
	CodeBackendError       = "BACKEND_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeNotFound           = "NOT_FOUND"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeExpiredToken       = "EXPIRED_TOKEN"
	CodeInsufficientPerms  = "INSUFFICIENT_PERMISSIONS"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeAuthUnavailable    = "AUTH_SERVICE_UNAVAILABLE"
)

// GatewayError is an error that maps to a client-facing HTTP response.
type GatewayError struct {
	Status     int    // HTTP status code
	Code       string // symbolic code
	Message    string
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// New creates a GatewayError.
func New(status int, code, message string) *GatewayError {
	return &GatewayError{Status: status, Code: code, Message: message}
}

// Wrap attaches an underlying cause to a copy of e.
func Wrap(e *GatewayError, cause error) *GatewayError {
	return &GatewayError{
		Status:     e.Status,
		Code:       e.Code,
		Message:    e.Message,
		underlying: cause,
	}
}

// WithMessage returns a copy of e with a different message.
func (e *GatewayError) WithMessage(message string) *GatewayError {
	return &GatewayError{
		Status:     e.Status,
		Code:       e.Code,
		Message:    message,
		underlying: e.underlying,
	}
}

// Common pipeline errors.
var (
	ErrRouteNotFound = New(http.StatusNotFound, CodeRouteNotFound, "no route matches the request")

	ErrRateLimitExceeded = New(http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded")

	ErrBreakerOpen = New(http.StatusServiceUnavailable, CodeServiceUnavailable, "upstream circuit breaker is open")

	ErrMissingToken = New(http.StatusUnauthorized, CodeMissingToken, "authorization token is missing")

	ErrInvalidToken = New(http.StatusUnauthorized, CodeInvalidToken, "authorization token is invalid")

	ErrExpiredToken = New(http.StatusUnauthorized, CodeExpiredToken, "authorization token has expired")

	ErrInsufficientPermissions = New(http.StatusForbidden, CodeInsufficientPerms, "insufficient permissions")

	ErrAuthUnavailable = New(http.StatusServiceUnavailable, CodeAuthUnavailable, "authorization service unavailable")

	ErrPayloadTooLarge = New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body exceeds size limit")

	ErrMalformedBody = New(http.StatusBadRequest, CodeConversionError, "request body is not valid JSON")

	ErrUpstreamNotJSON = New(http.StatusBadGateway, CodeConversionError, "upstream payload is not valid JSON")

	ErrGatewayTimeout = New(http.StatusGatewayTimeout, CodeTimeout, "request deadline exceeded")

	ErrInternal = New(http.StatusInternalServerError, CodeInternalError, "internal error")
)

// body is the wire shape of an error response.
type body struct {
	Error detail `json:"error"`
}

type detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// WriteJSON writes the error as the standard gateway error body.
func (e *GatewayError) WriteJSON(w http.ResponseWriter, traceID string) {
	w.Header().Set("Content-Type", "application/json")
	if traceID != "" {
		w.Header().Set("X-Trace-Id", traceID)
	}
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(body{Error: detail{
		Code:    e.Code,
		Message: e.Message,
		TraceID: traceID,
	}})
}

// AsGatewayError extracts a *GatewayError from err, or wraps err as an
// internal error when it is not one.
func AsGatewayError(err error) *GatewayError {
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return Wrap(ErrInternal, err)
}
