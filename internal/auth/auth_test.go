package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grpcgate/grpcgate/internal/errors"
)

type fakeAuthService struct {
	mu           sync.Mutex
	policies     map[string]*GetAuthPolicyResponse
	policyErr    error
	policyCalls  atomic.Int64
	tokens       map[string]*ValidateTokenResponse
	validateErr  error
	validateCall atomic.Int64
}

func (f *fakeAuthService) GetAuthPolicy(_ context.Context, method string) (*GetAuthPolicyResponse, error) {
	f.policyCalls.Add(1)
	if f.policyErr != nil {
		return nil, f.policyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.policies[method]; ok {
		return p, nil
	}
	return &GetAuthPolicyResponse{RequireAuth: false}, nil
}

func (f *fakeAuthService) ValidateToken(_ context.Context, token string) (*ValidateTokenResponse, error) {
	f.validateCall.Add(1)
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if resp, ok := f.tokens[token]; ok {
		return resp, nil
	}
	return &ValidateTokenResponse{Valid: false}, nil
}

func TestExtractToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"abc123", "abc123"},
		{"  Bearer abc123  ", "abc123"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range tests {
		if got := ExtractToken(tc.in); got != tc.want {
			t.Errorf("ExtractToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPolicyCacheHit(t *testing.T) {
	svc := &fakeAuthService{policies: map[string]*GetAuthPolicyResponse{
		"/users.v1.UserService/GetUser": {RequireAuth: true},
	}}
	pc := NewPolicyCache(svc)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc.now = func() time.Time { return now }

	pc.Lookup(context.Background(), "/users.v1.UserService/GetUser")
	pc.Lookup(context.Background(), "/users.v1.UserService/GetUser")
	if got := svc.policyCalls.Load(); got != 1 {
		t.Errorf("policy fetched %d times, want 1", got)
	}
}

func TestPolicyCacheExpiryBoundary(t *testing.T) {
	svc := &fakeAuthService{policies: map[string]*GetAuthPolicyResponse{
		"/a.A/Get": {RequireAuth: true},
	}}
	pc := NewPolicyCache(svc)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc.now = func() time.Time { return now }

	pc.Lookup(context.Background(), "/a.A/Get")

	// One instant before the TTL elapses the entry is still live.
	now = now.Add(successTTL - time.Nanosecond)
	pc.Lookup(context.Background(), "/a.A/Get")
	if got := svc.policyCalls.Load(); got != 1 {
		t.Fatalf("policy fetched %d times, want 1", got)
	}

	// At exactly the TTL it is expired.
	now = now.Add(time.Nanosecond)
	pc.Lookup(context.Background(), "/a.A/Get")
	if got := svc.policyCalls.Load(); got != 2 {
		t.Errorf("policy fetched %d times, want 2", got)
	}
}

func TestPolicyCacheNegativeFallback(t *testing.T) {
	svc := &fakeAuthService{policyErr: fmt.Errorf("auth service down")}
	pc := NewPolicyCache(svc)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc.now = func() time.Time { return now }

	p := pc.Lookup(context.Background(), "/a.A/Get")
	if !p.RequireAuth || len(p.RequiredRoles) != 0 {
		t.Errorf("fallback policy = %+v, want conservative require_auth", p)
	}

	// Negative entry is cached for the shorter TTL.
	now = now.Add(negativeTTL - time.Second)
	pc.Lookup(context.Background(), "/a.A/Get")
	if got := svc.policyCalls.Load(); got != 1 {
		t.Fatalf("policy fetched %d times within negative TTL, want 1", got)
	}

	now = now.Add(2 * time.Second)
	pc.Lookup(context.Background(), "/a.A/Get")
	if got := svc.policyCalls.Load(); got != 2 {
		t.Errorf("policy fetched %d times after negative TTL, want 2", got)
	}
}

func TestPolicyCacheCustomTTL(t *testing.T) {
	svc := &fakeAuthService{policies: map[string]*GetAuthPolicyResponse{
		"/a.A/Get": {RequireAuth: true, CacheTTLSeconds: 10},
	}}
	pc := NewPolicyCache(svc)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pc.now = func() time.Time { return now }

	pc.Lookup(context.Background(), "/a.A/Get")
	now = now.Add(11 * time.Second)
	pc.Lookup(context.Background(), "/a.A/Get")
	if got := svc.policyCalls.Load(); got != 2 {
		t.Errorf("policy fetched %d times, want 2 with a 10s service TTL", got)
	}
}

func newTestGate(svc *fakeAuthService) *Gate {
	return NewGate(NewPolicyCache(svc), svc)
}

func TestGateAnonymousRoute(t *testing.T) {
	svc := &fakeAuthService{}
	g := newTestGate(svc)

	md, err := g.Authorize(context.Background(), "", "/public.P/List")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if md != nil {
		t.Errorf("anonymous route must attach no claims, got %v", md)
	}
	if svc.validateCall.Load() != 0 {
		t.Error("no token validation expected for anonymous routes")
	}
}

func TestGateMissingToken(t *testing.T) {
	svc := &fakeAuthService{policies: map[string]*GetAuthPolicyResponse{
		"/a.A/Get": {RequireAuth: true},
	}}
	g := newTestGate(svc)

	_, err := g.Authorize(context.Background(), "", "/a.A/Get")
	ge := errors.AsGatewayError(err)
	if ge.Status != http.StatusUnauthorized || ge.Code != errors.CodeMissingToken {
		t.Errorf("got %d/%s, want 401/MISSING_TOKEN", ge.Status, ge.Code)
	}
}

func TestGateInvalidAndExpiredTokens(t *testing.T) {
	svc := &fakeAuthService{
		policies: map[string]*GetAuthPolicyResponse{"/a.A/Get": {RequireAuth: true}},
		tokens: map[string]*ValidateTokenResponse{
			"stale": {Valid: false, Error: "token expired"},
		},
	}
	g := newTestGate(svc)

	_, err := g.Authorize(context.Background(), "Bearer junk", "/a.A/Get")
	if ge := errors.AsGatewayError(err); ge.Code != errors.CodeInvalidToken {
		t.Errorf("got %s, want INVALID_TOKEN", ge.Code)
	}

	_, err = g.Authorize(context.Background(), "Bearer stale", "/a.A/Get")
	if ge := errors.AsGatewayError(err); ge.Code != errors.CodeExpiredToken {
		t.Errorf("got %s, want EXPIRED_TOKEN", ge.Code)
	}
}

func TestGateRoleIntersection(t *testing.T) {
	svc := &fakeAuthService{
		policies: map[string]*GetAuthPolicyResponse{
			"/a.A/Delete": {RequireAuth: true, RequiredRoles: []string{"admin", "operator"}},
		},
		tokens: map[string]*ValidateTokenResponse{
			"admintoken":  {Valid: true, UserID: "u1", Roles: []string{"admin", "editor"}},
			"viewertoken": {Valid: true, UserID: "u2", Roles: []string{"viewer"}},
		},
	}
	g := newTestGate(svc)

	md, err := g.Authorize(context.Background(), "Bearer admintoken", "/a.A/Delete")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if md[MetadataUserID] != "u1" || md[MetadataRoles] != "admin,editor" {
		t.Errorf("claims metadata = %v", md)
	}

	_, err = g.Authorize(context.Background(), "Bearer viewertoken", "/a.A/Delete")
	ge := errors.AsGatewayError(err)
	if ge.Status != http.StatusForbidden || ge.Code != errors.CodeInsufficientPerms {
		t.Errorf("got %d/%s, want 403/INSUFFICIENT_PERMISSIONS", ge.Status, ge.Code)
	}
}

func TestGateAuthServiceDown(t *testing.T) {
	svc := &fakeAuthService{
		policies:    map[string]*GetAuthPolicyResponse{"/a.A/Get": {RequireAuth: true}},
		validateErr: fmt.Errorf("connection refused"),
	}
	g := newTestGate(svc)

	_, err := g.Authorize(context.Background(), "Bearer t", "/a.A/Get")
	ge := errors.AsGatewayError(err)
	if ge.Status != http.StatusServiceUnavailable || ge.Code != errors.CodeAuthUnavailable {
		t.Errorf("got %d/%s, want 503/AUTH_SERVICE_UNAVAILABLE", ge.Status, ge.Code)
	}
}
