package auth

import (
	"context"
	"strings"

	"github.com/grpcgate/grpcgate/internal/errors"
	"github.com/grpcgate/grpcgate/internal/metrics"
)

// Metadata keys injected for authenticated requests.
const (
	MetadataUserID = "_auth_user_id"
	MetadataRoles  = "_auth_roles"
)

// TokenValidator validates bearer tokens against the auth service.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*ValidateTokenResponse, error)
}

// Gate enforces the auth policy for each routed request.
type Gate struct {
	policies  *PolicyCache
	validator TokenValidator
}

// NewGate creates a gate over a policy cache and token validator.
func NewGate(policies *PolicyCache, validator TokenValidator) *Gate {
	return &Gate{policies: policies, validator: validator}
}

// ExtractToken pulls the bearer token out of an Authorization header
// value. "Bearer <t>", "bearer <t>" and a raw token are all accepted.
func ExtractToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	for _, prefix := range []string{"Bearer ", "bearer "} {
		if strings.HasPrefix(header, prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
	}
	return header
}

// Authorize applies the auth policy for grpcMethod to the request's
// Authorization header. On success it returns the claim metadata to
// attach to the upstream call; nil for unauthenticated routes.
func (g *Gate) Authorize(ctx context.Context, authorization, grpcMethod string) (map[string]string, error) {
	policy := g.policies.Lookup(ctx, grpcMethod)
	if !policy.RequireAuth {
		metrics.AuthDecisions.WithLabelValues("allow_anonymous").Inc()
		return nil, nil
	}

	token := ExtractToken(authorization)
	if token == "" {
		metrics.AuthDecisions.WithLabelValues("missing_token").Inc()
		return nil, errors.ErrMissingToken
	}

	resp, err := g.validator.ValidateToken(ctx, token)
	if err != nil {
		metrics.AuthDecisions.WithLabelValues("auth_unavailable").Inc()
		return nil, errors.Wrap(errors.ErrAuthUnavailable, err)
	}
	if !resp.Valid {
		if strings.Contains(strings.ToLower(resp.Error), "expired") {
			metrics.AuthDecisions.WithLabelValues("expired_token").Inc()
			return nil, errors.ErrExpiredToken
		}
		metrics.AuthDecisions.WithLabelValues("invalid_token").Inc()
		return nil, errors.ErrInvalidToken
	}

	if len(policy.RequiredRoles) > 0 && !intersects(resp.Roles, policy.RequiredRoles) {
		metrics.AuthDecisions.WithLabelValues("forbidden").Inc()
		return nil, errors.ErrInsufficientPermissions
	}

	metrics.AuthDecisions.WithLabelValues("allow").Inc()
	return map[string]string{
		MetadataUserID: resp.UserID,
		MetadataRoles:  strings.Join(resp.Roles, ","),
	}, nil
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}
