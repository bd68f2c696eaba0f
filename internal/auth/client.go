// Package auth talks to the external authorization service and enforces
// per-method auth policies on incoming requests.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/grpcgate/grpcgate/config"
)

// Auth service contract: two unary RPCs with JSON message bodies.
const (
	validateTokenMethod = "/grpcgate.auth.v1.AuthService/ValidateToken"
	getAuthPolicyMethod = "/grpcgate.auth.v1.AuthService/GetAuthPolicy"
)

type ValidateTokenRequest struct {
	Token string `json:"token"`
}

type ValidateTokenResponse struct {
	Valid  bool     `json:"valid"`
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Error  string   `json:"error"`
}

type GetAuthPolicyRequest struct {
	GRPCMethod string `json:"grpc_method"`
}

type GetAuthPolicyResponse struct {
	RequireAuth     bool     `json:"require_auth"`
	RequiredRoles   []string `json:"required_roles"`
	CacheTTLSeconds int      `json:"cache_ttl_seconds"`
}

// jsonCodec frames auth RPC messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "gateway-auth-json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Client is the gRPC client for the auth service.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewClient opens the auth service channel. Like upstream channels it is
// long-lived and multiplexed.
func NewClient(cfg config.AuthConfig) (*Client, error) {
	conn, err := grpc.NewClient(cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial auth service %s: %w", cfg.Endpoint, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultAuthTimeout
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// ValidateToken checks a bearer token with the auth service.
func (c *Client) ValidateToken(ctx context.Context, token string) (*ValidateTokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &ValidateTokenResponse{}
	err := c.conn.Invoke(ctx, validateTokenMethod,
		&ValidateTokenRequest{Token: token}, resp, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetAuthPolicy fetches the auth policy for a fully-qualified gRPC
// method.
func (c *Client) GetAuthPolicy(ctx context.Context, grpcMethod string) (*GetAuthPolicyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &GetAuthPolicyResponse{}
	err := c.conn.Invoke(ctx, getAuthPolicyMethod,
		&GetAuthPolicyRequest{GRPCMethod: grpcMethod}, resp, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close tears down the auth channel.
func (c *Client) Close() error {
	return c.conn.Close()
}
