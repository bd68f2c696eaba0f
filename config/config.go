package config

import (
	"time"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Upstreams map[string]UpstreamConfig `yaml:"upstreams"`
	Auth      AuthConfig                `yaml:"auth"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
	Discovery DiscoveryConfig           `yaml:"discovery"`
	Overrides []RouteOverride           `yaml:"route_overrides"`
	Logging   LoggingConfig             `yaml:"logging"`
	Tracing   TracingConfig             `yaml:"tracing"`
	Shutdown  ShutdownConfig            `yaml:"shutdown"`
}

// ServerConfig defines the client-facing HTTP listener.
type ServerConfig struct {
	Address           string        `yaml:"address"`             // e.g. ":8080"
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"` // default 10s
	RequestTimeout    time.Duration `yaml:"request_timeout"`     // overall pipeline deadline, default 30s
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`      // default 10 MiB
	TrustedProxies    []string      `yaml:"trusted_proxies"`     // CIDRs allowed to set X-Forwarded-For
}

// UpstreamConfig defines a backend gRPC service fronted by the gateway.
type UpstreamConfig struct {
	Endpoint       string               `yaml:"endpoint"` // host:port
	Timeout        time.Duration        `yaml:"timeout"`  // per-call, default 10s
	PoolSize       int                  `yaml:"pool_size"`
	AutoDiscover   bool                 `yaml:"auto_discover"`
	TLS            UpstreamTLSConfig    `yaml:"tls"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// UpstreamTLSConfig enables TLS toward an upstream.
type UpstreamTLSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Domain  string `yaml:"domain"`  // server name override
	CAFile  string `yaml:"ca_file"` // PEM bundle
}

// CircuitBreakerConfig holds per-upstream breaker parameters.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // default 5
	SuccessThreshold int           `yaml:"success_threshold"` // default 2
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // default 30s
}

// AuthConfig points the gateway at the authorization service.
type AuthConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"` // per auth RPC, default 5s
}

// RateLimitConfig holds sliding-window limiter parameters.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"` // default 60
	Window            time.Duration `yaml:"window"`              // default 60s
	MaxClients        int           `yaml:"max_clients"`         // default 10000
}

// DiscoveryConfig controls the periodic route rediscovery loop.
type DiscoveryConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"` // default 300s, clamped [60s, 3600s]
	StatsInterval   time.Duration `yaml:"stats_interval"`   // breaker stats publish, default 10s
}

// RouteOverride replaces the discovered HTTP binding for one gRPC method.
// GRPCMethod is fully qualified, e.g. "user.v1.UserService/GetUser".
type RouteOverride struct {
	GRPCMethod string `yaml:"grpc_method"`
	HTTPMethod string `yaml:"http_method"`
	Path       string `yaml:"path"`
}

// LoggingConfig defines logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// TracingConfig defines OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC collector
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// ShutdownConfig controls graceful shutdown.
type ShutdownConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"` // default 15s
}
