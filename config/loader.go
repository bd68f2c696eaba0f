package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Defaults applied by the loader when fields are omitted.
const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultMaxBodyBytes      = 10 << 20 // 10 MiB
	DefaultUpstreamTimeout   = 10 * time.Second
	DefaultAuthTimeout       = 5 * time.Second
	DefaultRequestsPerWindow = 60
	DefaultWindow            = 60 * time.Second
	DefaultMaxClients        = 10000
	DefaultRefreshInterval   = 300 * time.Second
	DefaultStatsInterval     = 10 * time.Second
	DefaultDrainTimeout      = 15 * time.Second

	MinRefreshInterval = 60 * time.Second
	MaxRefreshInterval = 3600 * time.Second
)

var validHTTPMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodPatch: true,
}

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, expands ${ENV} references,
// applies defaults, and validates.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left as-is.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	for name, up := range cfg.Upstreams {
		if up.Timeout == 0 {
			up.Timeout = DefaultUpstreamTimeout
		}
		if up.PoolSize <= 0 {
			up.PoolSize = 1
		}
		cfg.Upstreams[name] = up
	}

	if cfg.Auth.Timeout == 0 {
		cfg.Auth.Timeout = DefaultAuthTimeout
	}

	if cfg.RateLimit.RequestsPerWindow == 0 {
		cfg.RateLimit.RequestsPerWindow = DefaultRequestsPerWindow
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultWindow
	}
	if cfg.RateLimit.MaxClients == 0 {
		cfg.RateLimit.MaxClients = DefaultMaxClients
	}

	if cfg.Discovery.RefreshInterval == 0 {
		cfg.Discovery.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Discovery.RefreshInterval < MinRefreshInterval {
		cfg.Discovery.RefreshInterval = MinRefreshInterval
	}
	if cfg.Discovery.RefreshInterval > MaxRefreshInterval {
		cfg.Discovery.RefreshInterval = MaxRefreshInterval
	}
	if cfg.Discovery.StatsInterval == 0 {
		cfg.Discovery.StatsInterval = DefaultStatsInterval
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Shutdown.DrainTimeout == 0 {
		cfg.Shutdown.DrainTimeout = DefaultDrainTimeout
	}
}

// validate checks configuration for errors.
func (l *Loader) validate(cfg *Config) error {
	if len(cfg.Upstreams) == 0 {
		return fmt.Errorf("at least one upstream is required")
	}

	for name, up := range cfg.Upstreams {
		if up.Endpoint == "" {
			return fmt.Errorf("upstream %s: endpoint is required", name)
		}
		if up.TLS.Enabled && up.TLS.CAFile == "" {
			return fmt.Errorf("upstream %s: tls enabled but ca_file not provided", name)
		}
		if up.CircuitBreaker.FailureThreshold < 0 {
			return fmt.Errorf("upstream %s: circuit_breaker failure_threshold must be >= 0", name)
		}
		if up.CircuitBreaker.SuccessThreshold < 0 {
			return fmt.Errorf("upstream %s: circuit_breaker success_threshold must be >= 0", name)
		}
	}

	if cfg.Auth.Endpoint == "" {
		return fmt.Errorf("auth.endpoint is required")
	}

	seen := make(map[string]bool, len(cfg.Overrides))
	for i, ov := range cfg.Overrides {
		if ov.GRPCMethod == "" {
			return fmt.Errorf("route_overrides[%d]: grpc_method is required", i)
		}
		if seen[ov.GRPCMethod] {
			return fmt.Errorf("route_overrides[%d]: duplicate override for %s", i, ov.GRPCMethod)
		}
		seen[ov.GRPCMethod] = true
		if ov.HTTPMethod != "" && !validHTTPMethods[strings.ToUpper(ov.HTTPMethod)] {
			return fmt.Errorf("route_overrides[%d]: invalid http_method %q", i, ov.HTTPMethod)
		}
		if ov.Path != "" && !strings.HasPrefix(ov.Path, "/") {
			return fmt.Errorf("route_overrides[%d]: path must start with /", i)
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing enabled but endpoint not provided")
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0")
	}

	return nil
}
