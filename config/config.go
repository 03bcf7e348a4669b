package config

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/rpclink/auth"
	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observe"
	"github.com/jonwraymond/rpclink/secret"
	"github.com/jonwraymond/rpclink/transformer"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the root of the YAML configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Transformer string           `yaml:"transformer,omitempty"`
	Auth        AuthConfig       `yaml:"auth,omitempty"`
	Resilience  ResilienceConfig `yaml:"resilience,omitempty"`
	Cache       CacheConfig      `yaml:"cache,omitempty"`
	Observe     ObserveConfig    `yaml:"observe,omitempty"`
}

// ServerConfig locates the remote procedure endpoint.
type ServerConfig struct {
	// URL is the base URL procedure paths are joined to. Required.
	URL string `yaml:"url"`

	// Headers are sent with every request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `yaml:"user_agent,omitempty"`

	// Timeout bounds the wait for response headers, so subscription streams
	// are limited only until they start.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// AuthConfig configures the credentials the client presents and the way
// operations are authenticated and authorized before they leave the process.
type AuthConfig struct {
	Credentials CredentialsConfig `yaml:"credentials,omitempty"`

	// JWT enables bearer token verification.
	JWT *JWTConfig `yaml:"jwt,omitempty"`

	// APIKeys enables API key verification.
	APIKeys []APIKeyConfig `yaml:"api_keys,omitempty"`

	// Rules are applied by an auth.RuleAuthorizer. Empty permits everything.
	Rules []auth.Rule `yaml:"rules,omitempty"`

	// DefaultAllow permits paths no rule matches.
	DefaultAllow bool `yaml:"default_allow,omitempty"`

	// AllowAnonymous lets operations without credentials run anonymously.
	AllowAnonymous bool `yaml:"allow_anonymous,omitempty"`
}

// Enabled reports whether any authenticator is configured.
func (c AuthConfig) Enabled() bool {
	return c.JWT != nil || len(c.APIKeys) > 0
}

// CredentialsConfig holds the credentials sent with every operation.
type CredentialsConfig struct {
	// Token is sent as "Authorization: Bearer <token>".
	Token string `yaml:"token,omitempty"`

	// APIKey is sent as "X-API-Key".
	APIKey string `yaml:"api_key,omitempty"`
}

// Headers renders the credentials as request headers.
func (c CredentialsConfig) Headers() http.Header {
	h := make(http.Header, 2)
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	if c.APIKey != "" {
		h.Set("X-API-Key", c.APIKey)
	}
	return h
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer,omitempty"`
	Audience string        `yaml:"audience,omitempty"`
	Leeway   time.Duration `yaml:"leeway,omitempty"`
}

// APIKeyConfig registers one API key and the identity it stands for.
type APIKeyConfig struct {
	Key       string   `yaml:"key"`
	Principal string   `yaml:"principal"`
	Tenant    string   `yaml:"tenant,omitempty"`
	Roles     []string `yaml:"roles,omitempty"`
}

// ResilienceConfig enables resilience policies. Nil sections are disabled.
type ResilienceConfig struct {
	// Timeout bounds each query and mutation. Zero disables it.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Retry          *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit,omitempty"`
	Bulkhead       *BulkheadConfig       `yaml:"bulkhead,omitempty"`
}

// RetryConfig configures retries with backoff.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`
	Jitter       bool          `yaml:"jitter,omitempty"`
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures,omitempty"`
	ResetTimeout time.Duration `yaml:"reset_timeout,omitempty"`
}

// RateLimitConfig configures client-side rate limiting.
type RateLimitConfig struct {
	Rate    float64       `yaml:"rate"`
	Burst   int           `yaml:"burst,omitempty"`
	Wait    bool          `yaml:"wait,omitempty"`
	MaxWait time.Duration `yaml:"max_wait,omitempty"`
}

// BulkheadConfig bounds operations in flight.
type BulkheadConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxWait       time.Duration `yaml:"max_wait,omitempty"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	// Disabled removes the cache link from the chain.
	Disabled bool `yaml:"disabled,omitempty"`

	// Store is "memory" or "sqlite". Default: memory
	Store string `yaml:"store,omitempty"`

	// Path is the SQLite database file. Required for the sqlite store.
	Path string `yaml:"path,omitempty"`

	// Revalidate is the default freshness window. Unset never expires.
	Revalidate Revalidate `yaml:"revalidate,omitempty"`

	// MaxAge caps numeric revalidate windows. Zero means no cap. Windows are
	// whole seconds, so MaxAge must be too.
	MaxAge time.Duration `yaml:"max_age,omitempty"`

	// PerPrincipal partitions cached results by principal and tenant.
	// Default: true
	PerPrincipal *bool `yaml:"per_principal,omitempty"`
}

// Partitioned reports whether results are cached per principal.
func (c CacheConfig) Partitioned() bool {
	return c.PerPrincipal == nil || *c.PerPrincipal
}

// ObserveConfig configures logging, tracing and metrics.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name,omitempty"`
	Tracing     struct {
		Enabled   bool    `yaml:"enabled"`
		Exporter  string  `yaml:"exporter,omitempty"`
		SamplePct float64 `yaml:"sample_pct,omitempty"`
	} `yaml:"tracing,omitempty"`
	Metrics struct {
		Enabled  bool   `yaml:"enabled"`
		Exporter string `yaml:"exporter,omitempty"`
	} `yaml:"metrics,omitempty"`
	Logging struct {
		Enabled *bool  `yaml:"enabled,omitempty"`
		Level   string `yaml:"level,omitempty"`
	} `yaml:"logging,omitempty"`
}

// ToObserve converts the section to an observe.Config. Logging is on unless
// disabled explicitly.
func (c ObserveConfig) ToObserve(version string) observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Tracing.Enabled,
			Exporter:  c.Tracing.Exporter,
			SamplePct: c.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Metrics.Enabled,
			Exporter: c.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: c.Logging.Enabled == nil || *c.Logging.Enabled,
			Level:   c.Logging.Level,
		},
	}
}

// Default returns a configuration with every default applied and no server.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Transformer == "" {
		c.Transformer = "json"
	}
	if c.Cache.Store == "" {
		c.Cache.Store = StoreMemory
	}
	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = observe.DefaultServiceName
	}
	if c.Observe.Logging.Level == "" {
		c.Observe.Logging.Level = "info"
	}
	if c.Observe.Tracing.Enabled && c.Observe.Tracing.SamplePct == 0 {
		c.Observe.Tracing.SamplePct = 1.0
	}
}

// Load reads, resolves and validates the configuration file at path. A
// leading "~/" is expanded to the home directory. Relative secretref:file
// references are taken from the file's directory.
func Load(path string) (*Config, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, &Error{Key: "config_file", Reason: "cannot resolve home directory", Cause: err}
		}
		path = filepath.Join(home, rest)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Key: "config_file", Reason: fmt.Sprintf("failed to read %s", path), Cause: err}
	}
	return Parse(context.Background(), data, secret.DefaultResolver(filepath.Dir(path)))
}

// Parse decodes YAML data, applies defaults, resolves secret values with r
// and validates the result. Unknown keys are rejected.
func Parse(ctx context.Context, data []byte, r *secret.Resolver) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, &Error{Key: "config_file", Reason: "failed to parse YAML", Cause: err}
	}

	c.applyDefaults()
	if r != nil {
		if err := c.resolve(ctx, r); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type resolvable struct {
	key string
	ptr *string
}

// resolve expands environment variables and secret references in the values
// that may carry them.
func (c *Config) resolve(ctx context.Context, r *secret.Resolver) error {
	fields := []resolvable{
		{"server.url", &c.Server.URL},
		{"auth.credentials.token", &c.Auth.Credentials.Token},
		{"auth.credentials.api_key", &c.Auth.Credentials.APIKey},
		{"cache.path", &c.Cache.Path},
	}
	if c.Auth.JWT != nil {
		fields = append(fields, resolvable{"auth.jwt.secret", &c.Auth.JWT.Secret})
	}
	for i := range c.Auth.APIKeys {
		fields = append(fields, resolvable{fmt.Sprintf("auth.api_keys[%d].key", i), &c.Auth.APIKeys[i].Key})
	}

	for _, f := range fields {
		if *f.ptr == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *f.ptr)
		if err != nil {
			return &Error{Key: f.key, Reason: "cannot resolve value", Cause: err}
		}
		*f.ptr = v
	}

	for name, v := range c.Server.Headers {
		resolved, err := r.ResolveValue(ctx, v)
		if err != nil {
			return &Error{Key: "server.headers." + name, Reason: "cannot resolve value", Cause: err}
		}
		c.Server.Headers[name] = resolved
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return ErrMissingServerURL
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return &Error{Key: "server.url", Reason: "cannot parse", Cause: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("server.url", "scheme must be http or https, got %q", u.Scheme)
	}
	if c.Server.Timeout < 0 {
		return invalid("server.timeout", "must not be negative")
	}

	if _, err := transformer.ByName(c.Transformer); err != nil {
		return &Error{Key: "transformer", Reason: "unknown transformer", Cause: err}
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}
	if err := c.Resilience.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}

	oc := c.Observe.ToObserve("")
	if err := oc.Validate(); err != nil {
		return &Error{Key: "observe", Reason: "invalid telemetry setup", Cause: err}
	}
	return nil
}

func (c AuthConfig) validate() error {
	if c.JWT != nil && c.JWT.Secret == "" {
		return invalid("auth.jwt.secret", "must not be empty")
	}
	if c.JWT != nil && c.JWT.Leeway < 0 {
		return invalid("auth.jwt.leeway", "must not be negative")
	}
	for i, k := range c.APIKeys {
		if k.Key == "" || k.Principal == "" {
			return invalid(fmt.Sprintf("auth.api_keys[%d]", i), "key and principal are required")
		}
	}
	for i, r := range c.Rules {
		if r.Prefix == "" {
			return invalid(fmt.Sprintf("auth.rules[%d].prefix", i), "must not be empty")
		}
		for _, t := range r.Types {
			if _, err := link.ParseOpType(string(t)); err != nil {
				return &Error{Key: fmt.Sprintf("auth.rules[%d].types", i), Reason: "unknown operation type", Cause: err}
			}
		}
	}
	return nil
}

func (c ResilienceConfig) validate() error {
	if c.Timeout < 0 {
		return invalid("resilience.timeout", "must not be negative")
	}
	if c.Retry != nil && c.Retry.MaxAttempts < 0 {
		return invalid("resilience.retry.max_attempts", "must not be negative")
	}
	if c.CircuitBreaker != nil && c.CircuitBreaker.MaxFailures < 0 {
		return invalid("resilience.circuit_breaker.max_failures", "must not be negative")
	}
	if c.RateLimit != nil && c.RateLimit.Rate <= 0 {
		return invalid("resilience.rate_limit.rate", "must be positive")
	}
	if c.Bulkhead != nil && c.Bulkhead.MaxConcurrent <= 0 {
		return invalid("resilience.bulkhead.max_concurrent", "must be positive")
	}
	return nil
}

func (c CacheConfig) validate() error {
	if !slices.Contains([]string{StoreMemory, StoreSQLite}, c.Store) {
		return invalid("cache.store", "want memory or sqlite, got %q", c.Store)
	}
	if c.Store == StoreSQLite && c.Path == "" {
		return invalid("cache.path", "required for the sqlite store")
	}
	if c.MaxAge < 0 {
		return invalid("cache.max_age", "must not be negative")
	}
	if c.MaxAge > 0 && c.MaxAge%time.Second != 0 {
		return invalid("cache.max_age", "must be whole seconds, got %s", c.MaxAge)
	}
	return nil
}
