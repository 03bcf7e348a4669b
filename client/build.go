package client

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jonwraymond/rpclink/auth"
	"github.com/jonwraymond/rpclink/cache"
	"github.com/jonwraymond/rpclink/config"
	"github.com/jonwraymond/rpclink/health"
	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observe"
	"github.com/jonwraymond/rpclink/procedure"
	"github.com/jonwraymond/rpclink/resilience"
	"github.com/jonwraymond/rpclink/transformer"
	"github.com/jonwraymond/rpclink/transport"
)

// BuildOption adjusts FromConfig.
type BuildOption func(*buildOptions)

type buildOptions struct {
	httpClient *http.Client
	logWriter  io.Writer
	version    string
	caller     procedure.Caller
}

// WithHTTPClient sends requests with c instead of a logging default client.
func WithHTTPClient(c *http.Client) BuildOption {
	return func(o *buildOptions) {
		o.httpClient = c
	}
}

// WithLogWriter directs logs and stdout telemetry to w.
func WithLogWriter(w io.Writer) BuildOption {
	return func(o *buildOptions) {
		o.logWriter = w
	}
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) BuildOption {
	return func(o *buildOptions) {
		o.version = v
	}
}

// WithCaller executes procedures with c instead of an HTTP caller for
// cfg.Server. The server section is still validated.
func WithCaller(c procedure.Caller) BuildOption {
	return func(o *buildOptions) {
		o.caller = c
	}
}

// cacheHandle gives the client access to the cache link's store and tag
// derivation.
type cacheHandle struct {
	store        cache.Store
	tagger       cache.Tagger
	cacheContext func(any) []any
}

// FromConfig builds a client whose chain is, outermost first: telemetry,
// authentication, resilience, cache and the HTTP terminal. Sections that are
// absent or disabled in cfg contribute no link.
//
// The returned client owns the telemetry providers and the cache store;
// release them with Close.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...BuildOption) (_ *Client, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &buildOptions{version: "dev"}
	for _, opt := range opts {
		opt(o)
	}

	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](ctx)
			}
		}
	}()

	oc := cfg.Observe.ToObserve(o.version)
	oc.Writer = o.logWriter
	obs, err := observe.NewObserver(ctx, oc)
	if err != nil {
		return nil, err
	}
	closers = append(closers, obs.Shutdown)
	logger := obs.Logger()

	middleware, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, err
	}
	factories := []link.Factory{middleware.Factory()}

	var identify func(context.Context) (*auth.Identity, error)
	if cfg.Auth.Enabled() {
		authn, err := buildAuthenticator(cfg.Auth)
		if err != nil {
			return nil, err
		}
		var authz auth.Authorizer
		if len(cfg.Auth.Rules) > 0 {
			authz = auth.NewRuleAuthorizer(cfg.Auth.Rules, cfg.Auth.DefaultAllow)
		}
		factories = append(factories, auth.NewLink(authn, authz, cfg.Auth.AllowAnonymous))
		identify = func(ctx context.Context) (*auth.Identity, error) {
			return auth.Identify(ctx, authn, cfg.Auth.AllowAnonymous)
		}
	}

	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})

	resilienceOpts, breaker := buildResilience(cfg.Resilience, logger)
	if len(resilienceOpts) > 0 {
		factories = append(factories, resilience.Factory(resilienceOpts...))
	}
	if breaker != nil {
		agg.Register(health.NewCircuitChecker("circuit_breaker", breaker))
	}

	caller := o.caller
	if caller == nil {
		headers := make(http.Header, len(cfg.Server.Headers))
		for k, v := range cfg.Server.Headers {
			headers.Set(k, v)
		}
		caller, err = transport.NewHTTPCaller(transport.CallerConfig{
			BaseURL:       cfg.Server.URL,
			Client:        o.httpClient,
			Headers:       headers,
			UserAgent:     cfg.Server.UserAgent,
			HeaderTimeout: cfg.Server.Timeout,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
	}

	var handle *cacheHandle
	if !cfg.Cache.Disabled {
		store, err := openStore(cfg.Cache)
		if err != nil {
			return nil, err
		}
		if c, ok := store.(io.Closer); ok {
			closers = append(closers, func(context.Context) error { return c.Close() })
		}
		if p, ok := store.(health.Pinger); ok {
			agg.Register(health.NewStoreChecker("cache_store", p))
		}

		tr, err := transformer.ByName(cfg.Transformer)
		if err != nil {
			return nil, err
		}
		handle = &cacheHandle{store: store, tagger: cache.NewDefaultTagger()}
		if cfg.Cache.Partitioned() {
			handle.cacheContext = auth.PrincipalCacheContext
		}
		factories = append(factories, cache.NewLink(cache.LinkOptions{
			Caller:       caller,
			CacheContext: handle.cacheContext,
			Policy: cache.Policy{
				Revalidate: cfg.Cache.Revalidate.Revalidate,
				MaxAge:     cfg.Cache.MaxAge,
			},
			Transformer: tr,
			Store:       store,
			Tagger:      handle.tagger,
			Logger:      logger,
			Meter:       obs.Meter(),
		}))
	}

	factories = append(factories, procedure.Link(caller))

	c, err := New(Options{
		Links:   factories,
		Headers: cfg.Auth.Credentials.Headers(),
	})
	if err != nil {
		return nil, err
	}
	c.cache = handle
	c.identify = identify
	c.health = agg
	c.closers = closers
	return c, nil
}

func buildAuthenticator(cfg config.AuthConfig) (auth.Authenticator, error) {
	var chain auth.FirstMatch
	if cfg.JWT != nil {
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Secret:   []byte(cfg.JWT.Secret),
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			Leeway:   cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, jwtAuth)
	}
	if len(cfg.APIKeys) > 0 {
		keys := auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{})
		for _, k := range cfg.APIKeys {
			keys.Register(k.Key, auth.Identity{
				Principal: k.Principal,
				TenantID:  k.Tenant,
				Roles:     k.Roles,
			})
		}
		chain = append(chain, keys)
	}
	return chain, nil
}

func buildResilience(cfg config.ResilienceConfig, logger observe.Logger) ([]resilience.Option, *resilience.CircuitBreaker) {
	var (
		opts    []resilience.Option
		breaker *resilience.CircuitBreaker
	)
	if rl := cfg.RateLimit; rl != nil {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        rl.Rate,
			Burst:       rl.Burst,
			WaitOnLimit: rl.Wait,
			MaxWait:     rl.MaxWait,
		})))
	}
	if bh := cfg.Bulkhead; bh != nil {
		opts = append(opts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: bh.MaxConcurrent,
			MaxWait:       bh.MaxWait,
		})))
	}
	if cb := cfg.CircuitBreaker; cb != nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			OnStateChange: func(from, to resilience.State) {
				logger.Warn(context.Background(), "circuit breaker state changed",
					observe.Field{Key: "from", Value: from.String()},
					observe.Field{Key: "to", Value: to.String()},
				)
			},
		})
		opts = append(opts, resilience.WithCircuitBreaker(breaker))
	}
	if r := cfg.Retry; r != nil {
		opts = append(opts, resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  r.MaxAttempts,
			InitialDelay: r.InitialDelay,
			MaxDelay:     r.MaxDelay,
			Jitter:       r.Jitter,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Debug(context.Background(), "retrying operation",
					observe.Field{Key: "attempt", Value: attempt},
					observe.Field{Key: "error", Value: err.Error()},
					observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
				)
			},
		})))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, resilience.WithTimeout(resilience.NewTimeout(resilience.TimeoutConfig{
			Timeout: cfg.Timeout,
		})))
	}
	return opts, breaker
}

func openStore(cfg config.CacheConfig) (cache.Store, error) {
	if cfg.Store == config.StoreSQLite {
		store, err := cache.NewSQLiteStore(cache.SQLiteConfig{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return cache.NewMemoryStore(), nil
}

// Tag returns the cache tag the chain derives for a query of path with
// input, as seen by the credentials on ctx and the configured ones.
func (c *Client) Tag(ctx context.Context, path string, input any) (string, error) {
	if c.cache == nil {
		return "", ErrCacheDisabled
	}
	if path == "" {
		return "", ErrEmptyPath
	}

	ctx = c.withHeaders(ctx)
	if c.identify != nil {
		id, err := c.identify(ctx)
		if err != nil {
			return "", err
		}
		ctx = auth.WithIdentity(ctx, id)
	}

	reqCtx, err := c.createContext(ctx)
	if err != nil {
		return "", err
	}
	var values []any
	if c.cache.cacheContext != nil {
		values = c.cache.cacheContext(reqCtx)
	}
	return c.cache.tagger.Tag(path, input, values)
}

// Invalidate drops every cached result carrying tag.
func (c *Client) Invalidate(ctx context.Context, tag string) error {
	if c.cache == nil {
		return ErrCacheDisabled
	}
	return c.cache.store.InvalidateTag(ctx, tag)
}

// InvalidateQuery drops the cached result of a query of path with input.
func (c *Client) InvalidateQuery(ctx context.Context, path string, input any) error {
	tag, err := c.Tag(ctx, path, input)
	if err != nil {
		return err
	}
	return c.Invalidate(ctx, tag)
}
