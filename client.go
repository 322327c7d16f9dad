package acfetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Transport is the terminal network call: a fetch-like function taking a
// prepared request and producing a raw response. The default transport is
// the embedded http.Client.
type Transport func(*http.Request) (*http.Response, error)

// Client is a resilient HTTP client: a middleware pipeline layering request
// deduplication, caching, retries, rate limiting and circuit breaking around
// a fetch-like transport. It is safe for concurrent use.
//
// The pipeline runs in onion order: user middleware, deduplicator, cache,
// retry loop, rate limiter, circuit breaker, transport. Admission control
// sits inside the retry loop so every attempt is checked, while cache and
// dedupe decisions happen once per logical request.
type Client struct {
	httpClient   *http.Client
	transport    Transport
	timeout      time.Duration
	middleware   []Middleware
	cacheCfg     *CacheConfig
	dedupCfg     *DedupeConfig
	limiterCfg   *RateLimiterConfig
	breakerCfg   *CircuitBreakerConfig
	retryCfg     *RetryConfig
	metrics      *MetricsCollector
	logger       Logger
	requestIDGen func() string

	breaker *CircuitBreaker
	limiter *RateLimiter
	dedup   *Deduplicator

	chain           Handler
	validationError error
}

// New constructs a Client from functional options. Configuration problems
// are collected rather than panicking; check IsValid / ValidationError, or
// let the first request surface the *ConfigurationError.
func New(options ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		timeout:      30 * time.Second,
		requestIDGen: DefaultRequestIDGenerator,
	}

	for _, option := range options {
		option(c)
	}

	c.validationError = c.build()
	return c
}

// build resolves plugin configurations into a composed chain. All dynamic
// choices happen here, once; the per-request path only runs the chain.
func (c *Client) build() error {
	issues := c.validate()

	if c.transport == nil {
		c.transport = c.httpClient.Do
	}

	if c.limiterCfg != nil {
		limiter, err := NewRateLimiter(*c.limiterCfg)
		if err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				issues = append(issues, cfgErr.Issues...)
			} else {
				issues = append(issues, err.Error())
			}
		} else {
			c.limiter = limiter
		}
	}

	if c.breakerCfg != nil {
		cfg := *c.breakerCfg
		if c.metrics != nil {
			userHook := cfg.OnStateChange
			cfg.OnStateChange = func(key string, state CircuitState, failures int) {
				c.metrics.RecordCircuitBreakerState(key, state)
				if userHook != nil {
					userHook(key, state, failures)
				}
			}
		}
		c.breaker = NewCircuitBreaker(cfg)
	}

	if c.dedupCfg != nil {
		c.dedup = NewDeduplicator(*c.dedupCfg)
	}

	if len(issues) > 0 {
		return &ConfigurationError{Issues: issues}
	}

	// Inner segment: admission control and the transport, re-run per
	// retry attempt.
	inner := Handler(c.terminal)
	var innerMws []Middleware
	if c.limiter != nil {
		innerMws = append(innerMws, c.limiter.Middleware())
	}
	if c.breaker != nil {
		innerMws = append(innerMws, c.breaker.Middleware())
	}
	if len(innerMws) > 0 {
		composed, err := Compose(innerMws)
		if err != nil {
			return err
		}
		terminal := inner
		inner = func(ctx *Context) error { return composed(ctx, terminal) }
	}

	if c.retryCfg != nil {
		inner = newRetryHandler(*c.retryCfg, inner)
	}

	// Outer segment: run once per logical request.
	var outerMws []Middleware
	outerMws = append(outerMws, c.middleware...)
	if c.dedup != nil {
		outerMws = append(outerMws, c.dedup.Middleware())
	}
	if c.cacheCfg != nil {
		outerMws = append(outerMws, NewCacheMiddleware(*c.cacheCfg))
	}

	if len(outerMws) == 0 {
		c.chain = inner
		return nil
	}
	composed, err := Compose(outerMws)
	if err != nil {
		return err
	}
	c.chain = func(ctx *Context) error { return composed(ctx, inner) }
	return nil
}

// terminal performs the network call and maps failures onto the error
// taxonomy.
func (c *Client) terminal(ctx *Context) error {
	cctx := ctx.Context()
	resp, err := c.transport(ctx.Request.WithContext(cctx))
	if err != nil {
		if cctx.Err() != nil {
			return cancellationCause(cctx)
		}
		return &TransportError{Cause: err}
	}
	ctx.Response = resp
	return nil
}

// Execute runs a prepared Context through the pipeline. On return, exactly
// one of {ctx.Response set, error returned} holds.
//
// The client timeout covers the whole exchange including the body read: the
// timer stays armed until the caller closes ctx.Response.Body.
func (c *Client) Execute(ctx *Context) error {
	if c.validationError != nil {
		return c.validationError
	}

	cctx, stop := ContextWithTimeout(ctx.Context(), c.timeout)
	ctx.WithContext(cctx)

	if err := c.chain(ctx); err != nil {
		stop()
		ctx.Response = nil
		return err
	}
	if ctx.Response == nil {
		stop()
		return &TransportError{Cause: errors.New("pipeline completed without a response")}
	}

	// Releasing the timeout here would cancel the request context while the
	// transport is still streaming the body, so the release is deferred to
	// Body.Close.
	if ctx.Response.Body == nil {
		stop()
	} else {
		ctx.Response.Body = &releasingBody{ReadCloser: ctx.Response.Body, stop: stop}
	}
	return nil
}

// releasingBody defers the request context's release until the body is
// closed, keeping streamed reads valid after Execute returns.
type releasingBody struct {
	io.ReadCloser
	stop StopFunc
	once sync.Once
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.stop)
	return err
}

// Do executes a prepared *http.Request through the pipeline.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := endpointFromRequest(req)
	ctx := NewContext(req.Context(), req)

	var requestID string
	if c.logger != nil {
		requestID = c.requestIDGen()
		c.logger.Debug("starting request",
			"requestID", requestID, "method", req.Method, "url", req.URL.String())
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
	}

	err := c.Execute(ctx)

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(req.Method, endpoint)
		c.recordOutcome(ctx, req.Method, endpoint, time.Since(start), err)
	}

	if c.logger != nil {
		if err != nil {
			c.logger.Warn("request failed", "requestID", requestID, "error", err.Error())
		} else {
			c.logger.Debug("request completed",
				"requestID", requestID, "status", ctx.Response.StatusCode,
				"cacheHit", ctx.MetaBool(MetaCacheHit), "dedupeHit", ctx.MetaBool(MetaDedupeHit))
		}
	}

	return ctx.Response, err
}

// Get performs an HTTP GET through the pipeline.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool { return c.validationError == nil }

// ValidationError returns the construction-time configuration error, if any.
func (c *Client) ValidationError() error { return c.validationError }

// CircuitBreaker returns the built breaker plugin for state inspection, or
// nil when not configured.
func (c *Client) CircuitBreaker() *CircuitBreaker { return c.breaker }

// Deduplicator returns the built dedupe plugin, or nil when not configured.
func (c *Client) Deduplicator() *Deduplicator { return c.dedup }

func (c *Client) recordOutcome(ctx *Context, method, endpoint string, duration time.Duration, err error) {
	statusCode := 0
	if ctx.Response != nil {
		statusCode = ctx.Response.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, statusCode, duration)
	c.metrics.RecordRetries(method, endpoint, ctx.MetaInt(MetaRetryAttempts))

	if c.cacheCfg != nil {
		if ctx.MetaBool(MetaCacheHit) {
			c.metrics.RecordCacheHit(method, endpoint)
		} else if _, decided := ctx.Meta(MetaCacheHit); decided {
			c.metrics.RecordCacheMiss(method, endpoint)
		}
	}
	if ctx.MetaBool(MetaDedupeHit) {
		c.metrics.RecordDeduplicationHit(method, endpoint)
	}
	if remaining, ok := ctx.Meta(MetaRateLimitRemaining); ok {
		if v, isInt := remaining.(int); isInt {
			c.metrics.RecordRateLimitRemaining(endpoint, v)
		}
	}
	if err != nil {
		c.metrics.RecordError(errorTypeLabel(err), method, endpoint)
	}
}

func errorTypeLabel(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "CircuitOpen"
	case errors.Is(err, ErrRateLimited):
		return "RateLimit"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrConfiguration):
		return "Configuration"
	case errors.Is(err, ErrProtocolViolation):
		return "ProtocolViolation"
	case errors.Is(err, ErrTransport):
		return "Transport"
	default:
		return "Other"
	}
}

func endpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)
	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
