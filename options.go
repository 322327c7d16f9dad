package acfetch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Option configures a Client at construction time.
type Option func(*Client)

// DefaultRequestIDGenerator produces UUIDv4 request identifiers for debug
// logging.
func DefaultRequestIDGenerator() string {
	return uuid.NewString()
}

// WithHTTPClient sets the underlying *http.Client used by the default
// transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTransport replaces the terminal network call. The transport receives
// the request already bound to the pipeline's cancellation context.
func WithTransport(transport Transport) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

// WithTimeout bounds each logical request, including retries. Zero disables
// the client-derived timeout; the caller's context still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMiddleware appends user middleware at the outermost layer of the
// chain, in the order given.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithCache enables response caching with the in-memory cache and the given
// TTL.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheCfg = &CacheConfig{TTL: ttl}
	}
}

// WithCacheConfig enables response caching with full control over store,
// key function, stale-while-revalidate and header handling.
func WithCacheConfig(cfg CacheConfig) Option {
	return func(c *Client) {
		c.cacheCfg = &cfg
	}
}

// WithDeduplication enables in-flight request coalescing with defaults.
func WithDeduplication() Option {
	return func(c *Client) {
		c.dedupCfg = &DedupeConfig{}
	}
}

// WithDeduplicationConfig enables coalescing with a custom key function,
// condition or pending cap.
func WithDeduplicationConfig(cfg DedupeConfig) Option {
	return func(c *Client) {
		c.dedupCfg = &cfg
	}
}

// WithRateLimiter enables the keyed rate limiter.
func WithRateLimiter(cfg RateLimiterConfig) Option {
	return func(c *Client) {
		c.limiterCfg = &cfg
	}
}

// WithCircuitBreaker enables the keyed circuit breaker.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakerCfg = &cfg
	}
}

// WithRetry enables the retry layer wrapping rate limiting, circuit
// breaking and the transport.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retryCfg = &cfg
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector, e.g. one bound to a
// private registry.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger enables debug/warn logging through the given logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables logging through the standard library logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator replaces the UUID request ID generator used in
// logs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

// validate collects construction-time configuration issues. Plugin-specific
// validation runs in the plugin constructors; this covers the client-level
// knobs and cross-option constraints.
func (c *Client) validate() []string {
	var issues []string

	if c.timeout < 0 {
		issues = append(issues, fmt.Sprintf("timeout must not be negative, got %v", c.timeout))
	}
	if c.httpClient == nil {
		issues = append(issues, "http client must not be nil")
	}
	if c.requestIDGen == nil {
		issues = append(issues, "request ID generator must not be nil")
	}
	for i, m := range c.middleware {
		if m == nil {
			issues = append(issues, fmt.Sprintf("middleware at position %d is nil", i))
		}
	}

	if c.retryCfg != nil {
		if c.retryCfg.Jitter < 0 || c.retryCfg.Jitter > 1 {
			issues = append(issues, fmt.Sprintf("retry jitter must be in [0,1], got %v", c.retryCfg.Jitter))
		}
		if c.retryCfg.MaxBackoff > 0 && c.retryCfg.InitialBackoff > c.retryCfg.MaxBackoff {
			issues = append(issues, "retry initial backoff must not exceed max backoff")
		}
	}

	if c.cacheCfg != nil {
		if c.cacheCfg.TTL < 0 {
			issues = append(issues, "cache TTL must not be negative")
		}
		if c.cacheCfg.StaleWhileRevalidate < 0 {
			issues = append(issues, "cache stale-while-revalidate grace must not be negative")
		}
	}

	if c.dedupCfg != nil && c.dedupCfg.MaxPending < 0 {
		issues = append(issues, "deduplication max pending must not be negative")
	}

	if c.breakerCfg != nil && c.breakerCfg.FailureThreshold < 0 {
		issues = append(issues, "circuit breaker failure threshold must not be negative")
	}

	return issues
}
