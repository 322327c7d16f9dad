package acfetch

import (
	"context"
	"net/http"
)

// Well-known Meta keys recorded by the built-in plugins. Every short-circuit
// decision (cache hit, dedupe hit, breaker open, rate limit) is observable
// through these keys.
const (
	MetaCacheHit           = "cacheHit"
	MetaCacheStale         = "stale"
	MetaDedupeHit          = "dedupeHit"
	MetaRateLimitRemaining = "rateLimitRemaining"
	MetaRateLimitReset     = "rateLimitReset"
	MetaCircuitState       = "circuitState"
	MetaRetryAttempts      = "retryAttempts"
)

// Context carries the per-request state threaded through the middleware
// pipeline: the request, the eventual response, a mutable metadata map and
// the cancellation context. A Context belongs to a single logical request
// attempt and is not safe for concurrent mutation.
type Context struct {
	// Request describes the outgoing request. Middlewares may adjust
	// headers but must not replace the request after the pipeline starts.
	Request *http.Request

	// Response is populated by the terminal transport or by a
	// short-circuiting middleware (cache hit, dedupe hit). When the
	// pipeline returns nil, Response is set; when it returns an error,
	// Response is nil.
	Response *http.Response

	meta map[string]any
	ctx  context.Context
}

// NewContext builds a pipeline context for req. The supplied ctx is the
// caller's cancellation signal; the client may derive timeouts from it.
func NewContext(ctx context.Context, req *http.Request) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Request: req,
		meta:    make(map[string]any),
		ctx:     ctx,
	}
}

// Context returns the cancellation context for this request attempt.
func (c *Context) Context() context.Context { return c.ctx }

// WithContext swaps the cancellation context, e.g. after deriving a timeout.
func (c *Context) WithContext(ctx context.Context) { c.ctx = ctx }

// SetMeta records a middleware decision under key.
func (c *Context) SetMeta(key string, value any) { c.meta[key] = value }

// Meta returns the value recorded under key.
func (c *Context) Meta(key string) (any, bool) {
	v, ok := c.meta[key]
	return v, ok
}

// MetaBool returns the boolean recorded under key, or false when absent or
// of a different type.
func (c *Context) MetaBool(key string) bool {
	v, ok := c.meta[key].(bool)
	return ok && v
}

// MetaInt returns the integer recorded under key, or 0 when absent.
func (c *Context) MetaInt(key string) int {
	v, _ := c.meta[key].(int)
	return v
}

// clone returns a context for a detached re-execution of the same request
// (background cache refresh). The metadata map is fresh so the background
// attempt does not race with the caller's.
func (c *Context) clone(ctx context.Context, req *http.Request) *Context {
	return &Context{
		Request: req,
		meta:    make(map[string]any),
		ctx:     ctx,
	}
}
