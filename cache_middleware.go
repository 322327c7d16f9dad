package acfetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ytahirkose/acfetch/internal/singleflight"
)

// CacheConfig configures the response cache middleware.
type CacheConfig struct {
	// Cache is the backing store; defaults to NewMemoryCache.
	Cache Cache

	// TTL is the freshness lifetime applied when response headers are not
	// being honored (or are silent). Defaults to 5 minutes.
	TTL time.Duration

	// StaleWhileRevalidate is the grace period after expiry during which a
	// stale entry is served immediately while a background refresh runs.
	// Zero disables stale serving.
	StaleWhileRevalidate time.Duration

	// KeyFunc derives the cache key; defaults to DefaultCacheKeyFunc.
	KeyFunc func(*http.Request) string

	// Condition gates participation; defaults to DefaultCacheCondition
	// (GET only). Per-request context cache control overrides it.
	Condition CacheCondition

	// RespectHeaders honors Cache-Control/Expires for freshness and
	// no-store for storability instead of applying TTL unconditionally.
	RespectHeaders bool

	// MaxBodyBytes caps the size of cacheable bodies. Larger responses
	// pass through uncached. Defaults to 10 MiB.
	MaxBodyBytes int64

	// OnBackgroundError observes failures of stale-while-revalidate
	// background refreshes, which never propagate to callers.
	OnBackgroundError func(key string, err error)
}

const defaultMaxCacheBody = 10 << 20

type cachePlugin struct {
	cfg    CacheConfig
	flight *singleflight.Group
}

// NewCacheMiddleware builds the caching middleware. On a fresh hit it
// short-circuits with the stored response (Meta cacheHit=true). On a stale
// hit within the grace period it serves the stale entry (stale=true) and
// refreshes in the background. Otherwise it forwards and stores successful
// responses.
func NewCacheMiddleware(cfg CacheConfig) Middleware {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultCacheKeyFunc
	}
	if cfg.Condition == nil {
		cfg.Condition = DefaultCacheCondition
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxCacheBody
	}
	p := &cachePlugin{cfg: cfg, flight: singleflight.New()}
	return p.process
}

func (p *cachePlugin) process(c *Context, next Handler) error {
	if !p.enabled(c) {
		return next(c)
	}

	key := p.cfg.KeyFunc(c.Request)
	entry, found := p.cfg.Cache.Get(key)
	now := time.Now()

	if found && entry.Fresh(now) {
		c.SetMeta(MetaCacheHit, true)
		c.SetMeta(MetaCacheStale, false)
		c.Response = entry.toResponse()
		return nil
	}

	if found && p.cfg.StaleWhileRevalidate > 0 && entry.ServableStale(now) {
		c.SetMeta(MetaCacheHit, true)
		c.SetMeta(MetaCacheStale, true)
		c.Response = entry.toResponse()
		p.refreshInBackground(c, key, entry, next)
		return nil
	}

	c.SetMeta(MetaCacheHit, false)

	// An expired entry still lets us revalidate cheaply.
	if found {
		addConditionalHeaders(c.Request, entry)
	}

	if err := next(c); err != nil {
		return err
	}

	if found && isNotModified(c.Response) {
		refreshed := p.refreshedEntry(entry, c.Response, time.Now())
		p.cfg.Cache.Set(key, refreshed)
		if c.Response.Body != nil {
			_ = c.Response.Body.Close()
		}
		c.Response = refreshed.toResponse()
		return nil
	}

	p.storeResponse(c, key)
	return nil
}

func (p *cachePlugin) enabled(c *Context) bool {
	if cc, ok := cacheControlFromContext(c.Context()); ok {
		return cc.Enabled
	}
	return p.cfg.Condition(c.Request)
}

// storeResponse buffers and stores a successful response, leaving the
// caller a replayable body.
func (p *cachePlugin) storeResponse(c *Context, key string) {
	resp := c.Response
	if resp == nil || resp.StatusCode >= 400 {
		return
	}

	body, ok := bufferBody(resp, p.cfg.MaxBodyBytes)
	if !ok {
		return
	}

	entry := p.newEntry(resp, body, time.Now(), p.ttlFor(c.Context()))
	if entry != nil {
		p.cfg.Cache.Set(key, entry)
	}
}

func (p *cachePlugin) ttlFor(ctx context.Context) time.Duration {
	if cc, ok := cacheControlFromContext(ctx); ok && cc.TTL > 0 {
		return cc.TTL
	}
	return p.cfg.TTL
}

// newEntry builds a CacheEntry, deriving freshness from headers when
// configured to and falling back to the given ttl. Returns nil when the
// response headers forbid storing.
func (p *cachePlugin) newEntry(resp *http.Response, body []byte, now time.Time, ttl time.Duration) *CacheEntry {
	entry := &CacheEntry{
		Body:         body,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header.Clone(),
		StoredAt:     now,
		ETag:         resp.Header.Get("ETag"),
		LastModified: parseHTTPDate(resp.Header.Get("Last-Modified")),
	}

	if p.cfg.RespectHeaders {
		if parseCacheControl(resp.Header.Get("Cache-Control")).noStore {
			return nil
		}
		if expiresAt, staleUntil, ok := headerExpiry(resp, now); ok {
			entry.ExpiresAt = expiresAt
			entry.StaleUntil = staleUntil
			if grace := entry.ExpiresAt.Add(p.cfg.StaleWhileRevalidate); grace.After(entry.StaleUntil) {
				entry.StaleUntil = grace
			}
			return entry
		}
	}

	entry.ExpiresAt = now.Add(ttl)
	entry.StaleUntil = entry.ExpiresAt.Add(p.cfg.StaleWhileRevalidate)
	return entry
}

// refreshedEntry extends a revalidated entry's freshness after a 304.
func (p *cachePlugin) refreshedEntry(stale *CacheEntry, resp *http.Response, now time.Time) *CacheEntry {
	refreshed := *stale
	refreshed.StoredAt = now
	if p.cfg.RespectHeaders {
		if expiresAt, staleUntil, ok := headerExpiry(resp, now); ok {
			refreshed.ExpiresAt = expiresAt
			refreshed.StaleUntil = staleUntil
			return &refreshed
		}
	}
	refreshed.ExpiresAt = now.Add(p.cfg.TTL)
	refreshed.StaleUntil = refreshed.ExpiresAt.Add(p.cfg.StaleWhileRevalidate)
	return &refreshed
}

// refreshInBackground re-invokes the downstream chain on a detached context
// to replace a stale entry. Concurrent refreshes for one key are coalesced;
// errors are swallowed (observable via OnBackgroundError).
func (p *cachePlugin) refreshInBackground(c *Context, key string, stale *CacheEntry, next Handler) {
	bgCtx := context.WithoutCancel(c.Context())
	req := c.Request.Clone(bgCtx)
	addConditionalHeaders(req, stale)

	go func() {
		_, _ = p.flight.Do(key, func() (any, error) {
			bc := c.clone(bgCtx, req)
			if err := next(bc); err != nil {
				if p.cfg.OnBackgroundError != nil {
					p.cfg.OnBackgroundError(key, err)
				}
				return nil, nil
			}

			now := time.Now()
			if isNotModified(bc.Response) {
				p.cfg.Cache.Set(key, p.refreshedEntry(stale, bc.Response, now))
				return nil, nil
			}
			if bc.Response != nil && bc.Response.StatusCode < 400 {
				if body, ok := bufferBody(bc.Response, p.cfg.MaxBodyBytes); ok {
					if entry := p.newEntry(bc.Response, body, now, p.cfg.TTL); entry != nil {
						p.cfg.Cache.Set(key, entry)
					}
				}
			}
			if bc.Response != nil && bc.Response.Body != nil {
				_ = bc.Response.Body.Close()
			}
			return nil, nil
		})
	}()
}

// bufferBody drains resp.Body into memory (up to max bytes) and replaces it
// with a replayable reader. Reports false when the body exceeds max or
// cannot be fully read; the consumed prefix is stitched back so the caller
// still sees the complete stream.
func bufferBody(resp *http.Response, max int64) ([]byte, bool) {
	if resp.Body == nil {
		return nil, true
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err == nil && int64(len(body)) <= max {
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return body, true
	}
	resp.Body = &stitchedBody{
		Reader: io.MultiReader(bytes.NewReader(body), resp.Body),
		closer: resp.Body,
	}
	return nil, false
}

type stitchedBody struct {
	io.Reader
	closer io.Closer
}

func (b *stitchedBody) Close() error { return b.closer.Close() }
