package acfetch

import (
	"bytes"
	"context"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
	"time"
)

// CacheEntry is a stored response snapshot. Expiry is carried on the entry
// itself: ExpiresAt bounds freshness, StaleUntil bounds how long an expired
// entry may still be served under stale-while-revalidate.
type CacheEntry struct {
	Body         []byte
	StatusCode   int
	Header       http.Header
	StoredAt     time.Time
	ExpiresAt    time.Time
	StaleUntil   time.Time
	ETag         string
	LastModified *time.Time
}

// Fresh reports whether the entry may be served without revalidation.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// ServableStale reports whether an expired entry is still inside its
// stale-while-revalidate grace period.
func (e *CacheEntry) ServableStale(now time.Time) bool {
	return !now.Before(e.ExpiresAt) && now.Before(e.StaleUntil)
}

// retentionDeadline is the instant after which the entry is garbage.
func (e *CacheEntry) retentionDeadline() time.Time {
	if e.StaleUntil.After(e.ExpiresAt) {
		return e.StaleUntil
	}
	return e.ExpiresAt
}

// toResponse materializes an *http.Response with an independent body reader,
// so concurrent consumers never share a stream.
func (e *CacheEntry) toResponse() *http.Response {
	return &http.Response{
		StatusCode: e.StatusCode,
		Status:     http.StatusText(e.StatusCode),
		Header:     e.Header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(e.Body)),
	}
}

// Cache stores response snapshots by key. Implementations decide eviction:
// pure TTL (MemoryCache), bounded LRU (LRUCache), bounded FIFO (FIFOCache)
// or an external Storage backend (StorageCache). All must be safe for
// concurrent use with O(1) amortized get/set.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry)
	Delete(key string)
	Clear()
}

const cacheShardCount = 16

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// MemoryCache is a sharded in-memory cache with lazy expiry on read. It is
// unbounded; use LRUCache or FIFOCache when a size cap is needed.
type MemoryCache struct {
	shards [cacheShardCount]*cacheShard
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{}
	for i := range c.shards {
		c.shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return c
}

func (c *MemoryCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%cacheShardCount]
}

func (c *MemoryCache) Get(key string) (*CacheEntry, bool) {
	shard := c.shard(key)
	shard.mu.RLock()
	entry, ok := shard.store[key]
	shard.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.retentionDeadline()) {
		shard.mu.Lock()
		if cur, still := shard.store[key]; still && cur == entry {
			delete(shard.store, key)
		}
		shard.mu.Unlock()
		return nil, false
	}
	return entry, true
}

func (c *MemoryCache) Set(key string, entry *CacheEntry) {
	shard := c.shard(key)
	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
}

func (c *MemoryCache) Delete(key string) {
	shard := c.shard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
}

func (c *MemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// DefaultCacheKeyFunc keys an entry by method and full URL.
func DefaultCacheKeyFunc(req *http.Request) string {
	if req.URL == nil {
		return req.Method + ":"
	}
	return req.Method + ":" + req.URL.String()
}

// CacheCondition decides whether a request participates in caching.
type CacheCondition func(req *http.Request) bool

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

type contextKey string

const cacheControlKey contextKey = "acfetch_cache_control"

// CacheControl overrides cache behavior for a single request via its context.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheEnabled forces caching for the request carrying ctx.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled disables caching for the request carrying ctx.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL forces caching with a per-request TTL.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}

func cacheControlFromContext(ctx context.Context) (*CacheControl, bool) {
	cc, ok := ctx.Value(cacheControlKey).(*CacheControl)
	return cc, ok
}
