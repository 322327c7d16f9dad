package acfetch

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
)

// DedupeKeyFunc builds the coalescing key for a request.
type DedupeKeyFunc func(*http.Request) string

// DefaultDedupeKeyFunc keys by method and URL, mixing in a body hash for
// mutating verbs so two POSTs to the same URL with different bodies never
// coalesce.
func DefaultDedupeKeyFunc(req *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	if req.URL != nil {
		h.Write([]byte(req.URL.String()))
	}

	if req.GetBody != nil && (req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch) {
		if body, err := req.GetBody(); err == nil {
			bodyHash := sha256.New()
			_, _ = io.Copy(bodyHash, body)
			_ = body.Close()
			h.Write(bodyHash.Sum(nil))
		}
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// DedupeCondition decides whether a request is eligible for coalescing.
type DedupeCondition func(*http.Request) bool

// DefaultDedupeCondition coalesces safe idempotent methods.
func DefaultDedupeCondition(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// DedupeConfig configures the request deduplication middleware.
type DedupeConfig struct {
	// KeyFunc defaults to DefaultDedupeKeyFunc.
	KeyFunc DedupeKeyFunc

	// Condition defaults to DefaultDedupeCondition.
	Condition DedupeCondition

	// MaxPending caps the number of distinct in-flight keys. When the cap
	// is reached, additional distinct keys bypass coalescing and execute
	// directly (Meta dedupeHit=false). Zero means unbounded.
	MaxPending int

	// MaxBodyBytes caps the buffered response size shared with waiters.
	// Responses over the cap are never shared: the owner streams the full
	// payload and each waiter re-executes the request directly. Defaults
	// to 10 MiB.
	MaxBodyBytes int64
}

type dedupeEntry struct {
	done    chan struct{}
	waiters int

	// Settled state, valid after done is closed.
	snapshot  *CacheEntry
	oversized bool
	err       error
}

// Deduplicator coalesces concurrent requests sharing a key into one
// underlying execution whose settlement is broadcast to every caller.
type Deduplicator struct {
	cfg DedupeConfig

	mu      sync.Mutex
	entries map[string]*dedupeEntry
}

// NewDeduplicator builds the plugin with defaults applied.
func NewDeduplicator(cfg DedupeConfig) *Deduplicator {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultDedupeKeyFunc
	}
	if cfg.Condition == nil {
		cfg.Condition = DefaultDedupeCondition
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxCacheBody
	}
	return &Deduplicator{
		cfg:     cfg,
		entries: make(map[string]*dedupeEntry),
	}
}

// Middleware returns the chain middleware for this deduplicator.
func (d *Deduplicator) Middleware() Middleware {
	return d.process
}

// Pending reports the number of distinct in-flight keys.
func (d *Deduplicator) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Subscribers reports how many callers are awaiting the in-flight execution
// for key, not counting the owner. Zero when the key is not in flight.
func (d *Deduplicator) Subscribers(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, inFlight := d.entries[key]; inFlight {
		return entry.waiters
	}
	return 0
}

func (d *Deduplicator) process(c *Context, next Handler) error {
	if !d.cfg.Condition(c.Request) {
		return next(c)
	}

	key := d.cfg.KeyFunc(c.Request)

	// The entry must be registered before any suspension point so two
	// concurrent callers can never both see "no entry".
	d.mu.Lock()
	if entry, inFlight := d.entries[key]; inFlight {
		entry.waiters++
		d.mu.Unlock()
		return d.await(c, entry, next)
	}
	if d.cfg.MaxPending > 0 && len(d.entries) >= d.cfg.MaxPending {
		d.mu.Unlock()
		c.SetMeta(MetaDedupeHit, false)
		return next(c)
	}
	entry := &dedupeEntry{done: make(chan struct{})}
	d.entries[key] = entry
	d.mu.Unlock()

	c.SetMeta(MetaDedupeHit, false)
	err := next(c)

	// Buffer the body so the owner and every waiter read independent
	// replays of the same bytes.
	if err == nil && c.Response != nil {
		if body, ok := bufferBody(c.Response, d.cfg.MaxBodyBytes); ok {
			entry.snapshot = &CacheEntry{
				Body:       body,
				StatusCode: c.Response.StatusCode,
				Header:     c.Response.Header.Clone(),
			}
		} else {
			// The payload is too large to replay; waiters run their own
			// request rather than settle on a truncated snapshot.
			entry.oversized = true
		}
	}
	entry.err = err

	d.mu.Lock()
	delete(d.entries, key)
	d.mu.Unlock()
	close(entry.done)

	return err
}

// await blocks until the owning execution settles, then mirrors its outcome.
// Outcomes whose body could not be buffered are not mirrored; the waiter
// falls back to a direct execution.
func (d *Deduplicator) await(c *Context, entry *dedupeEntry, next Handler) error {
	select {
	case <-entry.done:
	case <-c.Context().Done():
		return cancellationCause(c.Context())
	}

	if entry.oversized {
		c.SetMeta(MetaDedupeHit, false)
		return next(c)
	}

	c.SetMeta(MetaDedupeHit, true)
	if entry.err != nil {
		return entry.err
	}
	if entry.snapshot != nil {
		c.Response = entry.snapshot.toResponse()
	}
	return nil
}
