package acfetch

import (
	"math"
	"net/http"
	"sync"
	"time"
)

// RateLimitAlgorithm selects the accounting strategy for the rate limiter.
type RateLimitAlgorithm int

const (
	// SlidingWindow counts requests per fixed window, resetting the count
	// when the window rolls over.
	SlidingWindow RateLimitAlgorithm = iota
	// TokenBucket refills fractional tokens continuously and spends one
	// token per request.
	TokenBucket
)

// KeyFunc derives the bucketing key for keyed plugin state.
type KeyFunc func(*http.Request) string

// DefaultHostKeyFunc keys limiter state by request host.
func DefaultHostKeyFunc(req *http.Request) string {
	if req.URL != nil && req.URL.Host != "" {
		return "host:" + req.URL.Host
	}
	if req.Host != "" {
		return "host:" + req.Host
	}
	return "host:unknown"
}

// DefaultRouteKeyFunc keys limiter state by method and path.
func DefaultRouteKeyFunc(req *http.Request) string {
	path := ""
	if req.URL != nil {
		path = req.URL.Path
	}
	return "route:" + req.Method + ":" + path
}

// RateLimiterConfig configures the rate limiter middleware.
type RateLimiterConfig struct {
	// Algorithm selects sliding window (default) or token bucket.
	Algorithm RateLimitAlgorithm

	// Limit is the number of requests admitted per Window (sliding
	// window). Defaults to 100.
	Limit int

	// Window is the sliding window length. Defaults to one minute.
	Window time.Duration

	// Capacity is the bucket size (token bucket). Defaults to Limit.
	Capacity float64

	// RefillRate is tokens added per second (token bucket). Defaults to
	// Capacity / Window seconds.
	RefillRate float64

	// KeyFunc buckets state; defaults to DefaultHostKeyFunc. Distinct
	// keys are tracked independently.
	KeyFunc KeyFunc

	// SkipSuccessfulRequests refunds the admission once the wrapped call
	// settles successfully, so only failures count against the limit.
	SkipSuccessfulRequests bool

	// SkipFailedRequests refunds failed outcomes instead.
	SkipFailedRequests bool

	// Storage, when set, shares sliding-window counters through a Storage
	// backend (e.g. Redis) instead of process-local state. Incompatible
	// with token bucket and the Skip* refunds.
	Storage Storage
}

type rateLimitState struct {
	mu sync.Mutex

	// sliding window
	count         int
	windowResetAt time.Time

	// token bucket
	tokens       float64
	lastRefillAt time.Time
}

// RateLimiter is the keyed rate limiter plugin. Per-key state is guarded by
// a per-key mutex so the check-then-commit sequence (including deferred
// Skip* refunds) is serialized and never torn by concurrent requests.
type RateLimiter struct {
	cfg     RateLimiterConfig
	storage Storage

	mu     sync.Mutex
	states map[string]*rateLimitState
}

// NewRateLimiter builds the plugin. Configuration errors surface when the
// client assembles its chain.
func NewRateLimiter(cfg RateLimiterConfig) (*RateLimiter, error) {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultHostKeyFunc
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = float64(cfg.Limit)
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = cfg.Capacity / cfg.Window.Seconds()
	}

	var issues []string
	if cfg.Storage != nil {
		if cfg.Algorithm == TokenBucket {
			issues = append(issues, "rate limiter: storage-backed counting requires the sliding window algorithm")
		}
		if cfg.SkipSuccessfulRequests || cfg.SkipFailedRequests {
			issues = append(issues, "rate limiter: skip successful/failed requests is not supported with external storage")
		}
	}
	if len(issues) > 0 {
		return nil, &ConfigurationError{Issues: issues}
	}

	rl := &RateLimiter{
		cfg:    cfg,
		states: make(map[string]*rateLimitState),
	}
	if cfg.Storage != nil {
		rl.storage = NewNamespacedStorage("ratelimit", cfg.Storage)
	}
	return rl, nil
}

// Middleware returns the chain middleware for this limiter.
func (rl *RateLimiter) Middleware() Middleware {
	return rl.process
}

func (rl *RateLimiter) process(c *Context, next Handler) error {
	key := rl.cfg.KeyFunc(c.Request)

	if rl.storage != nil {
		return rl.processShared(c, key, next)
	}

	switch rl.cfg.Algorithm {
	case TokenBucket:
		return rl.processTokenBucket(c, key, next)
	default:
		return rl.processSlidingWindow(c, key, next)
	}
}

func (rl *RateLimiter) state(key string) *rateLimitState {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	st, ok := rl.states[key]
	if !ok {
		st = &rateLimitState{}
		rl.states[key] = st
	}
	return st
}

func (rl *RateLimiter) processSlidingWindow(c *Context, key string, next Handler) error {
	st := rl.state(key)

	st.mu.Lock()
	now := time.Now()
	if !now.Before(st.windowResetAt) {
		st.count = 0
		st.windowResetAt = now.Add(rl.cfg.Window)
	}
	st.count++
	if st.count > rl.cfg.Limit {
		err := &RateLimitError{
			Key:        key,
			Limit:      rl.cfg.Limit,
			Remaining:  0,
			ResetAt:    st.windowResetAt,
			RetryAfter: time.Until(st.windowResetAt),
		}
		st.mu.Unlock()
		return err
	}
	remaining := rl.cfg.Limit - st.count
	windowResetAt := st.windowResetAt
	st.mu.Unlock()

	c.SetMeta(MetaRateLimitRemaining, remaining)
	c.SetMeta(MetaRateLimitReset, windowResetAt)

	err := next(c)

	if rl.refundable(c, err) {
		st.mu.Lock()
		// Only refund into the window the admission was charged to.
		if st.windowResetAt.Equal(windowResetAt) && st.count > 0 {
			st.count--
		}
		st.mu.Unlock()
	}
	return err
}

func (rl *RateLimiter) processTokenBucket(c *Context, key string, next Handler) error {
	st := rl.state(key)

	st.mu.Lock()
	now := time.Now()
	if st.lastRefillAt.IsZero() {
		st.tokens = rl.cfg.Capacity
	} else {
		elapsed := now.Sub(st.lastRefillAt).Seconds()
		st.tokens = math.Min(rl.cfg.Capacity, st.tokens+elapsed*rl.cfg.RefillRate)
	}
	st.lastRefillAt = now

	if st.tokens < 1 {
		retryAfter := time.Duration(math.Ceil(1/rl.cfg.RefillRate)) * time.Second
		err := &RateLimitError{
			Key:        key,
			Limit:      int(rl.cfg.Capacity),
			Remaining:  int(st.tokens),
			ResetAt:    now.Add(retryAfter),
			RetryAfter: retryAfter,
		}
		st.mu.Unlock()
		return err
	}
	st.tokens--
	remaining := int(st.tokens)
	st.mu.Unlock()

	c.SetMeta(MetaRateLimitRemaining, remaining)

	err := next(c)

	if rl.refundable(c, err) {
		st.mu.Lock()
		st.tokens = math.Min(rl.cfg.Capacity, st.tokens+1)
		st.mu.Unlock()
	}
	return err
}

// processShared counts through the Storage backend so the limit spans every
// process sharing it. The backend's Increment must be atomic.
func (rl *RateLimiter) processShared(c *Context, key string, next Handler) error {
	count, serr := rl.storage.Increment(c.Context(), key, rl.cfg.Window)
	if serr != nil {
		// A broken counter backend must not take down traffic.
		return next(c)
	}
	// The backend exposes only the counter, not the window start, so the
	// reset is reported as the conservative upper bound of a full window
	// from now. The true reset for mid-window admissions is earlier.
	resetAt := time.Now().Add(rl.cfg.Window)
	if count > int64(rl.cfg.Limit) {
		return &RateLimitError{
			Key:        key,
			Limit:      rl.cfg.Limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: rl.cfg.Window,
		}
	}
	c.SetMeta(MetaRateLimitRemaining, rl.cfg.Limit-int(count))
	c.SetMeta(MetaRateLimitReset, resetAt)
	return next(c)
}

// refundable implements the Skip* post-hoc accounting: the admission is
// committed up front and refunded once the outcome class is known.
func (rl *RateLimiter) refundable(c *Context, err error) bool {
	success := err == nil && c.Response != nil && c.Response.StatusCode < 400
	if rl.cfg.SkipSuccessfulRequests && success {
		return true
	}
	if rl.cfg.SkipFailedRequests && !success {
		return true
	}
	return false
}
