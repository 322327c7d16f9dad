package acfetch

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ytahirkose/acfetch/internal/backoff"
)

// RetryCondition decides whether an outcome warrants another attempt.
type RetryCondition func(resp *http.Response, err error) bool

// DefaultRetryCondition retries transient errors, 429 and 5xx responses.
func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return IsTransient(err)
	}
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// DefaultIsIdempotent reports whether a method is safe to repeat.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// RetryConfig configures the retry layer.
//
// Retry is not a chain middleware: it must re-invoke its downstream several
// times, which the composer's single-next contract forbids. The client
// instead wraps the inner portion of the pipeline (rate limiter, breaker,
// transport) in a retrying Handler, so each attempt passes through admission
// control while cache and dedupe run once per logical request.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// call. Defaults to 3.
	MaxRetries int

	// InitialBackoff seeds the delay curve. Defaults to 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps each delay. Defaults to 10s.
	MaxBackoff time.Duration

	// Multiplier is the geometric growth factor. Defaults to 2.0.
	Multiplier float64

	// Jitter in [0,1] randomizes delays to avoid thundering herds.
	// Defaults to 0.1.
	Jitter float64

	// Strategy computes delays; defaults to backoff.ExponentialJitter.
	Strategy backoff.Strategy

	// Condition decides retryability; defaults to DefaultRetryCondition.
	// Cancellation, configuration, protocol, circuit-open and rate-limit
	// errors are never retried regardless of Condition.
	Condition RetryCondition

	// IsIdempotent gates retries by method; defaults to
	// DefaultIsIdempotent.
	IsIdempotent func(method string) bool

	// IgnoreRetryAfter disables honoring the Retry-After response header
	// when scheduling the next attempt.
	IgnoreRetryAfter bool

	// Budget, when set, bounds retries across all requests sharing it.
	Budget *RetryBudget
}

type retrier struct {
	cfg   RetryConfig
	inner Handler
}

// newRetryHandler wraps inner in the retry loop.
func newRetryHandler(cfg RetryConfig, inner Handler) Handler {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = 0.1
	}
	if cfg.Strategy == nil {
		cfg.Strategy = backoff.ExponentialJitter{}
	}
	if cfg.Condition == nil {
		cfg.Condition = DefaultRetryCondition
	}
	if cfg.IsIdempotent == nil {
		cfg.IsIdempotent = DefaultIsIdempotent
	}
	r := &retrier{cfg: cfg, inner: inner}
	return r.run
}

func (r *retrier) run(c *Context) error {
	for attempt := 0; ; attempt++ {
		err := r.inner(c)

		if !r.retryable(c, err, attempt) {
			return err
		}
		if r.cfg.Budget != nil && !r.cfg.Budget.Allow() {
			return err
		}
		c.SetMeta(MetaRetryAttempts, attempt+1)

		delay := r.delayFor(c.Response, attempt)
		discardResponse(c.Response)
		c.Response = nil

		if err := sleepOrCancel(c, delay); err != nil {
			return err
		}
		if err := rewindRequestBody(c.Request); err != nil {
			return err
		}
	}
}

func (r *retrier) retryable(c *Context, err error, attempt int) bool {
	if attempt >= r.cfg.MaxRetries {
		return false
	}
	if err != nil {
		if errors.Is(err, ErrCancelled) ||
			errors.Is(err, ErrConfiguration) ||
			errors.Is(err, ErrProtocolViolation) ||
			errors.Is(err, ErrCircuitOpen) ||
			errors.Is(err, ErrRateLimited) {
			return false
		}
	}
	if !r.cfg.IsIdempotent(c.Request.Method) {
		return false
	}
	return r.cfg.Condition(c.Response, err)
}

func (r *retrier) delayFor(resp *http.Response, attempt int) time.Duration {
	if !r.cfg.IgnoreRetryAfter && resp != nil {
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			return d
		}
	}
	return r.cfg.Strategy.Delay(attempt, backoff.Params{
		Initial:    r.cfg.InitialBackoff,
		Max:        r.cfg.MaxBackoff,
		Multiplier: r.cfg.Multiplier,
		Jitter:     r.cfg.Jitter,
	})
}

// sleepOrCancel waits for the backoff delay, aborting early when the
// request's context fires.
func sleepOrCancel(c *Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-c.Context().Done():
		return cancellationCause(c.Context())
	}
}

// rewindRequestBody restores a replayable body before re-sending.
func rewindRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return &TransportError{Cause: err}
	}
	req.Body = body
	return nil
}

func discardResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms, capped at
// one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget bounds the number of retries issued per rolling window across
// every request sharing the budget, protecting dependencies from retry
// storms.
type RetryBudget struct {
	maxRetries  int64
	perWindow   time.Duration
	current     int64
	windowStart int64
}

// NewRetryBudget allows at most maxRetries retries per window.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  int64(maxRetries),
		perWindow:   perWindow,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow reports whether another retry fits in the current window.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := atomic.LoadInt64(&rb.windowStart)

	if now-windowStart >= int64(rb.perWindow) {
		if atomic.CompareAndSwapInt64(&rb.windowStart, windowStart, now) {
			atomic.StoreInt64(&rb.current, 0)
		}
	}

	if atomic.LoadInt64(&rb.current) >= rb.maxRetries {
		return false
	}
	return atomic.AddInt64(&rb.current, 1) <= rb.maxRetries
}
