package acfetch

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// CircuitState is the breaker state for one key.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// FailureClassifier decides whether a completed call counts as a breaker
// failure. err is nil when the transport produced a response.
type FailureClassifier func(resp *http.Response, err error) bool

// DefaultFailureClassifier counts transport errors and any response with
// status >= 400 as failures.
func DefaultFailureClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode >= 400
}

// DefaultBreakerKeyFunc keys breaker state by request origin (scheme+host).
func DefaultBreakerKeyFunc(req *http.Request) string {
	if req.URL == nil {
		return "origin:unknown"
	}
	return "origin:" + req.URL.Scheme + "://" + req.URL.Host
}

// CircuitBreakerConfig configures the circuit breaker middleware.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of classified failures within the
	// rolling window that opens the circuit. Defaults to 5.
	FailureThreshold int

	// Window is the rolling failure window; failures do not carry across
	// windows. Defaults to one minute.
	Window time.Duration

	// ResetTimeout is how long an open circuit rejects before admitting a
	// half-open probe. Defaults to 60 seconds.
	ResetTimeout time.Duration

	// KeyFunc buckets breaker state; defaults to DefaultBreakerKeyFunc.
	// Distinct keys are independently-tracked breakers.
	KeyFunc KeyFunc

	// Classifier decides what counts as a failure; defaults to
	// DefaultFailureClassifier. Cancellation never counts regardless.
	Classifier FailureClassifier

	// OnStateChange is invoked synchronously exactly once per actual
	// transition, under the key's lock.
	OnStateChange func(key string, state CircuitState, failures int)
}

type breakerState struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	windowStart   time.Time
	nextAttemptAt time.Time
}

// CircuitBreaker is the keyed three-state breaker plugin.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu     sync.Mutex
	states map[string]*breakerState
}

// NewCircuitBreaker builds the plugin with defaults applied.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultBreakerKeyFunc
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultFailureClassifier
	}
	return &CircuitBreaker{
		cfg:    cfg,
		states: make(map[string]*breakerState),
	}
}

// Middleware returns the chain middleware for this breaker.
func (cb *CircuitBreaker) Middleware() Middleware {
	return cb.process
}

// State reports the current state and failure count for a key.
func (cb *CircuitBreaker) State(key string) (CircuitState, int) {
	st := cb.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state, st.failures
}

// Reset forces a key back to closed with a fresh window.
func (cb *CircuitBreaker) Reset(key string) {
	st := cb.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	cb.transition(key, st, StateClosed)
	st.failures = 0
	st.windowStart = time.Now()
}

func (cb *CircuitBreaker) state(key string) *breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st, ok := cb.states[key]
	if !ok {
		st = &breakerState{state: StateClosed, windowStart: time.Now()}
		cb.states[key] = st
	}
	return st
}

// transition must be called with st.mu held. Fires the hook only on an
// actual state change.
func (cb *CircuitBreaker) transition(key string, st *breakerState, to CircuitState) {
	if st.state == to {
		return
	}
	st.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(key, to, st.failures)
	}
}

func (cb *CircuitBreaker) process(c *Context, next Handler) error {
	key := cb.cfg.KeyFunc(c.Request)
	st := cb.state(key)

	st.mu.Lock()
	now := time.Now()
	switch st.state {
	case StateOpen:
		if now.Before(st.nextAttemptAt) {
			rejection := &CircuitOpenError{
				Key:           key,
				State:         StateOpen,
				Failures:      st.failures,
				NextAttemptAt: st.nextAttemptAt,
			}
			st.mu.Unlock()
			c.SetMeta(MetaCircuitState, StateOpen.String())
			return rejection
		}
		// Lazy transition: first request past the cooldown probes.
		cb.transition(key, st, StateHalfOpen)
	case StateClosed:
		if now.Sub(st.windowStart) > cb.cfg.Window {
			st.failures = 0
			st.windowStart = now
		}
	}
	c.SetMeta(MetaCircuitState, st.state.String())
	st.mu.Unlock()

	err := next(c)

	// Caller aborts say nothing about the dependency's health.
	if errors.Is(err, ErrCancelled) {
		return err
	}

	failed := cb.cfg.Classifier(c.Response, err)

	st.mu.Lock()
	now = time.Now()
	switch st.state {
	case StateHalfOpen:
		if failed {
			st.failures++
			st.nextAttemptAt = now.Add(cb.cfg.ResetTimeout)
			cb.transition(key, st, StateOpen)
		} else {
			st.failures = 0
			st.windowStart = now
			cb.transition(key, st, StateClosed)
		}
	case StateClosed:
		if failed {
			if now.Sub(st.windowStart) > cb.cfg.Window {
				st.failures = 0
				st.windowStart = now
			}
			st.failures++
			if st.failures >= cb.cfg.FailureThreshold {
				st.nextAttemptAt = now.Add(cb.cfg.ResetTimeout)
				cb.transition(key, st, StateOpen)
			}
		}
	case StateOpen:
		// A call admitted before the circuit opened settled late; its
		// outcome does not move the state machine.
	}
	st.mu.Unlock()

	return err
}
