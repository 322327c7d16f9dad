package acfetch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for use with errors.Is. Each typed error below reports
// itself as its matching sentinel, so callers can branch without knowing
// the concrete struct types.
var (
	// ErrConfiguration is matched by *ConfigurationError.
	ErrConfiguration = errors.New("acfetch: invalid configuration")

	// ErrProtocolViolation is matched by *ProtocolViolationError.
	ErrProtocolViolation = errors.New("acfetch: middleware protocol violation")

	// ErrCircuitOpen is matched by *CircuitOpenError.
	ErrCircuitOpen = errors.New("acfetch: circuit open")

	// ErrRateLimited is matched by *RateLimitError.
	ErrRateLimited = errors.New("acfetch: rate limited")

	// ErrTimeout is matched by *TimeoutError.
	ErrTimeout = errors.New("acfetch: timeout")

	// ErrCancelled is matched by *CancellationError.
	ErrCancelled = errors.New("acfetch: cancelled")

	// ErrTransport is matched by *TransportError.
	ErrTransport = errors.New("acfetch: transport failure")
)

// ConfigurationError reports malformed client or pipeline configuration.
// It is returned before any request is attempted and is never retryable.
type ConfigurationError struct {
	Issues []string
}

func (e *ConfigurationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "acfetch: invalid configuration"
	}
	return "acfetch: invalid configuration: " + strings.Join(e.Issues, "; ")
}

// Is reports a match against ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ProtocolViolationError indicates a middleware invoked its next handler more
// than once. This is a bug in the middleware, not a runtime condition, so it
// is never retried or recorded as a circuit failure.
type ProtocolViolationError struct {
	// Position is the index of the offending middleware in the chain;
	// len(chain) refers to the terminal handler's slot.
	Position int
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("acfetch: middleware at position %d called next more than once", e.Position)
}

// Is reports a match against ErrProtocolViolation.
func (e *ProtocolViolationError) Is(target error) bool { return target == ErrProtocolViolation }

// CircuitOpenError is returned when the circuit breaker rejects a request
// without attempting the wrapped call.
type CircuitOpenError struct {
	Key           string
	State         CircuitState
	Failures      int
	NextAttemptAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("acfetch: circuit open for %q (%d failures, next attempt at %s)",
		e.Key, e.Failures, e.NextAttemptAt.Format(time.RFC3339))
}

// Is reports a match against ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// RetryAfter returns how long the caller should wait before the breaker may
// admit a probe request. Zero when the window has already elapsed.
func (e *CircuitOpenError) RetryAfter() time.Duration {
	d := time.Until(e.NextAttemptAt)
	if d < 0 {
		return 0
	}
	return d
}

// RateLimitError is returned when the rate limiter rejects a request.
type RateLimitError struct {
	Key        string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("acfetch: rate limit exceeded for %q (limit %d, resets at %s)",
		e.Key, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Is reports a match against ErrRateLimited.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// TimeoutError is returned when a timeout derived by the client fires. It is
// distinct from CancellationError, which reports a caller-initiated abort.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("acfetch: request timed out after %s", e.After)
	}
	return "acfetch: request timed out"
}

// Is reports a match against ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// CancellationError is returned when the caller's context is cancelled. It is
// never retried and never counted as a circuit breaker failure.
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause != nil {
		return "acfetch: request cancelled: " + e.Cause.Error()
	}
	return "acfetch: request cancelled"
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// Is reports a match against ErrCancelled.
func (e *CancellationError) Is(target error) bool { return target == ErrCancelled }

// TransportError wraps a network-level failure from the terminal transport.
// Retry policies treat these as transient.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return "acfetch: transport failure: " + e.Cause.Error()
	}
	return "acfetch: transport failure"
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Is reports a match against ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsTransient reports whether an error represents a transient failure that
// may succeed on retry. Transport failures and timeouts are transient;
// cancellation, configuration and protocol errors never are. Circuit-open and
// rate-limit rejections are short-circuits the caller should surface rather
// than retry blindly, so they are not transient either.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout)
}
