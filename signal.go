package acfetch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// StopFunc releases the resources behind a derived context (timers, watcher
// goroutines). Callers must invoke it on every exit path, success or failure.
type StopFunc func()

// CombineContexts derives a context that is cancelled as soon as any parent
// is cancelled, propagating the first parent's cancellation cause. Values
// resolve against the parents in order, and the deadline is the earliest
// parent deadline.
//
// Zero parents yields a never-firing context. A single parent is returned
// unchanged with a no-op stop func, avoiding wrapping overhead. A parent
// that is already cancelled cancels the derived context immediately.
func CombineContexts(parents ...context.Context) (context.Context, StopFunc) {
	switch len(parents) {
	case 0:
		return context.Background(), func() {}
	case 1:
		return parents[0], func() {}
	}

	base, cancel := context.WithCancelCause(context.Background())
	stopped := make(chan struct{})

	for _, parent := range parents {
		parent := parent
		go func() {
			select {
			case <-parent.Done():
				cancel(context.Cause(parent))
			case <-base.Done():
			case <-stopped:
			}
		}()
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			cancel(context.Canceled)
		})
	}
	return &combinedContext{Context: base, parents: parents}, stop
}

// combinedContext layers parent value lookup and the earliest parent
// deadline over a cancelable base context.
type combinedContext struct {
	context.Context
	parents []context.Context
}

// Value consults the cancelable base first so stdlib internals (cause
// lookup in particular) resolve against the combined context, then falls
// back to the parents in order.
func (c *combinedContext) Value(key any) any {
	if v := c.Context.Value(key); v != nil {
		return v
	}
	for _, parent := range c.parents {
		if v := parent.Value(key); v != nil {
			return v
		}
	}
	return nil
}

func (c *combinedContext) Deadline() (time.Time, bool) {
	var earliest time.Time
	var ok bool
	for _, parent := range c.parents {
		if d, has := parent.Deadline(); has && (!ok || d.Before(earliest)) {
			earliest = d
			ok = true
		}
	}
	return earliest, ok
}

// ContextWithTimeout derives a context that is cancelled after d elapses,
// with a *TimeoutError cause so the failure is distinguishable from a
// caller-initiated cancel. A non-positive d returns parent unchanged.
//
// The returned StopFunc must be called on the exit path to release the
// timer; this is a scoped-resource contract, not optional cleanup.
func ContextWithTimeout(parent context.Context, d time.Duration) (context.Context, StopFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d <= 0 {
		return parent, func() {}
	}
	ctx, cancel := context.WithTimeoutCause(parent, d, &TimeoutError{After: d})
	return ctx, func() { cancel() }
}

// cancellationCause inspects a context that reported Done and maps it to the
// client error taxonomy: a timeout cause becomes *TimeoutError, everything
// else a *CancellationError.
func cancellationCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	var te *TimeoutError
	if errors.As(cause, &te) {
		return te
	}
	if cause == nil {
		cause = ctx.Err()
	}
	return &CancellationError{Cause: cause}
}
