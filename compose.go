package acfetch

import (
	"fmt"
	"sync"
)

// Handler is the downstream continuation of a middleware: it processes the
// context and either populates Response or returns an error.
type Handler func(*Context) error

// Middleware is a composable request-processing unit. It may read and mutate
// the context, call next at most once, and must propagate errors from next
// unless it deliberately handles them. Calling next twice is a programming
// error and fails the pipeline with *ProtocolViolationError.
type Middleware func(c *Context, next Handler) error

// Compose turns an ordered middleware list into a single middleware.
//
// The returned middleware runs the inputs in onion order: middlewares[0]'s
// pre-next code runs first and its post-next code runs last, with the
// terminal handler at the core. The list must be non-empty and contain no
// nil elements; malformed input fails with *ConfigurationError before any
// request is attempted.
func Compose(middlewares []Middleware) (Middleware, error) {
	if len(middlewares) == 0 {
		return nil, &ConfigurationError{Issues: []string{"compose: middleware list is empty"}}
	}
	for i, m := range middlewares {
		if m == nil {
			return nil, &ConfigurationError{Issues: []string{fmt.Sprintf("compose: middleware at position %d is nil", i)}}
		}
	}

	// Copy so later mutation of the caller's slice cannot reorder the chain.
	chain := make([]Middleware, len(middlewares))
	copy(chain, middlewares)

	return func(c *Context, terminal Handler) error {
		inv := &invocation{called: make([]bool, len(chain)+1)}
		return inv.dispatch(chain, terminal, 0, c)
	}, nil
}

// MustCompose is Compose but panics on malformed input. Intended for chains
// assembled from compile-time constants.
func MustCompose(middlewares []Middleware) Middleware {
	m, err := Compose(middlewares)
	if err != nil {
		panic(err)
	}
	return m
}

// invocation tracks per-run next-call bookkeeping. The mutex guards against
// middlewares that invoke next from a spawned goroutine (the cache plugin's
// background revalidation does exactly that).
type invocation struct {
	mu     sync.Mutex
	called []bool
}

func (inv *invocation) dispatch(chain []Middleware, terminal Handler, i int, c *Context) error {
	inv.mu.Lock()
	if inv.called[i] {
		inv.mu.Unlock()
		return &ProtocolViolationError{Position: i - 1}
	}
	inv.called[i] = true
	inv.mu.Unlock()

	if i == len(chain) {
		return terminal(c)
	}
	return chain[i](c, func(next *Context) error {
		return inv.dispatch(chain, terminal, i+1, next)
	})
}
