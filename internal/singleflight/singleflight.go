// Package singleflight merges concurrent calls sharing a key into one
// execution, used to coalesce background cache revalidations.
package singleflight

import "sync"

// Group manages in-flight calls per key.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	wg  sync.WaitGroup
	val any
	err error
}

// New returns an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do runs fn, ensuring at most one execution per key is in flight. A caller
// arriving while another execution runs waits for it and receives the same
// result. The key is released as soon as the execution settles.
func (g *Group) Do(key string, fn func() (any, error)) (any, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	c.wg.Done()

	return c.val, c.err
}

// InFlight reports whether an execution for key is currently running.
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}
