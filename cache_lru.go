package acfetch

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache is a size-bounded Cache that evicts the least-recently-used key
// once capacity is exceeded. Reads refresh recency; expired entries read as
// absent and are dropped eagerly.
type LRUCache struct {
	entries *lru.Cache[string, *CacheEntry]
}

// NewLRUCache builds an LRU cache holding at most capacity entries.
func NewLRUCache(capacity int) (*LRUCache, error) {
	if capacity <= 0 {
		return nil, &ConfigurationError{Issues: []string{"lru cache: capacity must be positive"}}
	}
	entries, err := lru.New[string, *CacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUCache{entries: entries}, nil
}

func (c *LRUCache) Get(key string) (*CacheEntry, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.retentionDeadline()) {
		c.entries.Remove(key)
		return nil, false
	}
	return entry, true
}

func (c *LRUCache) Set(key string, entry *CacheEntry) { c.entries.Add(key, entry) }

func (c *LRUCache) Delete(key string) { c.entries.Remove(key) }

func (c *LRUCache) Clear() { c.entries.Purge() }

// FIFOCache is a size-bounded Cache that evicts the oldest-written key once
// capacity is exceeded. Unlike LRUCache, reads do not affect eviction order.
type FIFOCache struct {
	mu       sync.Mutex
	capacity int
	store    map[string]*CacheEntry
	order    []string
}

// NewFIFOCache builds a FIFO cache holding at most capacity entries.
func NewFIFOCache(capacity int) (*FIFOCache, error) {
	if capacity <= 0 {
		return nil, &ConfigurationError{Issues: []string{"fifo cache: capacity must be positive"}}
	}
	return &FIFOCache{
		capacity: capacity,
		store:    make(map[string]*CacheEntry, capacity),
	}, nil
}

func (c *FIFOCache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.retentionDeadline()) {
		delete(c.store, key)
		return nil, false
	}
	return entry, true
}

func (c *FIFOCache) Set(key string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists {
		for len(c.store) >= c.capacity && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			// Keys deleted out of band may linger in order; skip them.
			if _, live := c.store[oldest]; live {
				delete(c.store, oldest)
			}
		}
		c.order = append(c.order, key)
	}
	c.store[key] = entry
}

func (c *FIFOCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *FIFOCache) Clear() {
	c.mu.Lock()
	c.store = make(map[string]*CacheEntry, c.capacity)
	c.order = nil
	c.mu.Unlock()
}
