package acfetch

import (
	"context"
	"encoding/json"
	"time"
)

// StorageCache adapts a Storage backend (e.g. RedisStorage) to the Cache
// interface so cached responses can be shared across processes. Entries are
// JSON-encoded; backend errors degrade to cache misses rather than failing
// the request.
type StorageCache struct {
	storage Storage

	// OnError observes backend failures that were degraded to misses.
	OnError func(op, key string, err error)
}

// NewStorageCache wraps storage under the "cache" namespace.
func NewStorageCache(storage Storage) *StorageCache {
	return &StorageCache{storage: NewNamespacedStorage("cache", storage)}
}

func (c *StorageCache) observe(op, key string, err error) {
	if err != nil && c.OnError != nil {
		c.OnError(op, key, err)
	}
}

func (c *StorageCache) Get(key string) (*CacheEntry, bool) {
	raw, ok, err := c.storage.Get(context.Background(), key)
	if err != nil {
		c.observe("get", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.observe("decode", key, err)
		return nil, false
	}
	if time.Now().After(entry.retentionDeadline()) {
		return nil, false
	}
	return &entry, true
}

func (c *StorageCache) Set(key string, entry *CacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		c.observe("encode", key, err)
		return
	}
	ttl := time.Until(entry.retentionDeadline())
	if ttl <= 0 {
		return
	}
	if err := c.storage.Set(context.Background(), key, raw, ttl); err != nil {
		c.observe("set", key, err)
	}
}

func (c *StorageCache) Delete(key string) {
	if err := c.storage.Delete(context.Background(), key); err != nil {
		c.observe("delete", key, err)
	}
}

func (c *StorageCache) Clear() {
	if err := c.storage.Clear(context.Background()); err != nil {
		c.observe("clear", "", err)
	}
}
