package acfetch

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Storage is the shared keyed state backend used by the stateful plugins.
// Implementations must make each operation atomic: no partial
// read-modify-write interleavings for a given key.
//
// Plugins sharing one Storage instance must each use a distinct namespace
// (see NamespacedStorage) so their key spaces cannot collide.
type Storage interface {
	// Get returns the value stored under key, reporting whether a live
	// entry was found. Expired entries read as absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A positive ttl bounds the entry's
	// lifetime; ttl <= 0 stores it without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Increment atomically increments the counter stored under key and
	// returns the new count. A counter that is absent or expired restarts
	// at 1 and, when ttl is positive, expires ttl from that restart.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes the entry stored under key, if any.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

const storageShardCount = 16

type storageRecord struct {
	value     []byte
	counter   int64
	expiresAt time.Time
}

func (r *storageRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

type storageShard struct {
	mu    sync.RWMutex
	store map[string]*storageRecord
}

// MemoryStorage is the in-process Storage backend: a sharded map with lazy
// TTL expiry on read. Safe for concurrent use.
type MemoryStorage struct {
	shards [storageShardCount]*storageShard
}

// NewMemoryStorage returns an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{}
	for i := range s.shards {
		s.shards[i] = &storageShard{store: make(map[string]*storageRecord)}
	}
	return s
}

func (s *MemoryStorage) shard(key string) *storageShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%storageShardCount]
}

func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	shard := s.shard(key)
	shard.mu.RLock()
	rec, ok := shard.store[key]
	shard.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if rec.expired(time.Now()) {
		shard.mu.Lock()
		if cur, still := shard.store[key]; still && cur == rec {
			delete(shard.store, key)
		}
		shard.mu.Unlock()
		return nil, false, nil
	}
	return rec.value, true, nil
}

func (s *MemoryStorage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rec := &storageRecord{value: value}
	if ttl > 0 {
		rec.expiresAt = time.Now().Add(ttl)
	}
	shard := s.shard(key)
	shard.mu.Lock()
	shard.store[key] = rec
	shard.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.store[key]
	if !ok || rec.expired(now) {
		rec = &storageRecord{counter: 0}
		if ttl > 0 {
			rec.expiresAt = now.Add(ttl)
		}
		shard.store[key] = rec
	}
	rec.counter++
	return rec.counter, nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	shard := s.shard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Clear(_ context.Context) error {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*storageRecord)
		shard.mu.Unlock()
	}
	return nil
}

// NamespacedStorage prefixes every key with "<namespace>:" so multiple
// plugins can share one backend without colliding.
type NamespacedStorage struct {
	namespace string
	backend   Storage
}

// NewNamespacedStorage wraps backend under the given namespace.
func NewNamespacedStorage(namespace string, backend Storage) *NamespacedStorage {
	return &NamespacedStorage{namespace: namespace, backend: backend}
}

func (s *NamespacedStorage) key(key string) string { return s.namespace + ":" + key }

func (s *NamespacedStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.backend.Get(ctx, s.key(key))
}

func (s *NamespacedStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.backend.Set(ctx, s.key(key), value, ttl)
}

func (s *NamespacedStorage) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.backend.Increment(ctx, s.key(key), ttl)
}

func (s *NamespacedStorage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.key(key))
}

// Clear clears the whole backend; per-namespace clearing would require key
// scans the Storage contract does not expose.
func (s *NamespacedStorage) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}
