package acfetch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage is a Storage backend on top of go-redis, for sharing rate
// limit counters and cached entries across processes. Key expiry is
// delegated to Redis TTLs.
type RedisStorage struct {
	client redis.UniversalClient
}

// NewRedisStorage wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisStorage(client redis.UniversalClient) *RedisStorage {
	return &RedisStorage{client: client}
}

func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Increment increments the counter under key and applies the ttl only when
// the counter starts a fresh window, matching MemoryStorage semantics.
func (s *RedisStorage) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && ttl > 0 {
		if err := s.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Clear flushes the selected Redis database. Prefer NamespacedStorage with
// a dedicated database when sharing the instance with other applications.
func (s *RedisStorage) Clear(ctx context.Context) error {
	return s.client.FlushDB(ctx).Err()
}
