package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CacheStore backed by Redis, used when config.Cache.Backend
// is "redis". Unlike the SQLite-backed store it can be shared across proxy
// processes, which matters when multiple corgi instances front the same
// upstream set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore against the given address (host:port).
// db selects the logical Redis database; pass 0 for the default.
func NewRedisStore(addr string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return &RedisStore{client: client, prefix: "corgi:cache:"}
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// GetCache fetches and deserializes a cache entry. Redis's own TTL (set on
// write) means an expired key simply won't be found; Expired() is still
// checked defensively in case clock skew lets a key outlive its recorded
// ExpiresAt before Redis evicts it.
func (s *RedisStore) GetCache(key string) (*CacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("cache: key not found")
		}
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("cache: decoding entry: %w", err)
	}
	return &entry, nil
}

// SetCache serializes and stores a cache entry with a Redis TTL derived
// from the entry's ExpiresAt, so Redis evicts it without a separate sweep.
func (s *RedisStore) SetCache(key string, entry *CacheEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encoding entry: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	return s.client.Set(ctx, s.redisKey(key), raw, ttl).Err()
}

// DeleteExpired is a no-op for Redis: entries carry their own TTL and are
// evicted by the server. Present only to satisfy the CacheStore interface.
func (s *RedisStore) DeleteExpired() error {
	return nil
}

var _ CacheStore = (*RedisStore)(nil)
