package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKey is the Redis key holding the warm-up entry.
	DefaultRedisKey = "notemind:warmup"

	// DefaultRedisTTL bounds staleness: a cached pair older than this is
	// revalidated on the next startup anyway.
	DefaultRedisTTL = 24 * time.Hour
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379").
	URL string
	// Key overrides DefaultRedisKey.
	Key string
	// TTL overrides DefaultRedisTTL.
	TTL time.Duration
}

// RedisCache implements Cache using Redis, so multiple proxy instances share
// one warm-up result.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}

	return &RedisCache{
		client: redis.NewClient(opts),
		key:    key,
		ttl:    ttl,
	}, nil
}

// Get retrieves the warm-up entry from Redis.
func (c *RedisCache) Get(ctx context.Context) (*WarmupEntry, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read warmup cache from redis: %w", err)
	}

	var entry WarmupEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse warmup cache: %w", err)
	}
	return &entry, nil
}

// Set stores the entry with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, entry *WarmupEntry) error {
	if entry == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal warmup cache: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write warmup cache to redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
