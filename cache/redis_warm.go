package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWarmTier is the multi-instance-safe alternative to WarmTier: the
// same get/set/delete/clear surface, backed by a shared Redis instance
// so a cache populated by one process is visible to another. Keys are
// namespaced under a configurable prefix, "cache:" by default.
type RedisWarmTier struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisWarmTierConfig struct {
	URL    string
	TTL    time.Duration
	Prefix string
}

func NewRedisWarmTier(ctx context.Context, cfg RedisWarmTierConfig) (*RedisWarmTier, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connecting to redis: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cache:"
	}
	return &RedisWarmTier{client: client, ttl: ttl, prefix: prefix}, nil
}

func (r *RedisWarmTier) key(id string) string { return r.prefix + id }

func (r *RedisWarmTier) Get(ctx context.Context, id string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get %s: %w", id, err)
	}
	return val, true, nil
}

func (r *RedisWarmTier) Set(ctx context.Context, id string, value []byte) error {
	if err := r.client.Set(ctx, r.key(id), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %s: %w", id, err)
	}
	return nil
}

func (r *RedisWarmTier) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete %s: %w", id, err)
	}
	return nil
}

// Clear removes every key under this tier's prefix. Uses SCAN rather
// than KEYS so a large cache doesn't block the Redis event loop.
func (r *RedisWarmTier) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("cache: redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: redis clear batch: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (r *RedisWarmTier) Close() error { return r.client.Close() }
