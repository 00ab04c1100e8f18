package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Every key Kestrel writes lives under this namespace so a shared Redis can
// be flushed selectively.
const redisNamespace = "kestrel:"

const redisDialTimeout = 5 * time.Second

// RedisCache stores snapshots in Redis so replicas can warm from each other.
// RedisAddr may list several comma-separated addresses, in which case a
// cluster client is used.
type RedisCache struct {
	rdb redis.UniversalClient
}

// NewRedisCache connects and pings once before returning.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addrs := splitAddrs(cfg.RedisAddr)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: redisDialTimeout,
		ClientName:  "kestrel",
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", strings.Join(addrs, ","), err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func splitAddrs(raw string) []string {
	var addrs []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		addrs = []string{"localhost:6379"}
	}
	return addrs
}

// Get returns nil, nil for a missing key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, redisNamespace+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

// Set writes value; ttl <= 0 keeps the key until deleted.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, redisNamespace+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete unlinks the key so large snapshots are freed off the main thread.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Unlink(ctx, redisNamespace+key).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
