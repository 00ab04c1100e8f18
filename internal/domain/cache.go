package domain

import (
	"context"
	"time"
)

// Cache holds serialized snapshots keyed by name. A miss is (nil, nil), never
// an error, so callers can fall back to recomputing.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value. ttl <= 0 keeps it until deleted or evicted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the snapshot cache.
type CacheConfig struct {
	// "memory" or "redis"
	Type string `mapstructure:"type"`

	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// RedisAddr may hold several comma-separated cluster nodes.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// EnableTwoPhase puts a local LRU in front of Redis.
	EnableTwoPhase bool `mapstructure:"enable_two_phase"`
}
