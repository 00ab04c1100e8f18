package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultLocalTTL = 5 * time.Minute

// New builds the cache named by cfg.Type. "memory" (or empty) gives an
// LRUCache. "redis" gives a RedisCache, fronted by an LRUCache when
// EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		shared, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return shared, nil
		}
		return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), shared, cfg.LocalTTL), nil
	}
	return nil, fmt.Errorf("unsupported cache type %q", cfg.Type)
}

// TwoPhaseCache reads through a local LRU to a shared tier. Writes land in
// the shared tier first so the local copy never holds a value the other
// replicas cannot see.
type TwoPhaseCache struct {
	local    *LRUCache
	shared   domain.Cache
	localTTL time.Duration
}

// NewTwoPhaseCache layers local over shared. localTTL caps how long a
// replica may keep serving a value another replica has replaced.
func NewTwoPhaseCache(local *LRUCache, shared domain.Cache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	return &TwoPhaseCache{local: local, shared: shared, localTTL: localTTL}
}

func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if v, _ := c.local.Get(ctx, key); v != nil {
		return v, nil
	}
	v, err := c.shared.Get(ctx, key)
	if err != nil || v == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, key, v, c.localTTL)
	return v, nil
}

func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		_ = c.local.Delete(ctx, key)
		return err
	}
	localTTL := c.localTTL
	if ttl > 0 {
		localTTL = min(localTTL, ttl)
	}
	return c.local.Set(ctx, key, value, localTTL)
}

// Delete clears the local copy even when the shared delete fails.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	return c.shared.Delete(ctx, key)
}

// Ping only reports the shared tier. The local LRU cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.shared.Ping(ctx); err != nil {
		return fmt.Errorf("shared cache: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	return errors.Join(c.local.Close(), c.shared.Close())
}

// Stats reports the local tier.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
