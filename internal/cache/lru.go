// Package cache provides byte caches and the snapshot holder used to serve
// the latest reconciliation and risk results.
package cache

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"time"
)

const defaultLRUCapacity = 10000

// LRUCache is an in-process cache bounded by entry count. It backs the
// Community tier on its own and sits in front of Redis in the Pro tier.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	byKey    map[string]*list.Element
	recency  *list.List // front is most recently used
	now      func() time.Time
}

type lruItem struct {
	key      string
	data     []byte
	deadline time.Time
}

func (it *lruItem) live(at time.Time) bool {
	return it.deadline.IsZero() || !at.After(it.deadline)
}

// NewLRUCache returns a cache holding at most capacity entries.
// Non-positive capacities fall back to 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLRUCapacity
	}
	return &LRUCache{
		capacity: capacity,
		byKey:    make(map[string]*list.Element, min(capacity, 1024)),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns a copy of the stored bytes, or nil when the key is absent or
// expired. Expired entries are dropped on read.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el := c.byKey[key]
	if el == nil {
		return nil, nil
	}
	it := el.Value.(*lruItem)
	if !it.live(c.now()) {
		c.drop(el)
		return nil, nil
	}
	c.recency.MoveToFront(el)
	return slices.Clone(it.data), nil
}

// Set stores a copy of value. ttl <= 0 keeps it until evicted.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := &lruItem{key: key, data: slices.Clone(value)}
	if ttl > 0 {
		it.deadline = c.now().Add(ttl)
	}
	if el := c.byKey[key]; el != nil {
		el.Value = it
		c.recency.MoveToFront(el)
		return nil
	}
	c.byKey[key] = c.recency.PushFront(it)
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el := c.byKey[key]; el != nil {
		c.drop(el)
	}
	return nil
}

func (c *LRUCache) Ping(context.Context) error { return nil }

// Close empties the cache. It stays usable afterwards.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.byKey)
	c.recency.Init()
	return nil
}

// Stats reports the entry count and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.capacity
}

func (c *LRUCache) drop(el *list.Element) {
	delete(c.byKey, el.Value.(*lruItem).key)
	c.recency.Remove(el)
}
