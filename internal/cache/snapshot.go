package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Snapshot holds the last complete value of a computation. Readers see
// either the previous value or the new one, never a partial update.
type Snapshot[T any] struct {
	key   string
	cur   atomic.Pointer[entry[T]]
	store domain.Cache
}

type entry[T any] struct {
	Value      *T        `json:"value"`
	ComputedAt time.Time `json:"computedAt"`
}

// NewSnapshot creates a snapshot mirrored into store under key.
// store may be nil for a process-local snapshot.
func NewSnapshot[T any](key string, store domain.Cache) *Snapshot[T] {
	return &Snapshot[T]{key: key, store: store}
}

// Load returns the current value and when it was computed.
// ok is false until the first Store or a successful Restore.
func (s *Snapshot[T]) Load() (v *T, computedAt time.Time, ok bool) {
	e := s.cur.Load()
	if e == nil {
		return nil, time.Time{}, false
	}
	return e.Value, e.ComputedAt, true
}

// Store swaps in a new value and mirrors it to the backing cache.
// The in-process swap always happens; a mirror failure is returned.
func (s *Snapshot[T]) Store(ctx context.Context, v *T) error {
	e := &entry[T]{Value: v, ComputedAt: time.Now().UTC()}
	s.cur.Store(e)

	if s.store == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", s.key, err)
	}
	if err := s.store.Set(ctx, s.key, data, 0); err != nil {
		return fmt.Errorf("mirror snapshot %s: %w", s.key, err)
	}
	return nil
}

// Restore loads the mirrored value, if any. It reports whether a value was
// restored and never replaces a value already stored in this process.
func (s *Snapshot[T]) Restore(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", s.key, err)
	}
	if data == nil {
		return false, nil
	}

	var e entry[T]
	if err := json.Unmarshal(data, &e); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", s.key, err)
	}
	if e.Value == nil {
		return false, nil
	}
	return s.cur.CompareAndSwap(nil, &e), nil
}
