package tiercache

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
)

type MemTierConfig struct {
	MaxEntries    int     // <= 0 means unbounded
	EvictFraction float64 // 0 => 0.10
	Clock         clock.Clock
}

// MemTier is the in-process map tier. It is the default for all four levels.
type MemTier[V any] struct {
	mu    sync.Mutex
	m     map[string]*Entry[V]
	bytes int64

	max   int
	frac  float64
	clock clock.Clock
}

var _ TierStore[struct{}] = (*MemTier[struct{}])(nil)

func NewMemTier[V any](cfg MemTierConfig) *MemTier[V] {
	return &MemTier[V]{
		m:     make(map[string]*Entry[V]),
		max:   cfg.MaxEntries,
		frac:  positive(cfg.EvictFraction, defaultEvictFraction),
		clock: coalesce[clock.Clock](cfg.Clock, clock.New()),
	}
}

func (t *MemTier[V]) Get(_ context.Context, key string) (*Entry[V], bool, error) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[key]
	if !ok {
		return nil, false, nil
	}
	if e.Expired(now) {
		t.removeLocked(key, e)
		return nil, false, ErrExpired
	}
	e.LastAccessed = now
	e.AccessCount++
	return e.clone(), true, nil
}

func (t *MemTier[V]) Put(_ context.Context, e *Entry[V]) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	old, exists := t.m[e.Key]
	if !exists && t.max > 0 && len(t.m) >= t.max {
		evicted = t.evictLocked()
	}
	if exists {
		t.bytes -= int64(old.Size)
	}
	t.m[e.Key] = e.clone()
	t.bytes += int64(e.Size)
	return evicted, nil
}

func (t *MemTier[V]) evictLocked() []string {
	cs := make([]candidate, 0, len(t.m))
	for k, e := range t.m {
		cs = append(cs, candidate{key: k, last: e.LastAccessed})
	}
	victims := oldest(cs, evictionBatch(len(cs), t.frac))
	for _, k := range victims {
		t.removeLocked(k, t.m[k])
	}
	return victims
}

func (t *MemTier[V]) removeLocked(key string, e *Entry[V]) {
	delete(t.m, key)
	t.bytes -= int64(e.Size)
}

func (t *MemTier[V]) Delete(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.m[key]
	if ok {
		t.removeLocked(key, e)
	}
	return ok, nil
}

func (t *MemTier[V]) Scan(ctx context.Context, fn func(string, Metadata) bool) error {
	type item struct {
		key  string
		meta Metadata
	}
	t.mu.Lock()
	snap := make([]item, 0, len(t.m))
	for k, e := range t.m {
		snap = append(snap, item{k, e.Meta.clone()})
	}
	t.mu.Unlock()

	for _, it := range snap {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(it.key, it.meta) {
			return nil
		}
	}
	return nil
}

func (t *MemTier[V]) Stats(context.Context) TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{Entries: len(t.m), Bytes: t.bytes, Capacity: t.max}
}

func (t *MemTier[V]) Clear(context.Context) error {
	t.mu.Lock()
	t.m = make(map[string]*Entry[V])
	t.bytes = 0
	t.mu.Unlock()
	return nil
}

func (t *MemTier[V]) Close(ctx context.Context) error { return t.Clear(ctx) }
