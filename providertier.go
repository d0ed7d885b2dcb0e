package tiercache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"

	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

const defaultKeyStripes = 64

type ProviderTierConfig[V any] struct {
	Tier      Tier
	Namespace string
	Provider  pr.Provider
	Codec     c.Codec[V]

	MaxEntries    int     // <= 0 means unbounded
	EvictFraction float64 // 0 => 0.10
	Compression   bool
	Clock         clock.Clock

	// Cost is passed to Provider.Set; default is the envelope length.
	Cost func(key string, b []byte) int64
	// KeyStripes is the number of per-key lock stripes; 0 => 64.
	KeyStripes int
}

type residency struct {
	meta         Metadata
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  uint64
	size         int
}

// ProviderTier stores framed entries in a provider.Provider and keeps a
// local residency index for capacity, LRU order and tag scans.
//
// Puts reserve their slot (and pick victims) under one mutex before any
// provider I/O, so concurrent inserts can never overshoot capacity. Provider
// calls for the same key are serialized by a striped lock.
type ProviderTier[V any] struct {
	tier  Tier
	ns    string
	p     pr.Provider
	codec c.Codec[V]

	max      int
	frac     float64
	compress bool
	clock    clock.Clock
	cost     func(string, []byte) int64

	mu    sync.Mutex
	idx   map[string]*residency
	bytes int64

	stripes []sync.Mutex
}

var _ TierStore[struct{}] = (*ProviderTier[struct{}])(nil)

func NewProviderTier[V any](cfg ProviderTierConfig[V]) (*ProviderTier[V], error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("tiercache: provider tier %s: provider is required", cfg.Tier)
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("tiercache: provider tier %s: codec is required", cfg.Tier)
	}
	if !cfg.Tier.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, cfg.Tier)
	}
	t := &ProviderTier[V]{
		tier:     cfg.Tier,
		ns:       coalesce(cfg.Namespace, "default"),
		p:        cfg.Provider,
		codec:    cfg.Codec,
		max:      cfg.MaxEntries,
		frac:     positive(cfg.EvictFraction, defaultEvictFraction),
		compress: cfg.Compression,
		clock:    coalesce[clock.Clock](cfg.Clock, clock.New()),
		cost:     cfg.Cost,
		idx:      make(map[string]*residency),
		stripes:  make([]sync.Mutex, positive(cfg.KeyStripes, defaultKeyStripes)),
	}
	if t.cost == nil {
		t.cost = func(_ string, b []byte) int64 { return int64(len(b)) }
	}
	return t, nil
}

func (t *ProviderTier[V]) storageKey(key string) string {
	return util.TierKey(t.ns, t.tier.String(), key)
}

func (t *ProviderTier[V]) lock(key string) func() {
	m := &t.stripes[xxhash.Sum64String(key)%uint64(len(t.stripes))]
	m.Lock()
	return m.Unlock
}

func (t *ProviderTier[V]) Get(ctx context.Context, key string) (*Entry[V], bool, error) {
	e, victims, ok, err := t.get(ctx, key)
	t.dropVictims(ctx, victims)
	return e, ok, err
}

func (t *ProviderTier[V]) get(ctx context.Context, key string) (*Entry[V], []string, bool, error) {
	unlock := t.lock(key)
	defer unlock()

	sk := t.storageKey(key)
	b, ok, err := t.p.Get(ctx, sk)
	if err != nil {
		return nil, nil, false, err
	}
	if !ok {
		// the backend dropped it on its own (TTL, memory pressure)
		t.forget(key)
		return nil, nil, false, nil
	}

	e, err := t.decode(key, b)
	if err != nil {
		t.forget(key)
		_ = t.p.Del(ctx, sk) // self-heal
		return nil, nil, false, err
	}

	now := t.clock.Now()
	if e.Expired(now) {
		t.forget(key)
		_ = t.p.Del(ctx, sk)
		return nil, nil, false, ErrExpired
	}
	return e, t.touch(e, now), true, nil
}

func (t *ProviderTier[V]) decode(key string, b []byte) (*Entry[V], error) {
	h, payload, err := wire.DecodeEntry(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if h.Compressed() {
		if payload, err = c.Decompress(payload); err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptEntry, err)
		}
	}
	if checksum(payload) != h.Checksum {
		return nil, ErrChecksumMismatch
	}
	v, err := t.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode value: %v", ErrCorruptEntry, err)
	}
	return &Entry[V]{
		Key:   key,
		Value: v,
		Meta: Metadata{
			TTL:          time.Duration(h.TTL),
			Tags:         h.Tags,
			Priority:     Priority(h.Priority),
			Dependencies: h.Deps,
			Version:      h.Version,
			Checksum:     h.Checksum,
		},
		CreatedAt: time.Unix(0, h.CreatedAt),
		Size:      len(payload),
		raw:       payload,
	}, nil
}

// touch records a read in the index. A hit the index does not know about
// (written by another process sharing the backend) is adopted, which may
// evict to make room.
func (t *ProviderTier[V]) touch(e *Entry[V], now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.idx[e.Key]; ok {
		r.lastAccessed = now
		r.accessCount++
		e.LastAccessed = now
		e.AccessCount = r.accessCount
		return nil
	}
	victims := t.makeRoomLocked()
	e.LastAccessed = now
	e.AccessCount = 1
	t.idx[e.Key] = &residency{
		meta:         e.Meta.clone(),
		createdAt:    e.CreatedAt,
		lastAccessed: now,
		accessCount:  1,
		size:         e.Size,
	}
	t.bytes += int64(e.Size)
	return victims
}

func (t *ProviderTier[V]) makeRoomLocked() []string {
	if t.max <= 0 || len(t.idx) < t.max {
		return nil
	}
	cs := make([]candidate, 0, len(t.idx))
	for k, r := range t.idx {
		cs = append(cs, candidate{key: k, last: r.lastAccessed})
	}
	victims := oldest(cs, evictionBatch(len(cs), t.frac))
	for _, k := range victims {
		t.bytes -= int64(t.idx[k].size)
		delete(t.idx, k)
	}
	return victims
}

// dropVictims deletes evicted keys from the backend. It runs after the
// caller released its own stripe and takes each victim's stripe, so a Put of
// the victim that is still in flight finishes first; a victim that was
// re-inserted meanwhile is left alone.
func (t *ProviderTier[V]) dropVictims(ctx context.Context, victims []string) {
	for _, k := range victims {
		unlock := t.lock(k)
		if !t.resident(k) {
			_ = t.p.Del(ctx, t.storageKey(k))
		}
		unlock()
	}
}

func (t *ProviderTier[V]) resident(key string) bool {
	t.mu.Lock()
	_, ok := t.idx[key]
	t.mu.Unlock()
	return ok
}

func (t *ProviderTier[V]) forget(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.idx[key]
	if ok {
		t.bytes -= int64(r.size)
		delete(t.idx, key)
	}
	return ok
}

func (t *ProviderTier[V]) Put(ctx context.Context, e *Entry[V]) ([]string, error) {
	victims, err := t.put(ctx, e)
	t.dropVictims(ctx, victims)
	return victims, err
}

func (t *ProviderTier[V]) put(ctx context.Context, e *Entry[V]) ([]string, error) {
	unlock := t.lock(e.Key)
	defer unlock()

	now := t.clock.Now()
	ttl := time.Duration(0)
	if e.Meta.TTL > 0 {
		ttl = e.Meta.TTL - now.Sub(e.CreatedAt)
		if ttl <= 0 {
			// already expired; storing it would only serve a miss later
			t.forget(e.Key)
			_ = t.p.Del(ctx, t.storageKey(e.Key))
			return nil, nil
		}
	}

	payload := e.raw
	if payload == nil {
		var err error
		if payload, err = t.codec.Encode(e.Value); err != nil {
			return nil, err
		}
	}
	h := wire.Header{
		Version:   e.Meta.Version,
		Checksum:  e.Meta.Checksum,
		CreatedAt: e.CreatedAt.UnixNano(),
		TTL:       int64(e.Meta.TTL),
		Priority:  uint8(e.Meta.Priority),
		Tags:      e.Meta.Tags,
		Deps:      e.Meta.Dependencies,
	}
	if t.compress {
		z, err := c.Compress(payload)
		if err != nil {
			return nil, err
		}
		payload = z
		h.Flags |= wire.FlagCompressed
	}
	b, err := wire.EncodeEntry(h, payload)
	if err != nil {
		return nil, err
	}

	// reserve the slot before I/O
	t.mu.Lock()
	prev, existed := t.idx[e.Key]
	var victims []string
	if !existed {
		victims = t.makeRoomLocked()
	} else {
		t.bytes -= int64(prev.size)
	}
	t.idx[e.Key] = &residency{
		meta:         e.Meta.clone(),
		createdAt:    e.CreatedAt,
		lastAccessed: e.LastAccessed,
		accessCount:  e.AccessCount,
		size:         e.Size,
	}
	t.bytes += int64(e.Size)
	t.mu.Unlock()

	sk := t.storageKey(e.Key)
	ok, err := t.p.Set(ctx, sk, b, t.cost(sk, b), ttl)
	if err != nil || !ok {
		// the backend may still hold a previous value; drop both so the
		// index never claims an entry the backend does not have
		t.forget(e.Key)
		_ = t.p.Del(ctx, sk)
		if err == nil {
			err = ErrRejected
		}
		return victims, err
	}
	return victims, nil
}

func (t *ProviderTier[V]) Delete(ctx context.Context, key string) (bool, error) {
	unlock := t.lock(key)
	defer unlock()
	had := t.forget(key)
	return had, t.p.Del(ctx, t.storageKey(key))
}

func (t *ProviderTier[V]) Scan(ctx context.Context, fn func(string, Metadata) bool) error {
	type item struct {
		key  string
		meta Metadata
	}
	t.mu.Lock()
	snap := make([]item, 0, len(t.idx))
	for k, r := range t.idx {
		snap = append(snap, item{k, r.meta.clone()})
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

func (t *ProviderTier[V]) Stats(context.Context) TierStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TierStats{Entries: len(t.idx), Bytes: t.bytes, Capacity: t.max}
}

// Clear deletes every key this tier knows about. Keys written by other
// processes sharing the backend are left alone.
func (t *ProviderTier[V]) Clear(ctx context.Context) error {
	t.mu.Lock()
	keys := make([]string, 0, len(t.idx))
	for k := range t.idx {
		keys = append(keys, k)
	}
	t.idx = make(map[string]*residency)
	t.bytes = 0
	t.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := t.p.Del(ctx, t.storageKey(k)); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrs(errs)
}

func (t *ProviderTier[V]) Close(ctx context.Context) error {
	t.mu.Lock()
	t.idx = make(map[string]*residency)
	t.bytes = 0
	t.mu.Unlock()
	return t.p.Close(ctx)
}
