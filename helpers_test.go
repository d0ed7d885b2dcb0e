package tiercache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	c "github.com/unkn0wn-root/tiercache/codec"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// memProvider is a byte store without TTL handling; entry expiry is the
// tier's job.
type memProvider struct {
	mu      sync.Mutex
	m       map[string][]byte
	ttls    map[string]time.Duration
	reject  bool
	failDel error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider {
	return &memProvider{m: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.m[key]
	return b, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	p.m[key] = append([]byte(nil), value...)
	p.ttls[key] = ttl
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDel != nil {
		return p.failDel
	}
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) raw(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.m[key]
	return b, ok
}

func (p *memProvider) put(key string, b []byte) {
	p.mu.Lock()
	p.m[key] = b
	p.mu.Unlock()
}

func (p *memProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

type mapSource struct {
	mu sync.Mutex
	m  map[string]user
}

func newMapSource() *mapSource { return &mapSource{m: make(map[string]user)} }

func (s *mapSource) Write(_ context.Context, key string, v user) error {
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
	return nil
}

func (s *mapSource) get(key string) (user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

type evictionEvent struct {
	tier   Tier
	keys   []string
	reason EvictReason
}

type recordingHooks struct {
	NopHooks

	mu          sync.Mutex
	sets        []SetEvent
	evictions   []evictionEvent
	errs        []ErrorEvent
	invalidated map[string]bool // key -> cascade
	tagEvents   int
	cleared     int
	warmups     []*WarmupReport
	initialized int
}

func (h *recordingHooks) Initialized(string) {
	h.mu.Lock()
	h.initialized++
	h.mu.Unlock()
}

func (h *recordingHooks) Set(ev SetEvent) {
	h.mu.Lock()
	h.sets = append(h.sets, ev)
	h.mu.Unlock()
}

func (h *recordingHooks) Invalidated(key string, cascade bool) {
	h.mu.Lock()
	if h.invalidated == nil {
		h.invalidated = make(map[string]bool)
	}
	h.invalidated[key] = cascade
	h.mu.Unlock()
}

func (h *recordingHooks) TagsInvalidated([]string, int) {
	h.mu.Lock()
	h.tagEvents++
	h.mu.Unlock()
}

func (h *recordingHooks) Evicted(t Tier, keys []string, r EvictReason) {
	h.mu.Lock()
	h.evictions = append(h.evictions, evictionEvent{t, append([]string(nil), keys...), r})
	h.mu.Unlock()
}

func (h *recordingHooks) Error(ev ErrorEvent) {
	h.mu.Lock()
	h.errs = append(h.errs, ev)
	h.mu.Unlock()
}

func (h *recordingHooks) Cleared(string) {
	h.mu.Lock()
	h.cleared++
	h.mu.Unlock()
}

func (h *recordingHooks) WarmupCompleted(r *WarmupReport) {
	h.mu.Lock()
	h.warmups = append(h.warmups, r)
	h.mu.Unlock()
}

func (h *recordingHooks) evictedBy(reason EvictReason) []evictionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []evictionEvent
	for _, ev := range h.evictions {
		if ev.reason == reason {
			out = append(out, ev)
		}
	}
	return out
}

func (h *recordingHooks) errorsFor(op ErrorOp) []ErrorEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ErrorEvent
	for _, ev := range h.errs {
		if ev.Op == op {
			out = append(out, ev)
		}
	}
	return out
}

func (h *recordingHooks) lastSet() SetEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sets) == 0 {
		return SetEvent{}
	}
	return h.sets[len(h.sets)-1]
}

func (h *recordingHooks) warmupCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.warmups)
}

func newTestEngine(t *testing.T, mod func(*Options[user])) (*Engine[user], *clock.Mock, *recordingHooks) {
	t.Helper()
	clk := clock.NewMock()
	h := &recordingHooks{}
	opts := Options[user]{
		Clock: clk,
		Hooks: h,
		Codec: c.JSON[user]{},
	}
	if mod != nil {
		mod(&opts)
	}
	e, err := New[user](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, clk, h
}

func testEntry(t *testing.T, key string, v user, now time.Time, ttl time.Duration) *Entry[user] {
	t.Helper()
	raw, err := c.JSON[user]{}.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &Entry[user]{
		Key:          key,
		Value:        v,
		Meta:         Metadata{TTL: ttl, Priority: PriorityMedium, Version: 1, Checksum: checksum(raw)},
		CreatedAt:    now,
		LastAccessed: now,
		Size:         len(raw),
		raw:          raw,
	}
}

func residentKeys(t *testing.T, s interface {
	Scan(context.Context, func(string, Metadata) bool) error
}) []string {
	t.Helper()
	var keys []string
	if err := s.Scan(context.Background(), func(k string, _ Metadata) bool {
		keys = append(keys, k)
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	sort.Strings(keys)
	return keys
}

// eventually advances the mock clock by step until cond holds. Background
// goroutines register their timers asynchronously, so a single Add is not
// enough.
func eventually(t *testing.T, clk *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		clk.Add(step)
		time.Sleep(time.Millisecond)
	}
}
