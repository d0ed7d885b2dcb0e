// Package asynchook moves hook delivery off the request path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SetEvery:   100, // sample: ~every 100th set
//	    EvictEvery: 10,
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := tiercache.New[User](tiercache.Options[User]{
//	    Namespace: "app:prod:user",
//	    Codec:     codec.JSON[User]{},
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped, not queued, once the buffer is full; Dropped reports
// how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Hooks struct {
	inner   tiercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed q
	closed  bool
	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers what is already queued and stops the workers. Events
// arriving afterwards are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Initialized(ns string) { h.try(func() { h.inner.Initialized(ns) }) }
func (h *Hooks) Set(ev tiercache.SetEvent) {
	h.try(func() { h.inner.Set(ev) })
}
func (h *Hooks) Invalidated(k string, cascade bool) {
	h.try(func() { h.inner.Invalidated(k, cascade) })
}

// slices are copied; the caller may reuse them once the call returns
func (h *Hooks) TagsInvalidated(tags []string, n int) {
	tags = append([]string(nil), tags...)
	h.try(func() { h.inner.TagsInvalidated(tags, n) })
}
func (h *Hooks) Evicted(t tiercache.Tier, keys []string, r tiercache.EvictReason) {
	keys = append([]string(nil), keys...)
	h.try(func() { h.inner.Evicted(t, keys, r) })
}
func (h *Hooks) Error(ev tiercache.ErrorEvent)       { h.try(func() { h.inner.Error(ev) }) }
func (h *Hooks) Metrics(m tiercache.MetricsSnapshot) { h.try(func() { h.inner.Metrics(m) }) }
func (h *Hooks) Cleared(ns string)                   { h.try(func() { h.inner.Cleared(ns) }) }
func (h *Hooks) WarmupCompleted(r *tiercache.WarmupReport) {
	h.try(func() { h.inner.WarmupCompleted(r) })
}
