package tiercache

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type tierCounters struct {
	hits, misses, evictions, sets atomic.Uint64
}

type counters struct {
	tiers [numTiers]tierCounters

	gets, hits, misses    atomic.Uint64
	loads, loadErrors     atomic.Uint64
	wbEnqueued, wbApplied atomic.Uint64
	wbSkipped, wbFailed   atomic.Uint64
	invalidations, errs   atomic.Uint64
	warmups, warmupLoaded atomic.Uint64
}

func (c *counters) tier(t Tier) *tierCounters { return &c.tiers[t.index()] }

// latencyWindow keeps the last n Get latencies.
type latencyWindow struct {
	mu   sync.Mutex
	buf  []time.Duration
	next int
	full bool
}

func newLatencyWindow(n int) *latencyWindow {
	return &latencyWindow{buf: make([]time.Duration, n)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	w.buf[w.next] = d
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

func (w *latencyWindow) samples() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.full {
		n = len(w.buf)
	}
	out := make([]time.Duration, n)
	copy(out, w.buf[:n])
	return out
}

type LatencyStats struct {
	Samples int
	Avg     time.Duration
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
	Max     time.Duration
}

func latencyStats(s []time.Duration) LatencyStats {
	if len(s) == 0 {
		return LatencyStats{}
	}
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	var sum time.Duration
	for _, d := range s {
		sum += d
	}
	return LatencyStats{
		Samples: len(s),
		Avg:     sum / time.Duration(len(s)),
		P50:     percentile(s, 50),
		P95:     percentile(s, 95),
		P99:     percentile(s, 99),
		Max:     s[len(s)-1],
	}
}

// percentile uses nearest rank over sorted s.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

type TierMetrics struct {
	Tier      Tier
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Sets      uint64
	HitRate   float64
	Entries   int
	Bytes     int64
	Capacity  int
}

type QueueMetrics struct {
	Pending  int
	Running  bool
	Enqueued uint64
	Applied  uint64
	Skipped  uint64 // key invalidated after enqueue
	Failed   uint64
}

// MetricsSnapshot is a point-in-time copy of the engine counters. Counters
// are cumulative since New; Clear does not reset them.
type MetricsSnapshot struct {
	Namespace     string
	Taken         time.Time
	Gets          uint64
	Hits          uint64
	Misses        uint64
	HitRate       float64
	Loads         uint64
	LoadErrors    uint64
	Invalidations uint64
	Errors        uint64
	Warmups       uint64
	WarmupLoaded  uint64
	TrackedKeys   int
	Tiers         []TierMetrics // L1 first
	Latency       LatencyStats
	Queue         QueueMetrics
}

// Tier returns the metrics of t, or the zero value for an invalid tier.
func (m MetricsSnapshot) Tier(t Tier) TierMetrics {
	for _, tm := range m.Tiers {
		if tm.Tier == t {
			return tm
		}
	}
	return TierMetrics{}
}

func ratio(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Metrics returns the current counters, tier occupancy and latency window.
func (e *Engine[V]) Metrics() MetricsSnapshot {
	return e.metricsSnapshot(context.Background())
}

func (e *Engine[V]) metricsSnapshot(ctx context.Context) MetricsSnapshot {
	c := &e.counters
	s := MetricsSnapshot{
		Namespace:     e.ns,
		Taken:         e.clock.Now(),
		Gets:          c.gets.Load(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Loads:         c.loads.Load(),
		LoadErrors:    c.loadErrors.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errs.Load(),
		Warmups:       c.warmups.Load(),
		WarmupLoaded:  c.warmupLoaded.Load(),
		TrackedKeys:   e.access.size(),
		Latency:       latencyStats(e.latency.samples()),
		Queue: QueueMetrics{
			Pending:  e.queue.Len(),
			Running:  e.queue.Running(),
			Enqueued: c.wbEnqueued.Load(),
			Applied:  c.wbApplied.Load(),
			Skipped:  c.wbSkipped.Load(),
			Failed:   c.wbFailed.Load(),
		},
	}
	s.HitRate = ratio(s.Hits, s.Gets)
	s.Tiers = make([]TierMetrics, 0, numTiers)
	for i, store := range e.tiers {
		t := tierAt(i)
		tc := c.tier(t)
		st := store.Stats(ctx)
		tm := TierMetrics{
			Tier:      t,
			Hits:      tc.hits.Load(),
			Misses:    tc.misses.Load(),
			Evictions: tc.evictions.Load(),
			Sets:      tc.sets.Load(),
			Entries:   st.Entries,
			Bytes:     st.Bytes,
			Capacity:  st.Capacity,
		}
		tm.HitRate = ratio(tm.Hits, tm.Hits+tm.Misses)
		s.Tiers = append(s.Tiers, tm)
	}
	return s
}
