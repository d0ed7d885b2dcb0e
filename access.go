package tiercache

import (
	"sync"
	"time"
)

type accessClass uint8

const (
	accessCold accessClass = iota
	accessRecent
	accessHot
)

// accessTracker counts accesses per key over a sliding window made of two
// fixed buckets. The estimate weights the previous bucket by how much of it
// still overlaps the window.
type accessTracker struct {
	mu     sync.Mutex
	recs   map[string]*accessRec
	window time.Duration
	recent time.Duration
	hot    float64
}

type accessRec struct {
	start     time.Time // start of the current bucket
	cur, prev uint32
	last      time.Time
}

func newAccessTracker(window, recent time.Duration, hot int) *accessTracker {
	return &accessTracker{
		recs:   make(map[string]*accessRec),
		window: window,
		recent: recent,
		hot:    float64(hot),
	}
}

func (r *accessRec) roll(now time.Time, w time.Duration) {
	switch d := now.Sub(r.start); {
	case d >= 2*w:
		r.prev, r.cur = 0, 0
		r.start = now
	case d >= w:
		r.prev, r.cur = r.cur, 0
		r.start = r.start.Add(w)
	}
}

func (r *accessRec) rate(now time.Time, w time.Duration) float64 {
	overlap := 1 - float64(now.Sub(r.start))/float64(w)
	if overlap < 0 {
		overlap = 0
	}
	return float64(r.prev)*overlap + float64(r.cur)
}

func (t *accessTracker) record(key string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.recs[key]
	if !ok {
		r = &accessRec{start: now}
		t.recs[key] = r
	}
	r.roll(now, t.window)
	r.cur++
	r.last = now
}

// frequency is the estimated number of accesses in the last window.
func (t *accessTracker) frequency(key string, now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.recs[key]
	if !ok {
		return 0
	}
	r.roll(now, t.window)
	return r.rate(now, t.window)
}

func (t *accessTracker) classify(key string, now time.Time) accessClass {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.recs[key]
	if !ok {
		return accessCold
	}
	r.roll(now, t.window)
	switch {
	case r.rate(now, t.window) >= t.hot:
		return accessHot
	case now.Sub(r.last) <= t.recent:
		return accessRecent
	}
	return accessCold
}

// prune drops keys idle for two windows; their counts would read as zero.
func (t *accessTracker) prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, r := range t.recs {
		if now.Sub(r.last) >= 2*t.window {
			delete(t.recs, k)
			n++
		}
	}
	return n
}

func (t *accessTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.recs)
}

func (t *accessTracker) reset() {
	t.mu.Lock()
	t.recs = make(map[string]*accessRec)
	t.mu.Unlock()
}
