package tiercache

import (
	"context"
	"sort"
	"time"
)

// TierStore is one cache level. Implementations must be safe for concurrent
// use and must make the capacity check, victim selection and insert of Put
// a single atomic step with respect to other Puts on the same store.
type TierStore[V any] interface {
	// Get returns a copy of the live entry and bumps its LastAccessed and
	// AccessCount. An expired entry is removed and reported as
	// (nil, false, ErrExpired).
	Get(ctx context.Context, key string) (*Entry[V], bool, error)

	// Put inserts or replaces e. Inserting a new key into a full store first
	// evicts the least recently accessed batch; the evicted keys are returned.
	Put(ctx context.Context, e *Entry[V]) (evicted []string, err error)

	Delete(ctx context.Context, key string) (bool, error)

	// Scan calls fn for every resident key until fn returns false. It works
	// on a snapshot and never blocks writers while fn runs.
	Scan(ctx context.Context, fn func(key string, meta Metadata) bool) error

	Stats(ctx context.Context) TierStats
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

type TierStats struct {
	Entries  int
	Bytes    int64
	Capacity int // <= 0 means unbounded
}

// Usage is Entries/Capacity, or 0 for unbounded stores.
func (s TierStats) Usage() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.Entries) / float64(s.Capacity)
}

const defaultEvictFraction = 0.10

// evictionBatch is how many of n resident entries one eviction removes:
// floor(n*frac), at least one.
func evictionBatch(n int, frac float64) int {
	k := int(float64(n) * frac)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

type candidate struct {
	key  string
	last time.Time
}

// oldest returns the k least recently accessed keys.
func oldest(cs []candidate, k int) []string {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].last.Equal(cs[j].last) {
			return cs[i].key < cs[j].key
		}
		return cs[i].last.Before(cs[j].last)
	})
	out := make([]string, 0, k)
	for i := 0; i < k && i < len(cs); i++ {
		out = append(out, cs[i].key)
	}
	return out
}
