package tiercache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyStatsNearestRank(t *testing.T) {
	w := newLatencyWindow(100)
	for i := 100; i >= 1; i-- {
		w.add(time.Duration(i) * time.Millisecond)
	}
	s := latencyStats(w.samples())
	assert.Equal(t, 100, s.Samples)
	assert.Equal(t, 50*time.Millisecond, s.P50)
	assert.Equal(t, 95*time.Millisecond, s.P95)
	assert.Equal(t, 99*time.Millisecond, s.P99)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.Equal(t, 50500*time.Microsecond, s.Avg)

	assert.Equal(t, LatencyStats{}, latencyStats(nil))
}

func TestLatencyWindowWraps(t *testing.T) {
	w := newLatencyWindow(3)
	for i := 1; i <= 5; i++ {
		w.add(time.Duration(i))
	}
	s := latencyStats(w.samples())
	require.Equal(t, 3, s.Samples)
	assert.Equal(t, time.Duration(4), s.Avg, "oldest samples must be overwritten")
	assert.Equal(t, time.Duration(5), s.Max)
}

func TestMetricsSnapshotCounts(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, func(o *Options[user]) { o.Tiers[1].MaxEntries = 50 })

	require.NoError(t, e.Set(ctx, "a", user{Name: "a"}, SetOptions{Strategy: WriteThrough}))
	require.NoError(t, e.Set(ctx, "b", user{Name: "b"}, SetOptions{Strategy: WriteBehind}))
	e.Get(ctx, "a")
	e.Get(ctx, "nope")
	e.GetOrLoad(ctx, "loaded", func(context.Context, string) (user, error) { return user{}, nil }, SetOptions{})

	m := e.Metrics()
	assert.Equal(t, uint64(3), m.Gets)
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(2), m.Misses)
	assert.Equal(t, uint64(1), m.Loads)
	assert.InDelta(t, 1.0/3, m.HitRate, 1e-9)
	// "b" plus the loaded key, which smart treats as recent and queues for L3+L4
	assert.Equal(t, uint64(2), m.Queue.Enqueued)
	assert.Equal(t, 2, m.Queue.Pending)
	assert.Equal(t, 50, m.Tier(L2).Capacity)
	assert.Equal(t, uint64(1), m.Tier(L1).Hits)
	assert.Equal(t, 3, m.Tier(L1).Entries)
	assert.Equal(t, 3, m.Latency.Samples)
	assert.Equal(t, TierMetrics{}, m.Tier(Tier(9)))

	require.NoError(t, e.Flush(ctx))
	m = e.Metrics()
	assert.Equal(t, 0, m.Queue.Pending)
	assert.Equal(t, uint64(2), m.Queue.Applied)
	assert.Equal(t, 3, m.Tier(L4).Entries)
}
