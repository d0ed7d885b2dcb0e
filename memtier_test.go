package tiercache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func fillMemTier(t *testing.T, tier *MemTier[user], clk *clock.Mock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%03d", i)
		if _, err := tier.Put(context.Background(), testEntry(t, k, user{ID: k}, clk.Now(), 0)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
		clk.Add(time.Millisecond)
	}
}

func TestMemTierEvictsOldestTenPercent(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	tier := NewMemTier[user](MemTierConfig{MaxEntries: 100, Clock: clk})
	fillMemTier(t, tier, clk, 100)

	var evicted []string
	for i := 100; i < 110; i++ {
		k := fmt.Sprintf("k%03d", i)
		ev, err := tier.Put(ctx, testEntry(t, k, user{ID: k}, clk.Now(), 0))
		if err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
		evicted = append(evicted, ev...)
		if n := tier.Stats(ctx).Entries; n > 100 {
			t.Fatalf("capacity exceeded after %s: %d", k, n)
		}
		clk.Add(time.Millisecond)
	}

	if len(evicted) != 10 {
		t.Fatalf("evicted %d entries, want 10: %v", len(evicted), evicted)
	}
	for i, k := range evicted {
		if want := fmt.Sprintf("k%03d", i); k != want {
			t.Fatalf("eviction %d = %s, want %s (oldest first)", i, k, want)
		}
	}
}

func TestMemTierReadRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	tier := NewMemTier[user](MemTierConfig{MaxEntries: 3, Clock: clk})
	fillMemTier(t, tier, clk, 3)

	// k000 is the oldest until it is read
	if _, ok, _ := tier.Get(ctx, "k000"); !ok {
		t.Fatalf("k000 missing")
	}
	ev, _ := tier.Put(ctx, testEntry(t, "new", user{}, clk.Now(), 0))
	if len(ev) != 1 || ev[0] != "k001" {
		t.Fatalf("expected k001 evicted, got %v", ev)
	}
}

func TestMemTierOverwriteNeverEvicts(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	tier := NewMemTier[user](MemTierConfig{MaxEntries: 2, Clock: clk})
	fillMemTier(t, tier, clk, 2)

	ev, err := tier.Put(ctx, testEntry(t, "k000", user{Name: "again"}, clk.Now(), 0))
	if err != nil || len(ev) != 0 {
		t.Fatalf("overwrite evicted %v (err=%v)", ev, err)
	}
	got, _, _ := tier.Get(ctx, "k000")
	if got.Value.Name != "again" {
		t.Fatalf("overwrite lost: %+v", got.Value)
	}
}

func TestMemTierGetCountsAccess(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	tier := NewMemTier[user](MemTierConfig{Clock: clk})
	_, _ = tier.Put(ctx, testEntry(t, "k", user{}, clk.Now(), 0))

	clk.Add(time.Second)
	tier.Get(ctx, "k")
	got, _, _ := tier.Get(ctx, "k")
	if got.AccessCount != 2 || !got.LastAccessed.Equal(clk.Now()) {
		t.Fatalf("access bookkeeping: count=%d last=%v", got.AccessCount, got.LastAccessed)
	}
}

func TestMemTierExpiredReadReportsErrExpired(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	tier := NewMemTier[user](MemTierConfig{Clock: clk})
	_, _ = tier.Put(ctx, testEntry(t, "k", user{}, clk.Now(), time.Second))

	clk.Add(2 * time.Second)
	if _, ok, err := tier.Get(ctx, "k"); ok || !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired miss, got ok=%v err=%v", ok, err)
	}
	if tier.Stats(ctx).Entries != 0 || tier.Stats(ctx).Bytes != 0 {
		t.Fatalf("expired entry still accounted: %+v", tier.Stats(ctx))
	}
}

func TestMemTierUnboundedNeverEvicts(t *testing.T) {
	clk := clock.NewMock()
	tier := NewMemTier[user](MemTierConfig{Clock: clk})
	fillMemTier(t, tier, clk, 500)
	if st := tier.Stats(context.Background()); st.Entries != 500 || st.Usage() != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestEvictionBatch(t *testing.T) {
	for _, tc := range []struct {
		n    int
		frac float64
		want int
	}{
		{5, 0.10, 1},
		{100, 0.10, 10},
		{109, 0.10, 10},
		{10, 0.25, 2},
		{1, 0.10, 1},
	} {
		if got := evictionBatch(tc.n, tc.frac); got != tc.want {
			t.Fatalf("evictionBatch(%d, %v) = %d, want %d", tc.n, tc.frac, got, tc.want)
		}
	}
}
