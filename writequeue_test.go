package tiercache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	gen "github.com/unkn0wn-root/tiercache/genstore"
)

type applyLog struct {
	mu    sync.Mutex
	names []string
}

func (l *applyLog) add(batch []writeJob[user]) {
	l.mu.Lock()
	for _, j := range batch {
		l.names = append(l.names, j.entry.Value.Name)
	}
	l.mu.Unlock()
}

func (l *applyLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func job(name string) writeJob[user] {
	return writeJob[user]{entry: &Entry[user]{Key: "k", Value: user{Name: name}}, tiers: []Tier{L2}}
}

func newTestQueue(clk clock.Clock, size int, apply func(context.Context, []writeJob[user])) *writeQueue[user] {
	return newWriteQueue(writeQueueConfig[user]{
		Apply:             apply,
		Logger:            NopLogger{},
		Clock:             clk,
		BufferSize:        size,
		FlushInterval:     50 * time.Millisecond,
		SuperviseInterval: time.Second,
	})
}

func TestWriteQueueAppliesInOrder(t *testing.T) {
	var log applyLog
	q := newTestQueue(clock.NewMock(), 100, func(_ context.Context, b []writeJob[user]) { log.add(b) })
	for _, n := range []string{"a", "b", "c"} {
		q.push(job(n))
	}
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := log.snapshot(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("apply order: %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty")
	}
}

func TestWriteQueueKicksWhenBufferFills(t *testing.T) {
	var log applyLog
	clk := clock.NewMock()
	q := newTestQueue(clk, 3, func(_ context.Context, b []writeJob[user]) { log.add(b) })
	q.flush = time.Hour
	q.supervise = time.Hour

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { q.run(stop); close(done) }()
	defer func() { close(stop); <-done }()

	for _, n := range []string{"a", "b", "c"} {
		q.push(job(n))
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(log.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("buffer-full kick did not drain without a clock tick: %v", log.snapshot())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWriteQueueSupervisorRestartsAfterPanic(t *testing.T) {
	var log applyLog
	var once sync.Once
	clk := clock.NewMock()
	q := newTestQueue(clk, 100, func(_ context.Context, b []writeJob[user]) {
		once.Do(func() { panic("tier exploded") })
		log.add(b)
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { q.run(stop); close(done) }()
	defer func() { close(stop); <-done }()

	q.push(job("lost"))
	eventually(t, clk, 100*time.Millisecond, func() bool { return q.Len() == 0 && !q.Running() })

	// the panicked drain never rearmed the flush timer; only the supervisor
	// picks this one up
	q.push(job("kept"))
	eventually(t, clk, 100*time.Millisecond, func() bool {
		got := log.snapshot()
		return len(got) == 1 && got[0] == "kept" && q.Len() == 0 && !q.Running()
	})
}

func TestWriteQueueBatchesAtBufferSize(t *testing.T) {
	var sizes []int
	q := newTestQueue(clock.NewMock(), 2, func(_ context.Context, b []writeJob[user]) {
		sizes = append(sizes, len(b))
	})
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		q.push(job(n))
	}
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("batch sizes = %v, want [2 2 1]", sizes)
	}
}

func TestWriteQueueResetDropsPending(t *testing.T) {
	q := newTestQueue(clock.NewMock(), 100, func(context.Context, []writeJob[user]) {})
	q.push(job("a"))
	q.push(job("b"))
	if n := q.reset(); n != 2 || q.Len() != 0 {
		t.Fatalf("reset dropped %d, len=%d", n, q.Len())
	}
}

func TestWriteQueueFlushHonorsContext(t *testing.T) {
	q := newTestQueue(clock.NewMock(), 100, func(context.Context, []writeJob[user]) {})
	q.push(job("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Flush(ctx); err == nil {
		t.Fatalf("Flush with cancelled ctx should fail")
	}
	if q.Len() != 1 {
		t.Fatalf("cancelled flush must leave jobs queued")
	}
}

type countingGens struct {
	gen.GenStore
	single, many atomic.Int32
}

func (g *countingGens) Snapshot(ctx context.Context, key string) (uint64, error) {
	g.single.Add(1)
	return g.GenStore.Snapshot(ctx, key)
}

func (g *countingGens) SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error) {
	g.many.Add(1)
	return g.GenStore.SnapshotMany(ctx, keys)
}

func TestWriteBehindReadsGenerationsPerBatch(t *testing.T) {
	ctx := context.Background()
	var gs *countingGens
	e, _, _ := newTestEngine(t, func(o *Options[user]) {
		gs = &countingGens{GenStore: gen.NewLocal(o.Clock, time.Hour, time.Hour)}
		o.GenStore = gs
	})

	for _, k := range []string{"a", "b", "c"} {
		_ = e.Set(ctx, k, user{ID: k}, SetOptions{Strategy: WriteBehind})
	}
	single := gs.single.Load()
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// one read before the tier writes, one after
	if n := gs.many.Load(); n != 2 {
		t.Fatalf("SnapshotMany calls = %d, want 2", n)
	}
	if gs.single.Load() != single {
		t.Fatalf("drain fell back to per-key snapshots")
	}
	if q := e.Metrics().Queue; q.Applied != 3 {
		t.Fatalf("applied = %d", q.Applied)
	}
}
