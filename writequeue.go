package tiercache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type writeJob[V any] struct {
	entry *Entry[V]
	tiers []Tier
	gen   uint64 // key generation at enqueue
}

// writeQueue is the FIFO behind write-behind. One drain runs at a time and
// hands jobs to apply in order, at most BufferSize per batch, so the last
// write to a key wins.
type writeQueue[V any] struct {
	mu   sync.Mutex
	jobs []writeJob[V]

	drainMu sync.Mutex
	running atomic.Bool

	apply func(ctx context.Context, batch []writeJob[V])
	log   Logger
	clock clock.Clock

	limit     int
	flush     time.Duration
	supervise time.Duration

	kick  chan struct{}
	rearm chan struct{}
	wg    sync.WaitGroup // drain goroutines
}

type writeQueueConfig[V any] struct {
	Apply             func(ctx context.Context, batch []writeJob[V])
	Logger            Logger
	Clock             clock.Clock
	BufferSize        int
	FlushInterval     time.Duration
	SuperviseInterval time.Duration
}

func newWriteQueue[V any](cfg writeQueueConfig[V]) *writeQueue[V] {
	return &writeQueue[V]{
		apply:     cfg.Apply,
		log:       cfg.Logger,
		clock:     cfg.Clock,
		limit:     cfg.BufferSize,
		flush:     cfg.FlushInterval,
		supervise: cfg.SuperviseInterval,
		kick:      make(chan struct{}, 1),
		rearm:     make(chan struct{}, 1),
	}
}

func (q *writeQueue[V]) push(j writeJob[V]) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	n := len(q.jobs)
	q.mu.Unlock()
	if n >= q.limit {
		select {
		case q.kick <- struct{}{}:
		default:
		}
	}
}

// popBatch takes up to n jobs off the head of the queue.
func (q *writeQueue[V]) popBatch(n int) []writeJob[V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(len(q.jobs), n)
	if n == 0 {
		return nil
	}
	batch := make([]writeJob[V], n)
	copy(batch, q.jobs)
	clear(q.jobs[:n])
	q.jobs = q.jobs[n:]
	if len(q.jobs) == 0 {
		q.jobs = nil
	}
	return batch
}

func (q *writeQueue[V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *writeQueue[V]) Running() bool { return q.running.Load() }

// reset drops every pending job. A drain in progress finishes the batch it
// already popped.
func (q *writeQueue[V]) reset() int {
	q.mu.Lock()
	n := len(q.jobs)
	q.jobs = nil
	q.mu.Unlock()
	return n
}

// run is the scheduling loop. A drain empties the queue and then asks to be
// rescheduled after the flush interval; a kick starts one immediately. The
// supervisor restarts draining when work is pending and nothing is running,
// which covers a drain that died without rescheduling.
func (q *writeQueue[V]) run(stop <-chan struct{}) {
	next := q.clock.Timer(q.flush)
	sup := q.clock.Ticker(q.supervise)
	defer func() {
		next.Stop()
		sup.Stop()
		q.wg.Wait()
	}()

	armed := true
	for {
		select {
		case <-stop:
			return
		case <-q.kick:
			q.start()
		case <-next.C:
			armed = false
			q.start()
		case <-q.rearm:
			if !armed {
				next.Reset(q.flush)
				armed = true
			}
		case <-sup.C:
			if !q.running.Load() && q.Len() > 0 {
				q.log.Debug("write queue: supervisor restarting drain", Fields{"pending": q.Len()})
				q.start()
			}
		}
	}
}

func (q *writeQueue[V]) start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if q.drain(context.Background()) {
			select {
			case q.rearm <- struct{}{}:
			default:
			}
		}
	}()
}

// drain empties the queue unless another drain holds it. It reports false
// only when it was cut short by a panic.
func (q *writeQueue[V]) drain(ctx context.Context) (ok bool) {
	if !q.drainMu.TryLock() {
		return true
	}
	q.running.Store(true)
	defer func() {
		q.running.Store(false)
		q.drainMu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("write queue: drain panicked", Fields{"panic": fmt.Sprint(r), "pending": q.Len()})
			ok = false
		}
	}()
	q.applyAll(ctx)
	return true
}

func (q *writeQueue[V]) applyAll(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		batch := q.popBatch(max(q.limit, 1))
		if len(batch) == 0 {
			break
		}
		q.apply(ctx, batch)
		n += len(batch)
	}
	return n
}

// Flush waits for any running drain and then applies everything queued.
func (q *writeQueue[V]) Flush(ctx context.Context) error {
	q.drainMu.Lock()
	q.running.Store(true)
	defer func() {
		q.running.Store(false)
		q.drainMu.Unlock()
	}()
	q.applyAll(ctx)
	return ctx.Err()
}
