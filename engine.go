package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/tiercache/codec"
	gen "github.com/unkn0wn-root/tiercache/genstore"
)

const (
	defaultNamespace      = "default"
	defaultWriteBuffer    = 1024
	defaultFlushInterval  = 50 * time.Millisecond
	defaultSupervise      = time.Second
	defaultGenRetention   = 30 * 24 * time.Hour
	defaultSweep          = time.Hour
	defaultMaxDepth       = 5
	defaultHotThreshold   = 10
	defaultAccessWindow   = time.Minute
	defaultRecentWindow   = 30 * time.Second
	defaultLatencySamples = 1000
	defaultWarmupParallel = 8
)

const (
	stateNew int32 = iota
	stateRunning
	stateClosed
)

// Engine is the multi-tier cache. Construct it with New, start background
// work with Init and release everything with Close. Get and Set work before
// Init; write-behind jobs then wait for Init or Flush.
type Engine[V any] struct {
	ns      string
	enabled bool

	tiers  [numTiers]TierStore[V]
	codec  c.Codec[V]
	source Source[V]
	gen    gen.GenStore
	log    Logger
	hooks  Hooks
	clock  clock.Clock

	defaultTTL   time.Duration
	strategy     Strategy
	writeBehind  bool
	tagScanAll   bool
	maxDepth     int
	warmupLimit  int
	keys         KeyEnumerator
	policy       AnalysisPolicy
	metricsEvery time.Duration
	pruneEvery   time.Duration

	sf       singleflight.Group
	access   *accessTracker
	deps     *depIndex
	queue    *writeQueue[V]
	latency  *latencyWindow
	counters counters
	cron     *cron.Cron

	lifeMu sync.Mutex
	state  atomic.Int32
	stop   chan struct{}
	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

func New[V any](opts Options[V]) (*Engine[V], error) {
	e := &Engine[V]{
		ns:          coalesce(opts.Namespace, defaultNamespace),
		enabled:     !opts.Disabled,
		source:      opts.Source,
		defaultTTL:  opts.DefaultTTL,
		strategy:    opts.DefaultStrategy,
		writeBehind: opts.WriteBehind,
		tagScanAll:  opts.TagScanAllTiers,
		keys:        opts.KeyEnumerator,
	}

	// defaults
	e.codec = coalesce[c.Codec[V]](opts.Codec, c.JSON[V]{})
	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	e.clock = coalesce[clock.Clock](opts.Clock, clock.New())
	e.maxDepth = positive(opts.MaxDependencyDepth, defaultMaxDepth)
	e.warmupLimit = positive(opts.WarmupConcurrency, defaultWarmupParallel)
	e.policy = opts.Analysis.withDefaults()
	e.metricsEvery = opts.MetricsInterval
	if e.defaultTTL < 0 {
		e.defaultTTL = 0
	}

	if e.strategy != "" {
		if _, err := ParseStrategy(string(e.strategy)); err != nil {
			return nil, err
		}
		if e.strategy.usesSource() && e.source == nil {
			return nil, fmt.Errorf("%w: default strategy %s", ErrNoSource, e.strategy)
		}
	}

	frac := opts.EvictFraction
	if frac < 0 || frac > 1 {
		return nil, fmt.Errorf("tiercache: evict fraction %v out of range (0,1]", frac)
	}
	for i := range opts.Tiers {
		store, err := e.buildTier(tierAt(i), opts.Tiers[i], frac, opts.Compression)
		if err != nil {
			return nil, err
		}
		e.tiers[i] = store
	}

	window := positive(opts.AccessWindow, defaultAccessWindow)
	e.access = newAccessTracker(window,
		positive(opts.RecentWindow, defaultRecentWindow),
		positive(opts.HotThreshold, defaultHotThreshold))
	e.pruneEvery = window
	e.deps = newDepIndex()
	e.latency = newLatencyWindow(positive(opts.LatencySamples, defaultLatencySamples))
	e.queue = newWriteQueue(writeQueueConfig[V]{
		Apply:             e.applyJobs,
		Logger:            e.log,
		Clock:             e.clock,
		BufferSize:        positive(opts.WriteBufferSize, defaultWriteBuffer),
		FlushInterval:     positive(opts.FlushInterval, defaultFlushInterval),
		SuperviseInterval: positive(opts.SuperviseInterval, defaultSupervise),
	})

	if opts.GenStore != nil {
		e.gen = opts.GenStore
	} else {
		// default to in-process generations with periodic cleanup
		e.gen = gen.NewLocal(e.clock,
			positive(opts.CleanupInterval, defaultSweep),
			positive(opts.GenRetention, defaultGenRetention))
	}

	e.cron = newScheduler(e.log)
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine[V]) buildTier(t Tier, to TierOptions[V], frac float64, compress bool) (TierStore[V], error) {
	if to.Store != nil {
		return to.Store, nil
	}
	capacity := to.MaxEntries
	switch {
	case capacity == 0:
		capacity = defaultTierCapacity[t.index()]
	case capacity < 0:
		capacity = 0
	}
	if to.Provider != nil {
		return NewProviderTier(ProviderTierConfig[V]{
			Tier:          t,
			Namespace:     e.ns,
			Provider:      to.Provider,
			Codec:         e.codec,
			MaxEntries:    capacity,
			EvictFraction: frac,
			Compression:   compress,
			Clock:         e.clock,
		})
	}
	return NewMemTier[V](MemTierConfig{MaxEntries: capacity, EvictFraction: frac, Clock: e.clock}), nil
}

func (e *Engine[V]) Enabled() bool { return e.enabled }

func (e *Engine[V]) closed() bool { return e.state.Load() == stateClosed }

// Init starts the write queue, the maintenance loop and scheduled warmups.
// Calling it again is a no-op.
func (e *Engine[V]) Init(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	switch e.state.Load() {
	case stateClosed:
		return ErrClosed
	case stateRunning:
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.stop = make(chan struct{})
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.queue.run(e.stop)
	}()
	go e.maintain(e.stop)
	e.cron.Start()
	e.state.Store(stateRunning)

	e.log.Info("tiercache initialized", Fields{
		"namespace": e.ns,
		"enabled":   e.enabled,
		"strategy":  string(e.defaultStrategy()),
		"scheduled": len(e.cron.Entries()),
	})
	e.hooks.Initialized(e.ns)
	return nil
}

func (e *Engine[V]) maintain(stop <-chan struct{}) {
	defer e.wg.Done()
	prune := e.clock.Ticker(e.pruneEvery)
	defer prune.Stop()

	var tick <-chan time.Time
	if e.metricsEvery > 0 {
		t := e.clock.Ticker(e.metricsEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-stop:
			return
		case <-prune.C:
			if n := e.access.prune(e.clock.Now()); n > 0 {
				e.log.Debug("access tracker pruned", Fields{"keys": n})
			}
		case <-tick:
			e.hooks.Metrics(e.Metrics())
		}
	}
}

// Close stops background work, drains the write queue with ctx and closes
// tiers, the generation store and the source. It is safe to call twice.
func (e *Engine[V]) Close(ctx context.Context) error {
	e.lifeMu.Lock()
	prev := e.state.Swap(stateClosed)
	e.lifeMu.Unlock()
	if prev == stateClosed {
		return nil
	}

	e.cancel()
	if prev == stateRunning {
		done := e.cron.Stop()
		close(e.stop)
		e.wg.Wait()
		select {
		case <-done.Done():
		case <-ctx.Done():
		}
	}

	var errs []error
	pending := e.queue.Len()
	if err := e.queue.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tiercache: flush write queue: %w", err))
	}
	for i, store := range e.tiers {
		if err := store.Close(ctx); err != nil {
			errs = append(errs, &TierError{Tier: tierAt(i), Op: "close", Err: err})
		}
	}
	if err := e.gen.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tiercache: close genstore: %w", err))
	}
	if cl, ok := e.source.(interface{ Close(context.Context) error }); ok {
		if err := cl.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tiercache: close source: %w", err))
		}
	}

	e.log.Info("tiercache closed", Fields{"namespace": e.ns, "flushed": pending})
	return joinErrs(errs)
}

// Get probes L1..L4 and backfills faster tiers on a lower-tier hit.
func (e *Engine[V]) Get(ctx context.Context, key string) Result[V] {
	return e.lookup(ctx, key, nil, SetOptions{})
}

// GetOrLoad is Get that calls loader on a full miss and stores its value
// with opts. Concurrent misses for the same key share one loader call.
// A loader failure is returned as a miss with Result.Err set.
func (e *Engine[V]) GetOrLoad(ctx context.Context, key string, loader LoaderFunc[V], opts SetOptions) Result[V] {
	return e.lookup(ctx, key, loader, opts)
}

type loaded[V any] struct {
	value V
	meta  *Metadata
}

func (e *Engine[V]) lookup(ctx context.Context, key string, loader LoaderFunc[V], opts SetOptions) (res Result[V]) {
	if !e.enabled || e.closed() {
		return res
	}
	start := e.clock.Now()
	e.counters.gets.Add(1)
	e.access.record(key, start)
	defer func() {
		res.LoadTime = elapsed(start, e.clock.Now())
		e.latency.add(res.LoadTime)
	}()

	if ent, t, ok := e.probe(ctx, key); ok {
		e.counters.hits.Add(1)
		meta := ent.Meta.clone()
		res.Value, res.Hit, res.Source, res.Meta = ent.Value, true, t, &meta
		return res
	}
	e.counters.misses.Add(1)
	if loader == nil {
		return res
	}

	// The load is shared by every caller waiting on key, so it must not die
	// with the first caller's context. Timeouts belong to the loader.
	v, err, _ := e.sf.Do(key, func() (any, error) {
		return e.load(context.WithoutCancel(ctx), key, loader, opts)
	})
	if err != nil {
		res.Err = err
		return res
	}
	ld := v.(loaded[V])
	res.Value, res.Loaded = ld.value, true
	if ld.meta != nil {
		meta := ld.meta.clone()
		res.Meta = &meta
	}
	return res
}

func (e *Engine[V]) load(ctx context.Context, key string, loader LoaderFunc[V], opts SetOptions) (ld loaded[V], err error) {
	e.counters.loads.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panicked: %v", r)
		}
		if err != nil {
			err = &LoadError{Key: key, Err: err}
			e.counters.loadErrors.Add(1)
			e.reportErr(OpLoad, key, 0, err)
		}
	}()

	v, err := loader(ctx, key)
	if err != nil {
		return ld, err
	}
	meta, _, serr := e.set(ctx, key, v, opts)
	if serr != nil {
		// the loaded value is still returned, just not (fully) cached
		e.reportErr(OpSet, key, 0, serr)
	}
	return loaded[V]{value: v, meta: meta}, nil
}

func (e *Engine[V]) probe(ctx context.Context, key string) (*Entry[V], Tier, bool) {
	for i, store := range e.tiers {
		t := tierAt(i)
		ent, ok, err := store.Get(ctx, key)
		if err != nil {
			e.readFailed(t, key, err)
		}
		if !ok {
			e.counters.tier(t).misses.Add(1)
			continue
		}
		e.counters.tier(t).hits.Add(1)
		if i > 0 {
			e.backfill(ctx, ent, i)
		}
		return ent, t, true
	}
	return nil, 0, false
}

// backfill copies a hit at tiers[found] into every faster tier. Metadata and
// CreatedAt are kept so the TTL is not extended.
func (e *Engine[V]) backfill(ctx context.Context, ent *Entry[V], found int) {
	for i := 0; i < found; i++ {
		_ = e.putTier(ctx, tierAt(i), ent.clone(), OpGet)
	}
	e.log.Debug("backfilled", Fields{"key": ent.Key, "from": tierAt(found).String()})
}

func (e *Engine[V]) readFailed(t Tier, key string, err error) {
	switch {
	case errors.Is(err, ErrExpired):
		e.evicted(t, []string{key}, EvictExpired)
	case errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrCorruptEntry):
		e.evicted(t, []string{key}, EvictCorrupt)
		e.reportErr(OpGet, key, t, &TierError{Tier: t, Op: "get", Key: key, Err: err})
	default:
		e.reportErr(OpGet, key, t, &TierError{Tier: t, Op: "get", Key: key, Err: err})
	}
}

func (e *Engine[V]) putTier(ctx context.Context, t Tier, ent *Entry[V], op ErrorOp) error {
	evicted, err := e.tiers[t.index()].Put(ctx, ent)
	if len(evicted) > 0 {
		e.evicted(t, evicted, EvictCapacity)
	}
	if err != nil {
		err = &TierError{Tier: t, Op: "put", Key: ent.Key, Err: err}
		e.reportErr(op, ent.Key, t, err)
		return err
	}
	e.counters.tier(t).sets.Add(1)
	return nil
}

func (e *Engine[V]) evicted(t Tier, keys []string, reason EvictReason) {
	e.counters.tier(t).evictions.Add(uint64(len(keys)))
	e.log.Debug("evicted", Fields{"tier": t.String(), "count": len(keys), "reason": string(reason)})
	e.hooks.Evicted(t, keys, reason)
}

func (e *Engine[V]) reportErr(op ErrorOp, key string, t Tier, err error) {
	e.counters.errs.Add(1)
	f := Fields{"op": string(op), "key": key, "err": err}
	if t.Valid() {
		f["tier"] = t.String()
	}
	e.log.Warn("tiercache error", f)
	e.hooks.Error(ErrorEvent{Op: op, Key: key, Tier: t, Err: err})
}

// GetFromTier reads one tier without probing the others or backfilling.
func (e *Engine[V]) GetFromTier(ctx context.Context, tier Tier, key string) (Result[V], error) {
	var res Result[V]
	if !tier.Valid() {
		return res, fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}
	if !e.enabled || e.closed() {
		return res, nil
	}
	start := e.clock.Now()
	ent, ok, err := e.tiers[tier.index()].Get(ctx, key)
	res.LoadTime = elapsed(start, e.clock.Now())
	if err != nil {
		e.readFailed(tier, key, err)
		if !errors.Is(err, ErrExpired) {
			return res, &TierError{Tier: tier, Op: "get", Key: key, Err: err}
		}
	}
	if !ok {
		e.counters.tier(tier).misses.Add(1)
		return res, nil
	}
	e.counters.tier(tier).hits.Add(1)
	meta := ent.Meta.clone()
	res.Value, res.Hit, res.Source, res.Meta = ent.Value, true, tier, &meta
	return res, nil
}

// Set writes value according to opts.Strategy (or the engine default).
// Errors from synchronous tier writes are joined; queued writes report
// through the Error hook.
func (e *Engine[V]) Set(ctx context.Context, key string, value V, opts SetOptions) error {
	if e.closed() {
		return ErrClosed
	}
	if !e.enabled {
		return nil
	}
	_, _, err := e.set(ctx, key, value, opts)
	return err
}

// set returns the stored metadata and encoded size; metadata is nil for
// strategies that only write the source.
func (e *Engine[V]) set(ctx context.Context, key string, value V, opts SetOptions) (*Metadata, int, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = e.defaultStrategy()
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, 0, err
	}
	if strategy.usesSource() {
		return nil, 0, e.writeSource(ctx, key, value, opts, strategy)
	}

	raw, err := e.codec.Encode(value)
	if err != nil {
		return nil, 0, fmt.Errorf("tiercache: encode %q: %w", key, err)
	}
	g := e.snapshotGen(ctx, key)
	now := e.clock.Now()
	ttl := opts.TTL
	if ttl == 0 {
		ttl = e.defaultTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	ent := &Entry[V]{
		Key:   key,
		Value: value,
		Meta: Metadata{
			TTL:          ttl,
			Tags:         uniqueStrings(opts.Tags),
			Priority:     opts.Priority.resolve(),
			Dependencies: uniqueStrings(opts.Dependencies),
			Version:      g + 1,
			Checksum:     checksum(raw),
		},
		CreatedAt:    now,
		LastAccessed: now,
		Size:         len(raw),
		raw:          raw,
	}

	plan := e.plan(strategy, key)
	e.access.record(key, now)

	var errs []error
	for _, t := range plan.sync {
		if err := e.putTier(ctx, t, ent.clone(), OpSet); err != nil {
			errs = append(errs, err)
		}
	}
	if len(plan.queued) > 0 {
		e.queue.push(writeJob[V]{entry: ent, tiers: plan.queued, gen: g})
		e.counters.wbEnqueued.Add(1)
	}
	e.deps.record(key, ent.Meta.Dependencies)

	e.hooks.Set(SetEvent{
		Key:      key,
		Strategy: strategy,
		Tiers:    plan.sync,
		Queued:   plan.queued,
		Size:     ent.Size,
		Version:  ent.Meta.Version,
	})
	meta := ent.Meta.clone()
	return &meta, ent.Size, joinErrs(errs)
}

// writeSource handles the strategies that go to the backing store.
// write-around then drops the key and its declared dependencies from every
// tier so no cached copy shadows the new value.
func (e *Engine[V]) writeSource(ctx context.Context, key string, value V, opts SetOptions, s Strategy) error {
	if e.source == nil {
		return ErrNoSource
	}
	if err := e.source.Write(ctx, key, value); err != nil {
		return fmt.Errorf("tiercache: source write %q: %w", key, err)
	}
	e.access.record(key, e.clock.Now())

	var err error
	if s == WriteAround {
		err = e.invalidate(ctx, []string{key}, false)
		if deps := uniqueStrings(opts.Dependencies); len(deps) > 0 {
			err = joinErrs([]error{err, e.invalidate(ctx, deps, true)})
		}
	}
	e.hooks.Set(SetEvent{Key: key, Strategy: s})
	return err
}

func (e *Engine[V]) snapshotGen(ctx context.Context, key string) uint64 {
	g, err := e.gen.Snapshot(ctx, key)
	if err != nil {
		e.reportErr(OpSet, key, 0, fmt.Errorf("genstore snapshot: %w", err))
		return 0
	}
	return g
}

// applyJobs is the write queue's worker. Generations are read in one batch
// before the tier writes and again after them. A job whose generation had
// already moved is dropped; one whose generation moved while it was being
// written is rolled back from the tiers it touched, so an Invalidate racing
// the drain always wins.
func (e *Engine[V]) applyJobs(ctx context.Context, batch []writeJob[V]) {
	before, err := e.gen.SnapshotMany(ctx, jobKeys(batch))
	if err != nil {
		e.counters.wbFailed.Add(uint64(len(batch)))
		for _, j := range batch {
			e.reportErr(OpWriteBehind, j.entry.Key, 0, fmt.Errorf("genstore snapshot: %w", err))
		}
		return
	}

	var written []writeJob[V]
	for _, j := range batch {
		key := j.entry.Key
		if cur := before[key]; cur != j.gen {
			e.counters.wbSkipped.Add(1)
			e.log.Debug("write-behind skipped (invalidated)", Fields{"key": key, "gen": j.gen, "current": cur})
			continue
		}
		failed := false
		for _, t := range j.tiers {
			if err := e.putTier(ctx, t, j.entry.clone(), OpWriteBehind); err != nil {
				failed = true
			}
		}
		if failed {
			e.counters.wbFailed.Add(1)
			continue
		}
		written = append(written, j)
	}
	if len(written) == 0 {
		return
	}

	after, err := e.gen.SnapshotMany(ctx, jobKeys(written))
	for _, j := range written {
		key := j.entry.Key
		switch {
		case err != nil:
			e.rollback(ctx, j)
			e.counters.wbFailed.Add(1)
			e.reportErr(OpWriteBehind, key, 0, fmt.Errorf("genstore recheck: %w", err))
		case after[key] != j.gen:
			e.rollback(ctx, j)
			e.counters.wbSkipped.Add(1)
			e.log.Debug("write-behind rolled back (invalidated mid-write)", Fields{"key": key, "gen": j.gen, "current": after[key]})
		default:
			e.counters.wbApplied.Add(1)
		}
	}
}

func (e *Engine[V]) rollback(ctx context.Context, j writeJob[V]) {
	for _, t := range j.tiers {
		if _, err := e.tiers[t.index()].Delete(ctx, j.entry.Key); err != nil {
			e.reportErr(OpWriteBehind, j.entry.Key, t, err)
		}
	}
}

func jobKeys[V any](batch []writeJob[V]) []string {
	keys := make([]string, 0, len(batch))
	seen := make(map[string]struct{}, len(batch))
	for _, j := range batch {
		if _, ok := seen[j.entry.Key]; !ok {
			seen[j.entry.Key] = struct{}{}
			keys = append(keys, j.entry.Key)
		}
	}
	return keys
}

// Flush synchronously applies every queued write-behind job.
func (e *Engine[V]) Flush(ctx context.Context) error {
	return e.queue.Flush(ctx)
}

func (e *Engine[V]) QueueLen() int { return e.queue.Len() }

// Clear empties every tier and drops pending write-behind jobs, dependency
// edges and access history. Metric counters are kept.
func (e *Engine[V]) Clear(ctx context.Context) error {
	if e.closed() {
		return ErrClosed
	}
	dropped := e.queue.reset()
	var errs []error
	for i, store := range e.tiers {
		if err := store.Clear(ctx); err != nil {
			errs = append(errs, &TierError{Tier: tierAt(i), Op: "clear", Err: err})
		}
	}
	e.deps.reset()
	e.access.reset()
	e.log.Info("tiercache cleared", Fields{"namespace": e.ns, "dropped_jobs": dropped})
	e.hooks.Cleared(e.ns)
	return joinErrs(errs)
}

func elapsed(start, now time.Time) time.Duration {
	if now.Before(start) {
		return 0
	}
	return now.Sub(start)
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
