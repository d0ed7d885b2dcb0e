package tiercache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/tiercache/internal/util"
)

// KeyEnumerator lists the keys a warmup pattern covers, typically by asking
// the source of truth.
type KeyEnumerator interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
}

type KeyEnumeratorFunc func(ctx context.Context, pattern string) ([]string, error)

func (f KeyEnumeratorFunc) Keys(ctx context.Context, pattern string) ([]string, error) {
	return f(ctx, pattern)
}

// WarmupPattern names a set of keys to preload. Keys overrides
// Options.KeyEnumerator for this pattern.
type WarmupPattern[V any] struct {
	Name     string
	Pattern  string
	Loader   LoaderFunc[V]
	TTL      time.Duration
	Priority Priority
	Tags     []string
	Strategy Strategy
	Keys     KeyEnumerator
}

type KeyError struct {
	Key string
	Err error
}

type PatternReport struct {
	Name     string
	Pattern  string
	Keys     int
	Loaded   int
	Failed   int
	Bytes    int64
	Duration time.Duration
	Errors   []KeyError // per-key failures, sorted by key
	// Err is set when the keys could not be enumerated at all.
	Err error
}

type WarmupReport struct {
	Started  time.Time
	Duration time.Duration
	Patterns []PatternReport
	Keys     int
	Loaded   int
	Failed   int
	Bytes    int64
	Effect   EffectEstimate
}

// Warmup loads every key of every pattern and stores it. Keys load in
// parallel, bounded by WarmupConcurrency. A failing key is recorded in the
// report and never stops the batch; only a cancelled ctx does.
func (e *Engine[V]) Warmup(ctx context.Context, patterns []WarmupPattern[V]) (*WarmupReport, error) {
	if e.closed() {
		return nil, ErrClosed
	}
	for _, p := range patterns {
		if p.Loader == nil {
			return nil, fmt.Errorf("tiercache: warmup pattern %q has no loader", p.Name)
		}
	}
	if !e.enabled {
		return &WarmupReport{Started: e.clock.Now()}, nil
	}

	before := e.Metrics()
	r := &WarmupReport{Started: e.clock.Now()}
	for _, p := range patterns {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		pr := e.warmPattern(ctx, p)
		r.Keys += pr.Keys
		r.Loaded += pr.Loaded
		r.Failed += pr.Failed
		r.Bytes += pr.Bytes
		r.Patterns = append(r.Patterns, pr)
	}
	r.Duration = elapsed(r.Started, e.clock.Now())
	r.Effect = e.policy.Effect.Estimate(before, r)

	e.counters.warmups.Add(1)
	e.counters.warmupLoaded.Add(uint64(r.Loaded))
	e.log.Info("warmup completed", Fields{
		"patterns": len(patterns),
		"keys":     r.Keys,
		"loaded":   r.Loaded,
		"failed":   r.Failed,
		"duration": r.Duration,
	})
	e.hooks.WarmupCompleted(r)
	return r, ctx.Err()
}

func (e *Engine[V]) warmPattern(ctx context.Context, p WarmupPattern[V]) PatternReport {
	start := e.clock.Now()
	pr := PatternReport{Name: p.Name, Pattern: p.Pattern}

	keys, err := e.enumerate(ctx, p)
	if err != nil {
		pr.Err = err
		pr.Duration = elapsed(start, e.clock.Now())
		e.reportErr(OpWarmup, p.Pattern, 0, err)
		return pr
	}
	pr.Keys = len(keys)

	opts := SetOptions{TTL: p.TTL, Priority: p.Priority, Tags: p.Tags, Strategy: p.Strategy}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.warmupLimit)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			size, err := e.warmKey(ctx, key, p.Loader, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				pr.Failed++
				pr.Errors = append(pr.Errors, KeyError{Key: key, Err: err})
				return nil
			}
			pr.Loaded++
			pr.Bytes += int64(size)
			return nil
		})
	}
	_ = g.Wait() // per-key errors are in the report

	sort.Slice(pr.Errors, func(i, j int) bool { return pr.Errors[i].Key < pr.Errors[j].Key })
	pr.Duration = elapsed(start, e.clock.Now())
	return pr
}

func (e *Engine[V]) warmKey(ctx context.Context, key string, loader LoaderFunc[V], opts SetOptions) (size int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panicked: %v", r)
		}
		if err != nil {
			e.reportErr(OpWarmup, key, 0, err)
		}
	}()
	v, err := loader(ctx, key)
	if err != nil {
		return 0, &LoadError{Key: key, Err: err}
	}
	meta, size, err := e.set(ctx, key, v, opts)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		// went to the source only; size it the way a cached copy would be
		b, err := e.codec.Encode(v)
		if err != nil {
			return 0, err
		}
		return len(b), nil
	}
	return size, nil
}

func (e *Engine[V]) enumerate(ctx context.Context, p WarmupPattern[V]) ([]string, error) {
	if p.Keys != nil {
		return p.Keys.Keys(ctx, p.Pattern)
	}
	if e.keys != nil {
		return e.keys.Keys(ctx, p.Pattern)
	}
	return e.residentKeys(ctx, p.Pattern)
}

// residentKeys is the default enumerator: a literal pattern is its own key;
// a glob matches keys resident in any tier.
func (e *Engine[V]) residentKeys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, errors.New("tiercache: empty warmup pattern")
	}
	if !util.HasGlob(pattern) {
		return []string{pattern}, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("tiercache: warmup pattern %q: %w", pattern, err)
	}
	seen := make(map[string]struct{})
	var keys []string
	for i, store := range e.tiers {
		err := store.Scan(ctx, func(k string, _ Metadata) bool {
			if _, dup := seen[k]; dup {
				return true
			}
			if ok, _ := path.Match(pattern, k); ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
			return true
		})
		if err != nil {
			return nil, &TierError{Tier: tierAt(i), Op: "scan", Err: err}
		}
	}
	sort.Strings(keys)
	return keys, nil
}
