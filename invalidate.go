package tiercache

import (
	"context"
	"sort"
)

// Invalidate bumps key's generation, removes it from every tier and then
// does the same for every key that declared a dependency on it, up to
// MaxDependencyDepth levels down.
func (e *Engine[V]) Invalidate(ctx context.Context, key string) error {
	if e.closed() {
		return ErrClosed
	}
	if !e.enabled {
		return nil
	}
	return e.invalidate(ctx, []string{key}, false)
}

// InvalidateTags invalidates every key tagged with at least one of tags and
// returns how many keys matched. Only L1 is scanned unless TagScanAllTiers
// is set, so entries resident solely in slower tiers are not found by tag.
func (e *Engine[V]) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	if e.closed() {
		return 0, ErrClosed
	}
	if !e.enabled || len(tags) == 0 {
		return 0, nil
	}
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}

	scan := e.tiers[:1]
	if e.tagScanAll {
		scan = e.tiers[:]
	}
	matched := make(map[string]struct{})
	var keys []string
	for i, store := range scan {
		err := store.Scan(ctx, func(key string, m Metadata) bool {
			if _, dup := matched[key]; !dup && m.hasAnyTag(want) {
				matched[key] = struct{}{}
				keys = append(keys, key)
			}
			return true
		})
		if err != nil {
			return 0, &TierError{Tier: tierAt(i), Op: "scan", Err: err}
		}
	}
	sort.Strings(keys)

	err := e.invalidate(ctx, keys, false)
	e.log.Debug("tags invalidated", Fields{"tags": tags, "keys": len(keys)})
	e.hooks.TagsInvalidated(cloneStrings(tags), len(keys))
	return len(keys), err
}

// invalidate walks breadth-first from roots through the dependency index.
// Each key is invalidated once even if reachable along several edges.
func (e *Engine[V]) invalidate(ctx context.Context, roots []string, cascade bool) error {
	type node struct {
		key   string
		depth int
	}
	seen := make(map[string]struct{}, len(roots))
	queue := make([]node, 0, len(roots))
	for _, k := range roots {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		queue = append(queue, node{key: k})
	}

	var errs []error
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		dependents := e.deps.dependentsOf(n.key)
		if err := e.invalidateOne(ctx, n.key, cascade || n.depth > 0); err != nil {
			errs = append(errs, err)
		}
		if n.depth >= e.maxDepth {
			if len(dependents) > 0 {
				e.log.Debug("dependency cascade stopped at max depth",
					Fields{"key": n.key, "depth": n.depth, "dependents": len(dependents)})
			}
			continue
		}
		for _, d := range dependents {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			queue = append(queue, node{key: d, depth: n.depth + 1})
		}
	}
	return joinErrs(errs)
}

func (e *Engine[V]) invalidateOne(ctx context.Context, key string, cascade bool) error {
	_, bumpErr := e.gen.Bump(ctx, key)

	var delErrs []error
	for i, store := range e.tiers {
		if _, err := store.Delete(ctx, key); err != nil {
			delErrs = append(delErrs, &TierError{Tier: tierAt(i), Op: "delete", Key: key, Err: err})
		}
	}
	e.deps.forget(key)
	e.counters.invalidations.Add(1)

	if bumpErr != nil || len(delErrs) > 0 {
		err := &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: joinErrs(delErrs)}
		e.reportErr(OpInvalidate, key, 0, err)
		e.hooks.Invalidated(key, cascade)
		return err
	}
	e.log.Debug("invalidated", Fields{"key": key, "cascade": cascade})
	e.hooks.Invalidated(key, cascade)
	return nil
}
