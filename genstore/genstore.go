// Package genstore keeps a generation counter per cache key.
//
// The engine derives entry versions from it (version = generation + 1) and
// bumps it on invalidation. A write-behind job remembers the generation it was
// enqueued under; if the generation moved before the job drains, the key was
// invalidated in between and the job is dropped instead of resurrecting the
// value in slower tiers.
//
// Local is the in-process default. Redis shares generations between replicas
// that share L3/L4 backends.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live. Missing keys are generation 0.
type GenStore interface {
	Snapshot(ctx context.Context, key string) (uint64, error)
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup forgets generations not bumped within retention (no-op where
	// the backend expires keys itself).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
