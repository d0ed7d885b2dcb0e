// Package provider defines the byte store that backs the slower cache tiers.
//
// A tier built on a Provider owns the key space it writes to: keys have the
// form "tc:<namespace>:<tier>:<key>" and carry a framed entry envelope.
// Two tiers may share one backend (for example L3 and L4 on the same Redis);
// the tier segment of the key keeps them apart.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the bytes previously passed to Set. Anything else is treated as corruption
// by the tier and self-healed (deleted).
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 means no expiry). cost may be
	// ignored. Returns ok=false when the store refused the write (admission
	// policy, memory pressure).
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
