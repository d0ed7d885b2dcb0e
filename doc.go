// Package tiercache implements a four-tier cache engine. Reads probe L1
// (smallest, fastest) through L4 (largest, slowest) and backfill the faster
// tiers on a lower-tier hit; writes follow a per-call strategy.
//
// Components:
//   - TierStore[V]: one level. MemTier is an in-process map; ProviderTier
//     stores framed entries in a provider.Provider (Ristretto, BigCache,
//     Redis, Valkey).
//   - Codec[V]: (de)serializes V <-> []byte. The encoded length is the entry
//     size; its xxhash64 is the entry checksum, verified by provider tiers.
//   - GenStore: generation counter per key. Versions derive from it and
//     write-behind jobs for invalidated keys are dropped with it.
//
// Strategies:
//
//	write-through  L1..L4 before Set returns
//	write-behind   L1 now, L2..L4 from the background write queue
//	write-around   Source, then invalidate the key and its dependencies
//	cache-aside    Source only
//	smart          write-through for hot keys, L1+L2 for recently used
//	               keys, write-behind otherwise
//
// Lifecycle:
//
//	e, _ := tiercache.New[User](tiercache.Options[User]{WriteBehind: true})
//	_ = e.Init(ctx)
//	defer e.Close(ctx)
//
//	r := e.GetOrLoad(ctx, "user:1", loadUser, tiercache.SetOptions{TTL: time.Minute})
//	if r.Err != nil { /* loader failed; r is a miss */ }
//
// A tier's key space is partitioned per namespace and tier; provider-tier
// keys look like tc:<ns>:L3:<key>.
package tiercache
