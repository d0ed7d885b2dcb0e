package tiercache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	c "github.com/unkn0wn-root/tiercache/codec"
	gen "github.com/unkn0wn-root/tiercache/genstore"
	pr "github.com/unkn0wn-root/tiercache/provider"
)

// Cache is the call-level API of the engine. *Engine implements it; the
// interface exists so callers can substitute fakes.
type Cache[V any] interface {
	Enabled() bool
	Init(ctx context.Context) error
	Close(ctx context.Context) error

	Get(ctx context.Context, key string) Result[V]
	GetOrLoad(ctx context.Context, key string, loader LoaderFunc[V], opts SetOptions) Result[V]
	GetFromTier(ctx context.Context, tier Tier, key string) (Result[V], error)
	Set(ctx context.Context, key string, value V, opts SetOptions) error

	Invalidate(ctx context.Context, key string) error
	InvalidateTags(ctx context.Context, tags ...string) (int, error)

	Warmup(ctx context.Context, patterns []WarmupPattern[V]) (*WarmupReport, error)
	ScheduleWarmup(spec string, patterns []WarmupPattern[V]) (WarmupScheduleID, error)
	Unschedule(id WarmupScheduleID)

	Flush(ctx context.Context) error
	Clear(ctx context.Context) error
	QueueLen() int

	Metrics() MetricsSnapshot
	AnalyzePerformance(ctx context.Context) *PerformanceReport
}

var _ Cache[struct{}] = (*Engine[struct{}])(nil)

// LoaderFunc produces the value for a key that missed every tier.
type LoaderFunc[V any] func(ctx context.Context, key string) (V, error)

// Source is the backing data store that write-around and cache-aside write
// to. If it also has a Close(context.Context) error method, Engine.Close
// calls it.
type Source[V any] interface {
	Write(ctx context.Context, key string, value V) error
}

type SourceFunc[V any] func(ctx context.Context, key string, value V) error

func (f SourceFunc[V]) Write(ctx context.Context, key string, value V) error {
	return f(ctx, key, value)
}

// Result is what a lookup observed. Source is 0 unless Hit.
// Loaded is set when the value came from a loader after a full miss; Err
// then carries a *LoadError if the loader failed.
type Result[V any] struct {
	Value    V
	Hit      bool
	Source   Tier
	Meta     *Metadata
	LoadTime time.Duration
	Loaded   bool
	Err      error
}

type SetOptions struct {
	TTL          time.Duration // 0 => Options.DefaultTTL
	Tags         []string
	Priority     Priority
	Dependencies []string
	Strategy     Strategy // "" => engine default
}

// TierOptions configures one level. Store wins over Provider; with neither
// the engine uses an in-memory MemTier.
type TierOptions[V any] struct {
	// MaxEntries bounds the tier: 0 => the level default, < 0 => unbounded.
	MaxEntries int
	Provider   pr.Provider
	Store      TierStore[V]
}

// Options tune the engine. Everything is optional.
type Options[V any] struct {
	Namespace string     // "default" if empty; prefixes provider-tier keys
	Codec     c.Codec[V] // JSON if nil

	// Tiers is indexed L1..L4 (Tiers[0] is L1).
	Tiers       [numTiers]TierOptions[V]
	Compression bool // zstd payloads in provider tiers

	DefaultTTL      time.Duration // 0 => no expiry
	WriteBehind     bool          // default strategy becomes write-behind
	DefaultStrategy Strategy      // overrides WriteBehind when set
	Source          Source[V]     // required by write-around/cache-aside

	WriteBufferSize   int           // queued jobs that trigger an immediate drain; 0 => 1024
	FlushInterval     time.Duration // 0 => 50ms
	SuperviseInterval time.Duration // 0 => 1s

	GenStore        gen.GenStore  // nil => genstore.Local
	CleanupInterval time.Duration // local genstore sweep; 0 => 1h
	GenRetention    time.Duration // 0 => 30d

	Logger Logger      // if nil, NopLogger is used
	Hooks  Hooks       // if nil, NopHooks is used
	Clock  clock.Clock // nil => wall clock

	EvictFraction      float64 // 0 => 0.10
	TagScanAllTiers    bool    // default scans L1 only
	MaxDependencyDepth int     // 0 => 5

	HotThreshold int           // accesses per AccessWindow; 0 => 10
	AccessWindow time.Duration // 0 => 1m
	RecentWindow time.Duration // 0 => 30s

	LatencySamples  int           // 0 => 1000
	MetricsInterval time.Duration // 0 => no periodic cache:metrics

	WarmupConcurrency int // 0 => 8
	KeyEnumerator     KeyEnumerator

	Analysis AnalysisPolicy // nil members use the defaults

	Disabled bool // default false (enabled)
}

// Default capacities per level, L1 first.
var defaultTierCapacity = [numTiers]int{1_000, 10_000, 100_000, 1_000_000}
