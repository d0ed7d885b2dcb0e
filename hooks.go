package tiercache

// Event names, for subscribers that route hook calls by name (dashboards,
// log pipelines).
const (
	EventInitialized    = "cache:initialized"
	EventSet            = "cache:set"
	EventInvalidate     = "cache:invalidate"
	EventInvalidateTags = "cache:invalidateTags"
	EventEviction       = "cache:eviction"
	EventError          = "cache:error"
	EventMetrics        = "cache:metrics"
	EventCleared        = "cache:cleared"
	EventWarmup         = "cache:warmup"
)

// EvictReason says why an entry left a tier without being invalidated.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictExpired  EvictReason = "expired"
	EvictCorrupt  EvictReason = "corrupt"
)

// ErrorOp names the operation an Error hook refers to.
type ErrorOp string

const (
	OpGet         ErrorOp = "get"
	OpLoad        ErrorOp = "load"
	OpSet         ErrorOp = "set"
	OpWriteBehind ErrorOp = "write-behind"
	OpInvalidate  ErrorOp = "invalidate"
	OpWarmup      ErrorOp = "warmup"
)

// SetEvent describes a completed Set. Tiers lists the tiers written
// synchronously; Queued lists the tiers handed to the write queue.
type SetEvent struct {
	Key      string
	Strategy Strategy
	Tiers    []Tier
	Queued   []Tier
	Size     int
	Version  uint64
}

type ErrorEvent struct {
	Op   ErrorOp
	Key  string
	Tier Tier // 0 when not tier-specific
	Err  error
}

// Hooks are synchronous callbacks for engine events.
// Implementations MUST be cheap and non-blocking; the engine calls them on
// request paths. Wrap slow sinks with hooks/async.
type Hooks interface {
	Initialized(namespace string)
	Set(ev SetEvent)
	// Invalidated fires once per key. cascade is true when the key was reached
	// through a dependency edge rather than invalidated directly.
	Invalidated(key string, cascade bool)
	TagsInvalidated(tags []string, count int)
	Evicted(tier Tier, keys []string, reason EvictReason)
	Error(ev ErrorEvent)
	Metrics(m MetricsSnapshot)
	Cleared(namespace string)
	WarmupCompleted(r *WarmupReport)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Initialized(string)                  {}
func (NopHooks) Set(SetEvent)                        {}
func (NopHooks) Invalidated(string, bool)            {}
func (NopHooks) TagsInvalidated([]string, int)       {}
func (NopHooks) Evicted(Tier, []string, EvictReason) {}
func (NopHooks) Error(ErrorEvent)                    {}
func (NopHooks) Metrics(MetricsSnapshot)             {}
func (NopHooks) Cleared(string)                      {}
func (NopHooks) WarmupCompleted(*WarmupReport)       {}

// MultiHooks fans every event out to each member in order.
type MultiHooks []Hooks

var _ Hooks = MultiHooks(nil)

func (m MultiHooks) Initialized(ns string) {
	for _, h := range m {
		h.Initialized(ns)
	}
}

func (m MultiHooks) Set(ev SetEvent) {
	for _, h := range m {
		h.Set(ev)
	}
}

func (m MultiHooks) Invalidated(key string, cascade bool) {
	for _, h := range m {
		h.Invalidated(key, cascade)
	}
}

func (m MultiHooks) TagsInvalidated(tags []string, n int) {
	for _, h := range m {
		h.TagsInvalidated(tags, n)
	}
}

func (m MultiHooks) Evicted(t Tier, keys []string, r EvictReason) {
	for _, h := range m {
		h.Evicted(t, keys, r)
	}
}

func (m MultiHooks) Error(ev ErrorEvent) {
	for _, h := range m {
		h.Error(ev)
	}
}

func (m MultiHooks) Metrics(s MetricsSnapshot) {
	for _, h := range m {
		h.Metrics(s)
	}
}

func (m MultiHooks) Cleared(ns string) {
	for _, h := range m {
		h.Cleared(ns)
	}
}

func (m MultiHooks) WarmupCompleted(r *WarmupReport) {
	for _, h := range m {
		h.WarmupCompleted(r)
	}
}
