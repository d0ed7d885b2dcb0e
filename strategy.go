package tiercache

import "fmt"

// Strategy selects where a Set writes.
type Strategy string

const (
	WriteThrough Strategy = "write-through" // L1..L4 synchronously
	WriteBehind  Strategy = "write-behind"  // L1 now, L2..L4 through the write queue
	WriteAround  Strategy = "write-around"  // Source, then invalidate key and dependencies
	CacheAside   Strategy = "cache-aside"   // Source only
	Smart        Strategy = "smart"         // chosen per key from observed access
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case WriteThrough, WriteBehind, WriteAround, CacheAside, Smart:
		return st, nil
	}
	return "", fmt.Errorf("tiercache: unknown strategy %q", s)
}

func (s Strategy) usesSource() bool { return s == WriteAround || s == CacheAside }

// writePlan is a resolved strategy: tiers written before Set returns and
// tiers handed to the write queue.
type writePlan struct {
	sync   []Tier
	queued []Tier
}

var (
	planThrough = writePlan{sync: []Tier{L1, L2, L3, L4}}
	planBehind  = writePlan{sync: []Tier{L1}, queued: []Tier{L2, L3, L4}}
	planRecent  = writePlan{sync: []Tier{L1, L2}, queued: []Tier{L3, L4}}
)

// defaultStrategy is what a Set with no explicit strategy uses.
func (e *Engine[V]) defaultStrategy() Strategy {
	switch {
	case e.strategy != "":
		return e.strategy
	case e.writeBehind:
		return WriteBehind
	}
	return Smart
}

// plan resolves a cache-writing strategy for key. Smart looks at the access
// history recorded before this write.
func (e *Engine[V]) plan(s Strategy, key string) writePlan {
	switch s {
	case WriteThrough:
		return planThrough
	case WriteBehind:
		return planBehind
	}
	switch e.access.classify(key, e.clock.Now()) {
	case accessHot:
		return planThrough
	case accessRecent:
		return planRecent
	}
	return planBehind
}
