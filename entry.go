package tiercache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Priority is a caller hint stored with the entry. The zero value means
// "not set" and resolves to PriorityMedium.
type Priority uint8

const (
	PriorityUnset Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium, PriorityUnset:
		return "medium"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

func (p Priority) resolve() Priority {
	if p == PriorityUnset || p > PriorityHigh {
		return PriorityMedium
	}
	return p
}

// ParsePriority accepts "low", "medium" and "high"; empty is medium.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "", "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityUnset, fmt.Errorf("tiercache: unknown priority %q", s)
}

// Metadata travels with an entry through every tier it is copied to.
type Metadata struct {
	TTL          time.Duration // 0 = no expiry
	Tags         []string
	Priority     Priority
	Dependencies []string
	// Version is 1 + the key's generation when the entry was written. It
	// changes only after the key has been invalidated.
	Version uint64
	// Checksum is xxhash64 of the encoded value. Provider-backed tiers verify
	// it on read.
	Checksum uint64
}

func (m Metadata) ChecksumHex() string { return fmt.Sprintf("%016x", m.Checksum) }

// clone copies the tag and dependency slices so callers cannot reach a
// tier's stored metadata.
func (m Metadata) clone() Metadata {
	m.Tags = cloneStrings(m.Tags)
	m.Dependencies = cloneStrings(m.Dependencies)
	return m
}

func (m Metadata) hasAnyTag(want map[string]struct{}) bool {
	for _, t := range m.Tags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}

// Entry is the unit stored in a tier. The same key may live in several tiers
// at once; tiers are caches of each other, not partitions.
type Entry[V any] struct {
	Key          string
	Value        V
	Meta         Metadata
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  uint64
	Size         int // encoded length in bytes

	raw []byte // encoded value; shared read-only between copies
}

// Expired reports whether the TTL has elapsed at now. Expiry is strict:
// an entry read exactly at CreatedAt+TTL is still live.
func (e *Entry[V]) Expired(now time.Time) bool {
	return e.Meta.TTL > 0 && now.Sub(e.CreatedAt) > e.Meta.TTL
}

// ExpiresAt is the zero time for entries without a TTL.
func (e *Entry[V]) ExpiresAt() time.Time {
	if e.Meta.TTL <= 0 {
		return time.Time{}
	}
	return e.CreatedAt.Add(e.Meta.TTL)
}

// clone copies e with its own metadata slices. raw stays shared.
func (e *Entry[V]) clone() *Entry[V] {
	c := *e
	c.Meta = e.Meta.clone()
	return &c
}

func checksum(b []byte) uint64 { return xxhash.Sum64(b) }

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
