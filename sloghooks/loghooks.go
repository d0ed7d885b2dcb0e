// Package sloghooks logs engine events through log/slog.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SetEvery   uint64
	EvictEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
	// LogMetrics logs every periodic metrics snapshot at debug level.
	LogMetrics bool
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	setCtr   atomic.Uint64
	evictCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Initialized(ns string) {
	if h.l == nil {
		return
	}
	h.l.Info(tiercache.EventInitialized, "ns", ns)
}

func (h *Hooks) Set(ev tiercache.SetEvent) {
	if h.l == nil || !sample(h.opts.SetEvery, &h.setCtr) {
		return
	}
	h.l.Debug(tiercache.EventSet,
		"key", h.redact(ev.Key),
		"strategy", string(ev.Strategy),
		"tiers", len(ev.Tiers),
		"queued", len(ev.Queued),
		"size", ev.Size,
		"version", ev.Version)
}

func (h *Hooks) Invalidated(key string, cascade bool) {
	if h.l == nil {
		return
	}
	h.l.Debug(tiercache.EventInvalidate,
		"key", h.redact(key),
		"cascade", cascade)
}

func (h *Hooks) TagsInvalidated(tags []string, count int) {
	if h.l == nil {
		return
	}
	h.l.Info(tiercache.EventInvalidateTags,
		"tags", tags,
		"count", count)
}

func (h *Hooks) Evicted(t tiercache.Tier, keys []string, r tiercache.EvictReason) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	lvl := slog.LevelDebug
	if r == tiercache.EvictCorrupt {
		lvl = slog.LevelWarn
	}
	h.l.Log(context.Background(), lvl, tiercache.EventEviction,
		"tier", t.String(),
		"reason", string(r),
		"count", len(keys))
}

func (h *Hooks) Error(ev tiercache.ErrorEvent) {
	if h.l == nil {
		return
	}
	args := []any{"op", string(ev.Op), "err", ev.Err}
	if ev.Key != "" {
		args = append(args, "key", h.redact(ev.Key))
	}
	if ev.Tier != 0 {
		args = append(args, "tier", ev.Tier.String())
	}
	h.l.Warn(tiercache.EventError, args...)
}

func (h *Hooks) Metrics(m tiercache.MetricsSnapshot) {
	if h.l == nil || !h.opts.LogMetrics {
		return
	}
	h.l.Debug(tiercache.EventMetrics,
		"gets", m.Gets,
		"hit_rate", m.HitRate,
		"p95", m.Latency.P95,
		"queue_pending", m.Queue.Pending)
}

func (h *Hooks) Cleared(ns string) {
	if h.l == nil {
		return
	}
	h.l.Info(tiercache.EventCleared, "ns", ns)
}

func (h *Hooks) WarmupCompleted(r *tiercache.WarmupReport) {
	if h.l == nil || r == nil {
		return
	}
	h.l.Info(tiercache.EventWarmup,
		"keys", r.Keys,
		"loaded", r.Loaded,
		"failed", r.Failed,
		"duration", r.Duration)
}
