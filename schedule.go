package tiercache

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// WarmupScheduleID identifies a scheduled warmup for Unschedule.
type WarmupScheduleID int

// Schedules accept standard five-field cron expressions, an optional leading
// seconds field, and descriptors such as "@hourly" or "@every 30s".
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func newScheduler(l Logger) *cron.Cron {
	cl := cronLogger{l: l}
	return cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// ScheduleWarmup runs Warmup(patterns) on a cron schedule. Runs start once
// Init has been called and stop at Close; a run still in progress when the
// next one is due is not overlapped.
func (e *Engine[V]) ScheduleWarmup(spec string, patterns []WarmupPattern[V]) (WarmupScheduleID, error) {
	if e.closed() {
		return 0, ErrClosed
	}
	if len(patterns) == 0 {
		return 0, fmt.Errorf("tiercache: schedule %q: no warmup patterns", spec)
	}
	for _, p := range patterns {
		if p.Loader == nil {
			return 0, fmt.Errorf("tiercache: warmup pattern %q has no loader", p.Name)
		}
	}
	ps := append([]WarmupPattern[V](nil), patterns...)

	id, err := e.cron.AddFunc(spec, func() {
		if e.closed() {
			return
		}
		r, err := e.Warmup(e.runCtx, ps)
		if err != nil {
			e.log.Warn("scheduled warmup failed", Fields{"schedule": spec, "err": err})
			return
		}
		e.log.Debug("scheduled warmup done", Fields{"schedule": spec, "loaded": r.Loaded, "failed": r.Failed})
	})
	if err != nil {
		return 0, fmt.Errorf("tiercache: schedule %q: %w", spec, err)
	}
	return WarmupScheduleID(id), nil
}

func (e *Engine[V]) Unschedule(id WarmupScheduleID) {
	e.cron.Remove(cron.EntryID(id))
}
