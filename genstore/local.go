package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type localGen struct {
	gen     uint64
	touched time.Time
}

// Local keeps generations in-process with an optional background prune.
type Local struct {
	mu    sync.RWMutex
	gens  map[string]localGen
	clock clock.Clock

	ticker *clock.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*Local)(nil)

// NewLocal returns a Local store. When both cleanupInterval and retention are
// positive, a goroutine prunes generations idle for longer than retention.
// A nil clk uses the wall clock.
func NewLocal(clk clock.Clock, cleanupInterval, retention time.Duration) *Local {
	if clk == nil {
		clk = clock.New()
	}
	s := &Local{gens: make(map[string]localGen), clock: clk}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = clk.Ticker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go s.loop(retention)
	}
	return s
}

func (s *Local) loop(retention time.Duration) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Cleanup(retention)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Local) Snapshot(_ context.Context, key string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[key].gen
	s.mu.RUnlock()
	return g, nil
}

// SnapshotMany takes the read lock once for all keys.
func (s *Local) SnapshotMany(_ context.Context, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	s.mu.RLock()
	for _, k := range keys {
		out[k] = s.gens[k].gen
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) Bump(_ context.Context, key string) (uint64, error) {
	now := s.clock.Now()
	s.mu.Lock()
	g := s.gens[key]
	g.gen++
	g.touched = now
	s.gens[key] = g
	s.mu.Unlock()
	return g.gen, nil
}

// Cleanup drops generations older than retention. A pruned key reads as
// generation 0 again, which only matters for write-behind jobs enqueued
// before the prune: retention should exceed the queue flush interval by a
// wide margin.
func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-retention)
	s.mu.Lock()
	for k, g := range s.gens {
		if g.touched.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
