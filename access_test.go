package tiercache

import (
	"testing"
	"time"
)

func TestAccessTrackerSlidingWindow(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := newAccessTracker(time.Minute, 10*time.Second, 5)

	for i := 0; i < 10; i++ {
		tr.record("k", t0)
	}
	if f := tr.frequency("k", t0); f != 10 {
		t.Fatalf("frequency = %v, want 10", f)
	}
	// half of the previous bucket still overlaps the window
	if f := tr.frequency("k", t0.Add(90*time.Second)); f != 5 {
		t.Fatalf("frequency after 1.5 windows = %v, want 5", f)
	}
	if f := tr.frequency("k", t0.Add(3*time.Minute)); f != 0 {
		t.Fatalf("frequency after idle windows = %v", f)
	}
	if f := tr.frequency("unknown", t0); f != 0 {
		t.Fatalf("unknown key frequency = %v", f)
	}
}

func TestAccessTrackerClassify(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := newAccessTracker(time.Minute, 10*time.Second, 3)

	if c := tr.classify("k", t0); c != accessCold {
		t.Fatalf("never seen should be cold, got %d", c)
	}
	tr.record("k", t0)
	if c := tr.classify("k", t0.Add(5*time.Second)); c != accessRecent {
		t.Fatalf("single recent access should be recent, got %d", c)
	}
	if c := tr.classify("k", t0.Add(30*time.Second)); c != accessCold {
		t.Fatalf("stale access should be cold, got %d", c)
	}
	tr.record("k", t0)
	tr.record("k", t0)
	if c := tr.classify("k", t0.Add(30*time.Second)); c != accessHot {
		t.Fatalf("3 accesses in window should be hot, got %d", c)
	}
}

func TestAccessTrackerPrune(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	tr := newAccessTracker(time.Minute, time.Second, 3)
	tr.record("old", t0)
	tr.record("new", t0.Add(90*time.Second))

	if n := tr.prune(t0.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if tr.size() != 1 {
		t.Fatalf("size = %d", tr.size())
	}
	tr.reset()
	if tr.size() != 0 {
		t.Fatalf("reset left %d keys", tr.size())
	}
}

func TestDepIndex(t *testing.T) {
	d := newDepIndex()
	d.record("b", []string{"a", "a", "b"})
	d.record("c", []string{"a"})
	if got := d.dependentsOf("a"); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("dependents of a = %v", got)
	}
	if got := d.dependentsOf("b"); len(got) != 0 {
		t.Fatalf("self dependency recorded: %v", got)
	}

	d.record("b", []string{"x"})
	if got := d.dependentsOf("a"); len(got) != 1 || got[0] != "c" {
		t.Fatalf("re-record must replace edges: %v", got)
	}
	d.forget("c")
	if got := d.dependentsOf("a"); got != nil {
		t.Fatalf("forget left edges: %v", got)
	}
	d.reset()
	if got := d.dependentsOf("x"); got != nil {
		t.Fatalf("reset left edges: %v", got)
	}
}
