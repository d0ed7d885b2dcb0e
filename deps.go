package tiercache

import (
	"sort"
	"sync"
)

// depIndex records which keys were written with a dependency on which other
// keys, so invalidating a dependency can reach its dependents.
type depIndex struct {
	mu         sync.Mutex
	dependents map[string]map[string]struct{} // dep -> keys
	deps       map[string][]string            // key -> its deps
}

func newDepIndex() *depIndex {
	return &depIndex{
		dependents: make(map[string]map[string]struct{}),
		deps:       make(map[string][]string),
	}
}

// record replaces key's dependency edges.
func (d *depIndex) record(key string, deps []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unlinkLocked(key)
	if len(deps) == 0 {
		return
	}
	kept := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep == key {
			continue
		}
		set, ok := d.dependents[dep]
		if !ok {
			set = make(map[string]struct{})
			d.dependents[dep] = set
		}
		if _, dup := set[key]; dup {
			continue
		}
		set[key] = struct{}{}
		kept = append(kept, dep)
	}
	d.deps[key] = kept
}

// forget removes key's outgoing edges. Keys that depend on key keep theirs.
func (d *depIndex) forget(key string) {
	d.mu.Lock()
	d.unlinkLocked(key)
	d.mu.Unlock()
}

func (d *depIndex) unlinkLocked(key string) {
	for _, dep := range d.deps[key] {
		if set, ok := d.dependents[dep]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(d.dependents, dep)
			}
		}
	}
	delete(d.deps, key)
}

// dependentsOf returns the keys that depend on dep, sorted.
func (d *depIndex) dependentsOf(dep string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.dependents[dep]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d *depIndex) reset() {
	d.mu.Lock()
	d.dependents = make(map[string]map[string]struct{})
	d.deps = make(map[string][]string)
	d.mu.Unlock()
}
