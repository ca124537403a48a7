package catalog

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable set of views published at one registry
// version. Concurrent compiles share a snapshot safely; a reload never
// mutates one, it publishes a successor.
type Snapshot struct {
	// Version increases monotonically with every publish. Callers use
	// it to key memoized compiler output.
	Version uint64

	views map[string]*View
}

// View resolves a view by name.
func (s *Snapshot) View(name string) (*View, bool) {
	v, ok := s.views[name]
	return v, ok
}

// ViewNames returns the registered view names in sorted order.
func (s *Snapshot) ViewNames() []string {
	names := make([]string, 0, len(s.views))
	for name := range s.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry is the process-wide, hot-reloadable view catalog. It hands
// out immutable snapshots; Register and Reload build a fresh snapshot
// and swap an atomic pointer, so in-flight compiles keep the snapshot
// they started with.
type Registry struct {
	mu      sync.Mutex // serializes publishers only
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{views: map[string]*View{}})
	return r
}

// Snapshot returns the current published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Register publishes a snapshot containing the given views plus any
// previously registered views not shadowed by name.
func (r *Registry) Register(views ...*View) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*View, len(views))
	for name, v := range r.current.Load().views {
		next[name] = v
	}
	for _, v := range views {
		if v == nil || v.Name == "" {
			return fmt.Errorf("register: view must have a name")
		}
		next[v.Name] = v
	}
	r.publish(next)
	return nil
}

// LoadDir loads every view definition in dir and publishes them as a
// replacement snapshot. On error nothing is published and the active
// snapshot stays valid.
func (r *Registry) LoadDir(dir string) error {
	views, err := LoadDir(dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]*View, len(views))
	for _, v := range views {
		next[v.Name] = v
	}
	r.publish(next)
	return nil
}

// Reload is LoadDir under its operational name: it rebuilds the whole
// snapshot from disk atomically.
func (r *Registry) Reload(dir string) error {
	return r.LoadDir(dir)
}

func (r *Registry) publish(views map[string]*View) {
	snap := &Snapshot{
		Version: r.version.Add(1),
		views:   views,
	}
	r.current.Store(snap)
}
