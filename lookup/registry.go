package lookup

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/lookupkit/errors"
)

// Registry holds the lookups of a process by id.
type Registry struct {
	mu      sync.RWMutex
	lookups map[string]Lookup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{lookups: make(map[string]Lookup)}
}

// Register adds l. Ids must be unique.
func (r *Registry) Register(l Lookup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lookups[l.ID()]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: lookup %q already registered", errors.ErrInvalidConfig, l.ID()),
			"Registry", "Register", "add lookup")
	}
	r.lookups[l.ID()] = l
	return nil
}

// Unregister removes the lookup with id and reports whether it existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lookups[id]
	delete(r.lookups, id)
	return ok
}

// Get returns the lookup with id.
func (r *Registry) Get(id string) (Lookup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lookups[id]
	return l, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.lookups)
}

// Loaders returns the registered lookups that load from a provider, in id
// order.
func (r *Registry) Loaders() []Loader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Loader
	for _, id := range sortedIDs(r.lookups) {
		if l, ok := r.lookups[id].(Loader); ok {
			out = append(out, l)
		}
	}
	return out
}

func sortedIDs(m map[string]Lookup) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
