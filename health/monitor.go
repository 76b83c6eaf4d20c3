package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/lookupkit/errors"
)

// Monitor tracks the health of named lookups. It is safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		now:      time.Now,
	}
}

// Pending registers name as waiting for its first load. It does nothing
// when name is already tracked.
func (m *Monitor) Pending(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.statuses[name]; ok {
		return
	}
	s := newStatus(name, StateDegraded, "Waiting for first load")
	s.Timestamp = m.now()
	s.Refresh = &Refresh{}
	m.statuses[name] = s
}

// RecordSuccess marks name healthy at version.
func (m *Monitor) RecordSuccess(name string, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	refresh := m.refreshLocked(name)
	refresh.Succeeded++
	refresh.LastSuccess = now

	s := newStatus(name, StateHealthy, fmt.Sprintf("Loaded version %d", version))
	s.Version = version
	s.Timestamp = now
	s.Refresh = refresh
	m.statuses[name] = s
}

// RecordFailure records a failed refresh. A lookup that still serves data
// from an earlier load is degraded. One without data is unhealthy when err
// is fatal and degraded otherwise.
func (m *Monitor) RecordFailure(name string, err error, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	refresh := m.refreshLocked(name)
	refresh.Failed++
	refresh.LastFailure = now

	state := StateDegraded
	if !loaded && errors.IsFatal(err) {
		state = StateUnhealthy
	}
	prefix := "No data"
	if loaded {
		prefix = "Serving stale data"
	}
	msg := prefix
	if err != nil {
		msg = prefix + ": " + sanitizeErrorMessage(err.Error())
	}

	s := newStatus(name, state, msg)
	s.Version = m.statuses[name].Version
	s.Timestamp = now
	s.Refresh = refresh
	m.statuses[name] = s
}

// refreshLocked returns a copy of the counters of name so stored statuses
// handed out by Get are never mutated.
func (m *Monitor) refreshLocked(name string) *Refresh {
	refresh := &Refresh{}
	if s, ok := m.statuses[name]; ok && s.Refresh != nil {
		*refresh = *s.Refresh
	}
	return refresh
}

// Get returns the status of name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.statuses[name]
	return s, ok
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// Names returns the tracked names in order.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of tracked lookups.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}

// Aggregate returns the combined health of every tracked lookup.
func (m *Monitor) Aggregate(system string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	return Aggregate(system, subs)
}
