package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor is a thread-safe collection of component health statuses.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records a status under name, stamping it if the caller did not.
func (m *Monitor) Update(name string, status Status) {
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	if status.Component == "" {
		status.Component = name
	}
	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// UpdateHealthy records a healthy status for name.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded records a degraded status for name.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy records an unhealthy status for name.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the status recorded under name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	s, ok := m.statuses[name]
	m.mu.RUnlock()
	return s, ok
}

// GetAll returns a copy of every recorded status.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for name, s := range m.statuses {
		out[name] = s
	}
	return out
}

// Remove deletes the status recorded under name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Aggregate combines every recorded status into one for systemName. The
// aggregate is unhealthy if any component is, degraded if any component is
// degraded, and healthy otherwise.
func (m *Monitor) Aggregate(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := NewHealthy(systemName, "all components healthy")
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := m.statuses[name]
		agg = agg.WithSubStatus(s)
		switch {
		case s.IsUnhealthy():
			agg.Status = "unhealthy"
			agg.Healthy = false
			agg.Message = s.Component + ": " + s.Message
		case s.IsDegraded() && !agg.IsUnhealthy():
			agg.Status = "degraded"
			agg.Healthy = false
			agg.Message = s.Component + ": " + s.Message
		}
	}
	return agg
}

// Count returns the number of tracked components.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}
