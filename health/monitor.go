package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/c360/snapstream/chunkstore"
	snaperrors "github.com/c360/snapstream/errors"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Monitor tracks component health from two sources: statuses pushed by
// components themselves and registered checks evaluated on demand.
type Monitor struct {
	service string

	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]CheckFunc
}

// NewMonitor creates a monitor for the named service.
func NewMonitor(service string) *Monitor {
	return &Monitor{
		service:  service,
		statuses: make(map[string]Status),
		checks:   make(map[string]CheckFunc),
	}
}

// Update records a pushed status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now().UTC()
	}
	m.statuses[name] = status
}

// RegisterCheck adds a check evaluated on every Evaluate call.
func (m *Monitor) RegisterCheck(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Remove drops a component's pushed status and check.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checks, name)
}

// Get returns the last pushed status for a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Evaluate runs all registered checks, merges them with pushed statuses,
// and returns the aggregated service status.
func (m *Monitor) Evaluate(ctx context.Context) Status {
	m.mu.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	statuses := make([]Status, 0, len(m.statuses)+len(m.checks))
	for _, s := range m.statuses {
		statuses = append(statuses, s)
	}
	m.mu.RUnlock()

	for name, check := range checks {
		if err := check(ctx); err != nil {
			if snaperrors.IsTransient(err) {
				statuses = append(statuses, NewDegraded(name, err.Error()))
			} else {
				statuses = append(statuses, NewUnhealthy(name, err.Error()))
			}
			continue
		}
		statuses = append(statuses, NewHealthy(name, ""))
	}

	return Aggregate(m.service, statuses)
}

// Handler serves the aggregated status as JSON: 200 while healthy or
// degraded, 503 once any component is unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := m.Evaluate(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}

// StoreCheck probes chunk store reachability with a bounded list call.
// A missing prefix is fine; only transport-level failure is unhealthy.
func StoreCheck(store chunkstore.Store, prefix string) CheckFunc {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_, err := store.List(ctx, prefix)
		if err != nil && !snaperrors.Is(err, snaperrors.ErrKeyNotFound) {
			return err
		}
		return nil
	}
}
