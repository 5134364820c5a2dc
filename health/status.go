// Package health tracks and reports component health for snapshot
// services: the dispatcher, writer fleets, and the chunk store they
// depend on.
package health

import "time"

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the health state of one component, or of the whole service
// when sub-statuses are attached.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// NewHealthy returns a healthy status for a component.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewDegraded returns a degraded status for a component.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnhealthy returns an unhealthy status for a component.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Aggregate rolls component statuses up into a single service status:
// any unhealthy component makes the service unhealthy, any degraded one
// makes it degraded, and an empty set is degraded because nothing has
// reported yet.
func Aggregate(service string, statuses []Status) Status {
	if len(statuses) == 0 {
		return NewDegraded(service, "no components reporting")
	}

	agg := NewHealthy(service, "")
	for _, s := range statuses {
		switch s.Status {
		case StatusUnhealthy:
			agg = NewUnhealthy(service, s.Component+": "+s.Message)
		case StatusDegraded:
			if agg.Status == StatusHealthy {
				agg = NewDegraded(service, s.Component+": "+s.Message)
			}
		}
	}
	agg.SubStatuses = statuses
	return agg
}
