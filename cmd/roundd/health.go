// health.go - Health reporting for the settlement daemon
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of one component
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
}

// SystemHealth represents the overall daemon health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	RoundState    string            `json:"round_state"`
}

// HealthChecker aggregates component checks for the daemon
type HealthChecker struct {
	mu        sync.RWMutex
	startTime time.Time
	checkers  map[string]func() error
	state     func() string
}

// NewHealthChecker creates a health checker; state reports the round state
func NewHealthChecker(state func() string) *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checkers:  make(map[string]func() error),
		state:     state,
	}
}

// Register adds a component check
func (hc *HealthChecker) Register(name string, check func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkers[name] = check
}

// Check runs every registered component check
func (hc *HealthChecker) Check() *SystemHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	now := time.Now()
	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.checkers))
	for name, check := range hc.checkers {
		component := ComponentHealth{Name: name, Status: Healthy, LastCheck: now}
		if err := check(); err != nil {
			component.Status = Unhealthy
			component.Message = err.Error()
			overall = Degraded
		}
		components = append(components, component)
	}
	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     now,
		Components:    components,
		UptimeSeconds: int64(now.Sub(hc.startTime).Seconds()),
		RoundState:    hc.state(),
	}
}

// ServeHTTP exposes the health report as JSON
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := hc.Check()
	w.Header().Set("Content-Type", "application/json")
	if report.OverallStatus != Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
