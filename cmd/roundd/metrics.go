// metrics.go - Metrics collection for the settlement daemon
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// MetricsCollector counts settlement operations and rejections
type MetricsCollector struct {
	mu       sync.RWMutex
	started  time.Time
	counters map[string]int64
}

// Counter names used by the daemon
const (
	metricBatchesAccepted      = "tally_batches_accepted"
	metricBatchesRejected      = "tally_batches_rejected"
	metricClaimsPaid           = "claims_paid"
	metricClaimsRejected       = "claims_rejected"
	metricRedemptionsSettled   = "redemptions_settled"
	metricRedemptionsRejected  = "redemptions_rejected"
	metricRequestsRateLimited  = "requests_rate_limited"
)

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		started:  time.Now(),
		counters: make(map[string]int64),
	}
}

// Increment adds one to a counter
func (mc *MetricsCollector) Increment(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[name]++
}

// Get returns a counter's current value
func (mc *MetricsCollector) Get(name string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[name]
}

// Snapshot returns all counters plus daemon uptime
func (mc *MetricsCollector) Snapshot() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make(map[string]interface{}, len(mc.counters)+1)
	for name, value := range mc.counters {
		out[name] = value
	}
	out["uptime_seconds"] = int64(time.Since(mc.started).Seconds())
	return out
}

// ServeHTTP exposes the counters as JSON
func (mc *MetricsCollector) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mc.Snapshot())
}
