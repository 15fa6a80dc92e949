package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker tracks liveness and readiness. Readiness additionally requires
// that the last successful scan is younger than the staleness bound, when one
// is set.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time
	maxAge    time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	lastScan time.Time
}

// NewHealthChecker creates a checker. maxScanAge of zero disables the
// staleness check.
func NewHealthChecker(maxScanAge time.Duration) *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		maxAge:    maxScanAge,
		now:       time.Now,
	}
}

func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// MarkScan records a completed scan.
func (h *HealthChecker) MarkScan(at time.Time) {
	h.mu.Lock()
	h.lastScan = at
	h.mu.Unlock()
}

func (h *HealthChecker) LastScan() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastScan
}

func (h *HealthChecker) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	if h.maxAge == 0 {
		return true
	}
	last := h.LastScan()
	return !last.IsZero() && h.now().Sub(last) <= h.maxAge
}

// LivenessHandler always answers 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler answers 200 once ready and 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ready"}
	if last := h.LastScan(); !last.IsZero() {
		body["last_scan"] = last.UTC().Format(time.RFC3339Nano)
	}
	if !h.IsReady() {
		body["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
