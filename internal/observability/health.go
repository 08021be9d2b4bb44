package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// StatusSource supplies the engine fields the readiness probe reports
// alongside the ready bit.
type StatusSource interface {
	Degraded() bool
	LastProcessedHeight() uint64
}

// HealthChecker manages liveness and readiness state. Readiness is set
// only after the bootstrap snapshot completes, and is withdrawn when the
// event stream is interrupted.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.Mutex
	source StatusSource
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the engine as ready to serve trustworthy state.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the engine is ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetStatusSource registers the engine whose degradation and watermark
// the readiness response reports.
func (h *HealthChecker) SetStatusSource(s StatusSource) {
	h.mu.Lock()
	h.source = s
	h.mu.Unlock()
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 while facet state is trustworthy:
// network verified, snapshot complete, event stream healthy.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	source := h.source
	h.mu.Unlock()

	body := map[string]interface{}{}
	if source != nil {
		body["degraded"] = source.Degraded()
		body["last_processed_height"] = source.LastProcessedHeight()
	}

	w.Header().Set("Content-Type", "application/json")
	if h.ready.Load() {
		body["status"] = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		body["status"] = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(body)
}
