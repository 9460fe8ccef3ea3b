package healthprobe

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// HealthChecker provides health and readiness checks.
type HealthChecker struct {
	startTime time.Time
	ready     atomic.Bool

	mu       sync.RWMutex
	degraded func() []string
}

// New creates a new HealthChecker.
func New() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
	}
}

// SetReady marks the application as ready to serve traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetDegradedSource registers a function listing dependencies currently
// served by a fallback. Readiness reports them without failing.
func (h *HealthChecker) SetDegradedSource(fn func() []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded = fn
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string   `json:"status"`
	Uptime   string   `json:"uptime"`
	Message  string   `json:"message,omitempty"`
	Degraded []string `json:"degraded,omitempty"`
}

// Health returns an HTTP handler for liveness checks.
// Always returns 200 OK if the application is running.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: "healthy",
			Uptime: time.Since(h.startTime).String(),
		})
	}
}

// Ready returns an HTTP handler for readiness checks.
// Returns 200 OK if ready, 503 Service Unavailable if not. A ready bot running
// on fallbacks answers 200 with status "degraded".
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "not_ready",
				Message: "application is starting",
			})
			return
		}

		resp := HealthResponse{
			Status: "ready",
			Uptime: time.Since(h.startTime).String(),
		}
		if degraded := h.degradedDeps(); len(degraded) > 0 {
			resp.Status = "degraded"
			resp.Degraded = degraded
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *HealthChecker) degradedDeps() []string {
	h.mu.RLock()
	fn := h.degraded
	h.mu.RUnlock()

	if fn == nil {
		return nil
	}
	return fn()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
