package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthServer exposes /healthz, /readyz and, when given a handler, /metrics
// for long-running hfcall sessions. Readiness tracks whether a filter
// pipeline has been applied; a failed reload is reported without dropping
// readiness because the previous pipeline stays in place.
type HealthServer struct {
	mu          sync.RWMutex
	ready       bool
	generation  int
	filters     int
	lastReload  time.Time
	reloadError string
}

// NewHealthServer creates a new health server.
func NewHealthServer() *HealthServer {
	return &HealthServer{}
}

// PipelineApplied records a successful pipeline (re)build.
func (h *HealthServer) PipelineApplied(filters int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = true
	h.generation++
	h.filters = filters
	h.lastReload = time.Now()
	h.reloadError = ""
}

// ReloadFailed records a configuration reload that was rejected.
func (h *HealthServer) ReloadFailed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadError = err.Error()
}

// Handler returns an http.Handler with health and readiness endpoints.
// metrics may be nil.
func (h *HealthServer) Handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *HealthServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	body := map[string]any{
		"status":     "not ready",
		"generation": h.generation,
		"filters":    h.filters,
	}
	if !h.lastReload.IsZero() {
		body["last_reload"] = h.lastReload.UTC().Format(time.RFC3339)
	}
	if h.reloadError != "" {
		body["reload_error"] = h.reloadError
	}
	ready := h.ready
	h.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
