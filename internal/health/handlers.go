package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zsiec/network-monitor/pkg/version"
)

// Response represents the health check response.
type Response struct {
	Status        Status            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]*Check `json:"checks,omitempty"`
}

// ReadyResponse is the body of /ready.
type ReadyResponse struct {
	Status    Status    `json:"status"`
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler handles health check HTTP endpoints.
type Handler struct {
	manager   *Manager
	ready     func() bool
	startTime time.Time
}

// NewHandler creates a new health check handler. ready decides /ready; when
// nil, the service is ready unless the last checks reported it down.
func NewHandler(manager *Manager, ready func() bool) *Handler {
	return &Handler{
		manager:   manager,
		ready:     ready,
		startTime: time.Now(),
	}
}

// HandleHealth runs every check and reports the aggregate. Degraded is
// still a 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*CheckTimeout)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	overallStatus := h.manager.GetOverallStatus()

	uptime := time.Since(h.startTime)
	response := Response{
		Status:        overallStatus,
		Timestamp:     time.Now(),
		Version:       version.Version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Checks:        checks,
	}

	statusCode := http.StatusOK
	if overallStatus == StatusDown {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, response)
}

// HandleReady reports whether the service can answer queries.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := h.manager.GetOverallStatus()

	ready := overallStatus != StatusDown
	if h.ready != nil {
		ready = h.ready()
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, ReadyResponse{
		Status:    overallStatus,
		Ready:     ready,
		Timestamp: time.Now(),
	})
}

// HandleLive handles the /live endpoint (basic liveness check).
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	response := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    "alive",
		Timestamp: time.Now(),
	}

	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}
