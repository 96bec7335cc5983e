package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"riskstream/pkg/logger"
)

// StreamState reports whether the activity stream is connected
type StreamState interface {
	IsConnected() bool
}

// Pinger is an optional dependency that can be health-checked
type Pinger interface {
	Health(ctx context.Context) error
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	stream      StreamState
	deps        map[string]Pinger
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new health check handler. deps may be empty.
func New(
	log *logger.Logger,
	stream StreamState,
	deps map[string]Pinger,
	serviceName string,
	version string,
) *Handler {
	return &Handler{
		log:         log,
		stream:      stream,
		deps:        deps,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if service is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// HandleReadiness is ready only while the stream is connected and every dependency answers
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := h.runChecks(ctx)
	status := h.status(checks)

	statusCode := http.StatusOK
	for _, c := range checks {
		if c.Status != "healthy" {
			status.Status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}
	if statusCode != http.StatusOK {
		h.log.Warnw("Readiness check failed", "checks", checks)
	}

	writeJSON(w, statusCode, status)
}

// HandleHealth returns detailed health status. A lost stream connection while
// dependencies are fine is reported as degraded.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := h.runChecks(ctx)
	status := h.status(checks)

	healthyCount := 0
	for _, c := range checks {
		if c.Status == "healthy" {
			healthyCount++
		}
	}

	statusCode := http.StatusOK
	if healthyCount == 0 {
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if healthyCount < len(checks) {
		status.Status = "degraded"
	}

	writeJSON(w, statusCode, status)
}

func (h *Handler) runChecks(ctx context.Context) map[string]ComponentHealth {
	checks := make(map[string]ComponentHealth, len(h.deps)+1)

	if h.stream.IsConnected() {
		checks["stream"] = ComponentHealth{Status: "healthy"}
	} else {
		checks["stream"] = ComponentHealth{Status: "unhealthy", Error: "not connected"}
	}

	for name, dep := range h.deps {
		checks[name] = h.check(ctx, name, dep)
	}
	return checks
}

func (h *Handler) check(ctx context.Context, name string, dep Pinger) ComponentHealth {
	start := time.Now()
	err := dep.Health(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Warnw("Health check failed", "component", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}

	return ComponentHealth{
		Status:       "healthy",
		ResponseTime: elapsed.String(),
	}
}

func (h *Handler) status(checks map[string]ComponentHealth) HealthStatus {
	return HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    checks,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
