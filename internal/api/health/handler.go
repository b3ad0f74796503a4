package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/emirks/tercihify-chat/internal/workers"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

// CheckFunc pings one dependency
type CheckFunc func(ctx context.Context) error

// WorkerReporter exposes background worker health
type WorkerReporter interface {
	Health() map[string]workers.WorkerHealth
}

type namedCheck struct {
	name  string
	check CheckFunc
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	checks      []namedCheck
	workers     WorkerReporter
	startTime   time.Time
	serviceName string
	version     string
}

// Option configures the handler
type Option func(*Handler)

// WithCheck adds a dependency check. Disabled infrastructure is simply not added.
func WithCheck(name string, check CheckFunc) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks = append(h.checks, namedCheck{name: name, check: check})
		}
	}
}

// WithWorkers includes worker health in /health output
func WithWorkers(r WorkerReporter) Option {
	return func(h *Handler) {
		h.workers = r
	}
}

// New creates a new health check handler
func New(log *logger.Logger, serviceName, version string, opts ...Option) *Handler {
	h := &Handler{
		log:         log.With("component", "health"),
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status      string                          `json:"status"` // "healthy", "degraded", "unhealthy"
	Service     string                          `json:"service"`
	Version     string                          `json:"version"`
	Uptime      string                          `json:"uptime"`
	Timestamp   string                          `json:"timestamp"`
	Checks      map[string]ComponentHealth      `json:"checks"`
	Workers     map[string]workers.WorkerHealth `json:"workers,omitempty"`
	ErrorDetail string                          `json:"error_detail,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if the process is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness returns 503 unless every configured dependency answers
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks, healthy := h.runChecks(ctx)

	status := h.status(checks)
	statusCode := http.StatusOK
	if healthy < len(checks) {
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", checks)
	}

	writeJSON(w, statusCode, status)
}

// HandleHealth returns detailed health. Partial failures report degraded with 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks, healthy := h.runChecks(ctx)

	status := h.status(checks)
	if h.workers != nil {
		status.Workers = h.workers.Health()
	}

	statusCode := http.StatusOK
	switch {
	case len(checks) > 0 && healthy == 0:
		status.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case healthy < len(checks):
		status.Status = "degraded"
	}

	writeJSON(w, statusCode, status)
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

func (h *Handler) runChecks(ctx context.Context) (map[string]ComponentHealth, int) {
	checks := make(map[string]ComponentHealth, len(h.checks))
	healthy := 0
	for _, c := range h.checks {
		result := h.check(ctx, c)
		checks[c.name] = result
		if result.Status == "healthy" {
			healthy++
		}
	}
	return checks, healthy
}

func (h *Handler) check(ctx context.Context, c namedCheck) ComponentHealth {
	start := time.Now()
	err := c.check(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "component", c.name, "error", err, "elapsed", elapsed)
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

// Components lists configured check names, sorted
func (h *Handler) Components() []string {
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
