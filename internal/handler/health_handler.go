package handler

import (
	"context"
	"net/http"
	"time"

	"nutri-auth/internal/middleware"
	"nutri-auth/pkg/logger"
)

// HealthChecker reports the state of each backend by name
type HealthChecker interface {
	Health(ctx context.Context) map[string]error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checker HealthChecker
	logger  *logger.Logger
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, log *logger.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: log, version: "1.0.0"}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Service   string            `json:"service"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Service:   "nutri-auth",
		Checks:    make(map[string]string),
	}
	status := http.StatusOK

	for name, err := range h.checker.Health(ctx) {
		if err != nil {
			h.logger.WithError(err).WithField("check", name).Warn("Health check failed")
			response.Checks[name] = "unhealthy"
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "healthy"
	}

	if err := middleware.WriteJSON(w, status, response); err != nil {
		h.logger.WithError(err).Error("Failed to encode health check response")
	}
}
