package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks []Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler that runs checks on every call.
func NewHealthHandler(logger *slog.Logger, checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck reports "ok", or "degraded" with 503 when any check fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", c.Name),
				slog.String("error", err.Error()),
			)
			deps[c.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    deps,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
