package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHealthCheckTimeout = 5 * time.Second

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the readiness endpoint.
type HealthHandler struct {
	db      Pinger
	backend ReviewService
	timeout time.Duration
}

// NewHealthHandler creates a health handler. svc may be nil.
func NewHealthHandler(db Pinger, svc ReviewService) *HealthHandler {
	return &HealthHandler{db: db, backend: svc, timeout: defaultHealthCheckTimeout}
}

// Ready returns the health of the API and its dependencies. Missing model
// backends degrade nothing: rule-based review still works.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.backend != nil {
		st := h.backend.Status()
		for name, bs := range st.Backends {
			switch {
			case !bs.Configured:
				checks["backend."+name] = "not_configured"
			case bs.Health.Healthy:
				checks["backend."+name] = "ok"
			default:
				checks["backend."+name] = "unhealthy"
			}
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the readiness route. Liveness is served by the
// heartbeat middleware at /health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health/ready", h.Ready)
}
