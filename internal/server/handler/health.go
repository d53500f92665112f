package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyview/internal/service"
)

// Pinger is a dependency probed by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	snapshot func() *service.SnapshotData
	deps     map[string]Pinger
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. snapshot may be nil; deps maps a
// dependency name to its probe.
func NewHealthHandler(snapshot func() *service.SnapshotData, deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{snapshot: snapshot, deps: deps, logger: logger}
}

// HealthCheck reports liveness, the snapshot state and each dependency. A
// failing dependency turns the status to "degraded" with a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.snapshot != nil {
		if snap := h.snapshot(); snap != nil {
			resp["generation"] = snap.Generation
			resp["markets"] = len(snap.Markets)
			resp["no_markets"] = snap.NoMarkets
			resp["fetched_at"] = snap.FetchedAt.Format(time.RFC3339)
		} else {
			resp["loading"] = true
		}
	}

	status := http.StatusOK
	if len(h.deps) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		deps := make(map[string]string, len(h.deps))
		for name, p := range h.deps {
			if err := p.Ping(ctx); err != nil {
				h.logger.WarnContext(ctx, "handler: health dependency failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				deps[name] = "error"
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		resp["dependencies"] = deps
	}
	if status != http.StatusOK {
		resp["status"] = "degraded"
	}
	writeJSON(w, status, resp)
}
