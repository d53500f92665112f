package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/alanyoungcy/polyview/internal/service"
)

// Refresher runs one refresh on demand.
type Refresher interface {
	Run(ctx context.Context) (service.RefreshResult, error)
}

// RefreshHandler serves the caller-driven refresh trigger.
type RefreshHandler struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(refresher Refresher, logger *slog.Logger) *RefreshHandler {
	return &RefreshHandler{refresher: refresher, logger: logger}
}

// TriggerRefresh runs a refresh and reports its outcome. A refresh that was
// superseded by a newer one, or that found no markets, is still a 200.
// POST /api/refresh
func (h *RefreshHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: refresh requested")

	result, err := h.refresher.Run(r.Context())
	switch {
	case err == nil,
		errors.Is(err, domain.ErrStaleGeneration),
		errors.Is(err, domain.ErrNoMarkets):
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "refresh already in progress")
	default:
		h.logger.ErrorContext(r.Context(), "handler: refresh failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "refresh failed")
	}
}
