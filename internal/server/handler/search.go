package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// maxQueryLength bounds the search text forwarded upstream.
const maxQueryLength = 200

// Searcher runs a provider search and folds the results into markets.
type Searcher interface {
	Search(ctx context.Context, query string) ([]domain.Market, error)
}

// SearchHandler serves the search endpoint.
type SearchHandler struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(searcher Searcher, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logger}
}

type searchResponse struct {
	Query   string          `json:"query"`
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// Search returns the markets matching q.
// GET /api/search?q=election
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	if len(q) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query too long")
		return
	}

	markets, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrRateLimited) {
			status = http.StatusTooManyRequests
		}
		h.logger.WarnContext(r.Context(), "handler: search failed",
			slog.String("query", q),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "search failed")
		return
	}

	all := filterCategory(markets, r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, searchResponse{
		Query:   q,
		Markets: paginate(all, parseListOpts(r)),
		Total:   len(all),
	})
}
