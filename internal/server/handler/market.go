package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/alanyoungcy/polyview/internal/service"
)

// MarketService defines what the market handler needs from the service
// layer.
type MarketService interface {
	Current() *service.SnapshotData
	FindByID(ctx context.Context, id string) (domain.Market, error)
	FindByToken(ctx context.Context, tokenID string) (domain.Market, error)
}

// MarketHandler serves the market collection and lookup endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// listMarketsResponse wraps a collection with snapshot metadata. NoMarkets
// tells the UI to show "no markets available" instead of a loading state.
type listMarketsResponse struct {
	Markets    []domain.Market `json:"markets"`
	Total      int             `json:"total"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
	Generation uint64          `json:"generation"`
	NoMarkets  bool            `json:"no_markets"`
	Loading    bool            `json:"loading"`
	FetchedAt  *time.Time      `json:"fetched_at,omitempty"`
}

// ListMarkets returns the merged collection.
// GET /api/markets?limit=50&offset=0&category=Sports
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	h.writeView(w, r, func(d *service.SnapshotData) []domain.Market { return d.Markets })
}

// ListTrending returns the trending view.
// GET /api/markets/trending
func (h *MarketHandler) ListTrending(w http.ResponseWriter, r *http.Request) {
	h.writeView(w, r, func(d *service.SnapshotData) []domain.Market { return d.Trending })
}

// ListProfitable returns the profitable view.
// GET /api/markets/profitable
func (h *MarketHandler) ListProfitable(w http.ResponseWriter, r *http.Request) {
	h.writeView(w, r, func(d *service.SnapshotData) []domain.Market { return d.Profitable })
}

func (h *MarketHandler) writeView(w http.ResponseWriter, r *http.Request, view func(*service.SnapshotData) []domain.Market) {
	opts := parseListOpts(r)
	resp := listMarketsResponse{
		Markets: []domain.Market{},
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}

	snap := h.markets.Current()
	if snap == nil {
		resp.Loading = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	markets := filterCategory(view(snap), r.URL.Query().Get("category"))
	fetchedAt := snap.FetchedAt
	resp.Markets = paginate(markets, opts)
	resp.Total = len(markets)
	resp.Generation = snap.Generation
	resp.NoMarkets = snap.NoMarkets
	resp.FetchedAt = &fetchedAt
	writeJSON(w, http.StatusOK, resp)
}

// GetMarket resolves a market id, or a condition id folded into a
// synthesized market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	m, err := h.markets.FindByID(r.Context(), id)
	h.writeMarket(w, r, m, err, "id", id)
}

// GetMarketByToken resolves the market holding an outcome token.
// GET /api/markets/by-token/{token}
func (h *MarketHandler) GetMarketByToken(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token id")
		return
	}
	m, err := h.markets.FindByToken(r.Context(), token)
	h.writeMarket(w, r, m, err, "token", token)
}

func (h *MarketHandler) writeMarket(w http.ResponseWriter, r *http.Request, m domain.Market, err error, key, value string) {
	if err == nil {
		writeJSON(w, http.StatusOK, m)
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: get market failed",
		slog.String(key, value),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get market")
}
