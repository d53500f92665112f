package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/alanyoungcy/polyview/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarkets struct {
	snap *service.SnapshotData
	err  error
}

func (f *fakeMarkets) Current() *service.SnapshotData { return f.snap }

func (f *fakeMarkets) FindByID(_ context.Context, id string) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	if m, ok := f.snap.Find(id); ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (f *fakeMarkets) FindByToken(_ context.Context, tok string) (domain.Market, error) {
	for _, m := range f.snap.Markets {
		for _, t := range m.Tokens {
			if t.TokenID == tok {
				return m, nil
			}
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func testSnapshot() *service.SnapshotData {
	markets := []domain.Market{
		{ID: "event-1", Question: "Who wins the NBA Finals?", Category: "Sports", Synthesized: true,
			ConditionIDs: []string{"c-lakers", "c-celtics"}, Tokens: []domain.Token{{TokenID: "tok-lakers"}}},
		{ID: "m2", Question: "Will it rain?", Category: "Weather"},
		{ID: "m3", Question: "Will BTC reach $100k?", Category: "sports"},
	}
	return &service.SnapshotData{
		Generation: 5,
		Markets:    markets,
		Trending:   markets[:1],
		Profitable: []domain.Market{},
		FetchedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newMux(h *MarketHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/trending", h.ListTrending)
	mux.HandleFunc("GET /api/markets/profitable", h.ListProfitable)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("GET /api/markets/by-token/{token}", h.GetMarketByToken)
	return mux
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", target, err, rec.Body.String())
	}
	return rec, body
}

func TestListMarkets(t *testing.T) {
	mux := newMux(NewMarketHandler(&fakeMarkets{snap: testSnapshot()}, testLogger()))

	tests := []struct {
		target    string
		wantTotal float64
		wantLen   int
	}{
		{"/api/markets", 3, 3},
		{"/api/markets?limit=1&offset=1", 3, 1},
		{"/api/markets?offset=10", 3, 0},
		{"/api/markets?category=SPORTS", 2, 2},
		{"/api/markets/trending", 1, 1},
		{"/api/markets/profitable", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, body := get(t, mux, tt.target)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if body["total"] != tt.wantTotal {
				t.Errorf("total = %v, want %v", body["total"], tt.wantTotal)
			}
			if got := len(body["markets"].([]any)); got != tt.wantLen {
				t.Errorf("len(markets) = %d, want %d", got, tt.wantLen)
			}
			if body["generation"] != float64(5) || body["no_markets"] != false {
				t.Errorf("metadata = %v", body)
			}
		})
	}
}

func TestListMarketsBeforeFirstRefresh(t *testing.T) {
	mux := newMux(NewMarketHandler(&fakeMarkets{}, testLogger()))
	_, body := get(t, mux, "/api/markets")
	if body["loading"] != true || len(body["markets"].([]any)) != 0 {
		t.Errorf("body = %v", body)
	}
}

func TestListMarketsNoMarkets(t *testing.T) {
	snap := &service.SnapshotData{Generation: 2, NoMarkets: true}
	mux := newMux(NewMarketHandler(&fakeMarkets{snap: snap}, testLogger()))
	_, body := get(t, mux, "/api/markets")
	if body["no_markets"] != true || body["loading"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestGetMarket(t *testing.T) {
	tests := []struct {
		name   string
		fake   *fakeMarkets
		target string
		want   int
		wantID string
	}{
		{"by id", &fakeMarkets{snap: testSnapshot()}, "/api/markets/m2", http.StatusOK, "m2"},
		{"by condition id", &fakeMarkets{snap: testSnapshot()}, "/api/markets/c-celtics", http.StatusOK, "event-1"},
		{"by token", &fakeMarkets{snap: testSnapshot()}, "/api/markets/by-token/tok-lakers", http.StatusOK, "event-1"},
		{"missing", &fakeMarkets{snap: testSnapshot()}, "/api/markets/nope", http.StatusNotFound, ""},
		{"upstream error", &fakeMarkets{snap: testSnapshot(), err: errors.New("boom")}, "/api/markets/m2", http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, newMux(NewMarketHandler(tt.fake, testLogger())), tt.target)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.wantID != "" && body["id"] != tt.wantID {
				t.Errorf("id = %v, want %s", body["id"], tt.wantID)
			}
		})
	}
}

type fakeSearcher struct {
	markets []domain.Market
	err     error
	query   string
}

func (f *fakeSearcher) Search(_ context.Context, q string) ([]domain.Market, error) {
	f.query = q
	return f.markets, f.err
}

func TestSearch(t *testing.T) {
	s := &fakeSearcher{markets: testSnapshot().Markets}
	h := http.HandlerFunc(NewSearchHandler(s, testLogger()).Search)

	rec, body := get(t, h, "/api/search?q=+nba+&limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if s.query != "nba" || body["total"] != float64(3) || len(body["markets"].([]any)) != 2 {
		t.Errorf("query %q body %v", s.query, body)
	}

	if rec, _ := get(t, h, "/api/search?q="); rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", rec.Code)
	}

	s.err = domain.ErrRateLimited
	if rec, _ := get(t, h, "/api/search?q=x"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("rate limited status = %d", rec.Code)
	}
	s.err = errors.New("gamma down")
	if rec, _ := get(t, h, "/api/search?q=x"); rec.Code != http.StatusBadGateway {
		t.Errorf("upstream error status = %d", rec.Code)
	}
}

type fakeRefresher struct {
	result service.RefreshResult
	err    error
}

func (f *fakeRefresher) Run(context.Context) (service.RefreshResult, error) {
	return f.result, f.err
}

func TestTriggerRefresh(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"no markets", domain.ErrNoMarkets, http.StatusOK},
		{"stale", domain.ErrStaleGeneration, http.StatusOK},
		{"lock held", domain.ErrLockHeld, http.StatusConflict},
		{"failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRefreshHandler(&fakeRefresher{result: service.RefreshResult{Generation: 9}, err: tt.err}, testLogger())
			rec := httptest.NewRecorder()
			h.TriggerRefresh(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	snap := testSnapshot()
	ok := NewHealthHandler(func() *service.SnapshotData { return snap },
		map[string]Pinger{"redis": PingFunc(func(context.Context) error { return nil })}, testLogger())
	rec, body := get(t, http.HandlerFunc(ok.HealthCheck), "/api/health")
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["markets"] != float64(3) {
		t.Errorf("healthy = %d %v", rec.Code, body)
	}

	bad := NewHealthHandler(nil,
		map[string]Pinger{"postgres": PingFunc(func(context.Context) error { return errors.New("down") })}, testLogger())
	rec, body = get(t, http.HandlerFunc(bad.HealthCheck), "/api/health")
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("degraded = %d %v", rec.Code, body)
	}
}

func TestParseListOpts(t *testing.T) {
	tests := []struct {
		query      string
		limit, off int
	}{
		{"", 50, 0},
		{"limit=10&offset=5", 10, 5},
		{"limit=9999", 500, 0},
		{"limit=-1&offset=-4", 50, 0},
		{"limit=abc", 50, 0},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/markets?"+tt.query, nil)
		got := parseListOpts(r)
		if got.Limit != tt.limit || got.Offset != tt.off {
			t.Errorf("parseListOpts(%q) = %+v", tt.query, got)
		}
	}
}
