package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polyview/internal/config"
	"github.com/alanyoungcy/polyview/internal/server/ws"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const gammaMarkets = `[
	{"id":"m1","conditionId":"c1","question":"Will it rain in London tomorrow?","outcomes":"[\"Yes\",\"No\"]","outcomePrices":"[\"0.4\",\"0.6\"]","volume":"1200","volume24hr":300}
]`

func gammaServer(t *testing.T, markets string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets":
			_, _ = w.Write([]byte(markets))
		case "/events":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(gammaURL, mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Polymarket.GammaHost = gammaURL
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	return &cfg
}

func TestWireDefaultsUseLocalBus(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", config.ModeServer)
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer cleanup()

	if _, ok := deps.SignalBus.(*ws.LocalBus); !ok {
		t.Errorf("SignalBus = %T, want *ws.LocalBus", deps.SignalBus)
	}
	if deps.LockManager != nil || deps.RateLimiter != nil || deps.MarketCache != nil {
		t.Error("redis-backed dependencies wired without redis")
	}
	if deps.Retention != nil || deps.SnapshotStore != nil || deps.Archive != nil {
		t.Error("persistence wired in server mode without configuration")
	}
	if len(deps.Pingers) != 0 {
		t.Errorf("Pingers = %v, want none", deps.Pingers)
	}
}

func TestRefreshModeCommitsSnapshot(t *testing.T) {
	srv := gammaServer(t, gammaMarkets)
	cfg := testConfig(srv.URL, config.ModeRefresh)
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer cleanup()

	a := New(cfg, testLogger())
	if err := a.RefreshMode(context.Background(), deps); err != nil {
		t.Fatalf("RefreshMode() error = %v", err)
	}
	cur := deps.Markets.Current()
	if cur == nil || len(cur.Markets) != 1 || cur.Markets[0].ID != "m1" {
		t.Fatalf("Current() = %+v", cur)
	}
}

func TestRefreshModeToleratesNoMarkets(t *testing.T) {
	srv := gammaServer(t, `[]`)
	cfg := testConfig(srv.URL, config.ModeRefresh)
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer cleanup()

	if err := New(cfg, testLogger()).RefreshMode(context.Background(), deps); err != nil {
		t.Fatalf("RefreshMode() error = %v", err)
	}
	if cur := deps.Markets.Current(); cur == nil || !cur.NoMarkets {
		t.Errorf("Current() = %+v, want NoMarkets", cur)
	}
}

func TestServeModeStopsOnCancel(t *testing.T) {
	srv := gammaServer(t, gammaMarkets)
	cfg := testConfig(srv.URL, config.ModeServer)
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Wire() error = %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(cfg, testLogger()).ServeMode(ctx, deps) }()

	deadline := time.Now().Add(5 * time.Second)
	for deps.Markets.Current() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("no snapshot committed by the background refresh")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeMode() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("ServeMode did not stop after cancel")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "trade")
	a := New(cfg, testLogger())
	defer a.Close()

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), `unsupported mode "trade"`) {
		t.Fatalf("Run() error = %v", err)
	}
}
