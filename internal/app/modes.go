package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/alanyoungcy/polyview/internal/pipeline"
	"github.com/alanyoungcy/polyview/internal/server"
	"github.com/alanyoungcy/polyview/internal/server/handler"
	"github.com/alanyoungcy/polyview/internal/server/ws"
	"github.com/alanyoungcy/polyview/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServeMode runs the HTTP and WebSocket API together with the background
// refresh loop and, when persistence is enabled, the retention cron. In full
// mode the store and archive are always wired; otherwise the modes are
// identical.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.restore(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)

	orch := pipeline.NewOrchestrator(deps.Refresher, deps.Retention, a.cfg.Retention.Cron,
		a.logger.With(slog.String("component", "pipeline")))
	g.Go(func() error {
		return orch.Run(ctx)
	})

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Status:         snapshotStatus(deps.Markets),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := a.newServer(deps, hub)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// RefreshMode performs a single refresh, runs one retention pass when
// persistence is enabled, and returns. It suits external schedulers.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies) error {
	result, err := deps.Refresher.Run(ctx)
	switch {
	case err == nil:
		a.logger.InfoContext(ctx, "app: refresh complete",
			slog.Uint64("generation", result.Generation),
			slog.Int("markets", result.Markets),
			slog.Int("synthesized", result.Synthesized),
			slog.Int("skipped", result.Skipped),
		)
	case errors.Is(err, domain.ErrLockHeld):
		a.logger.InfoContext(ctx, "app: refresh skipped, another instance holds the lock")
		return nil
	case errors.Is(err, domain.ErrNoMarkets):
		a.logger.WarnContext(ctx, "app: refresh returned no markets")
	default:
		return fmt.Errorf("app: refresh: %w", err)
	}

	if deps.Retention != nil {
		if err := deps.Retention.Run(ctx); err != nil {
			return fmt.Errorf("app: retention: %w", err)
		}
	}
	return nil
}

// restore warm-starts the snapshot from the archive so the API has data
// before the first refresh lands. Failures are logged and ignored.
func (a *App) restore(ctx context.Context, deps *Dependencies) {
	if deps.Archive == nil || !a.cfg.S3.RestoreOnStart {
		return
	}
	if err := deps.Markets.Restore(ctx); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.logger.InfoContext(ctx, "app: no archived snapshot to restore")
			return
		}
		a.logger.WarnContext(ctx, "app: snapshot restore failed",
			slog.String("error", err.Error()),
		)
	}
}

func (a *App) newServer(deps *Dependencies, hub *ws.Hub) *server.Server {
	logger := a.logger.With(slog.String("component", "http"))
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Markets.Current, deps.Pingers, logger),
		Markets: handler.NewMarketHandler(deps.Markets, logger),
		Search:  handler.NewSearchHandler(deps.Markets, logger),
		Refresh: handler.NewRefreshHandler(deps.Refresher, logger),
	}
	return server.NewServer(server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		TrustProxy:  a.cfg.Server.TrustProxy,
	}, handlers, hub, deps.RateLimiter, logger)
}

// snapshotStatus summarizes the committed snapshot for new WebSocket clients.
func snapshotStatus(markets *service.MarketService) func() (ws.Status, bool) {
	return func() (ws.Status, bool) {
		d := markets.Current()
		if d == nil {
			return ws.Status{}, false
		}
		return ws.Status{
			Generation:  d.Generation,
			MarketCount: len(d.Markets),
			NoMarkets:   d.NoMarkets,
			FetchedAt:   d.FetchedAt,
		}, true
	}
}
