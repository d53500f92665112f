package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyview/internal/aggregator"
	s3blob "github.com/alanyoungcy/polyview/internal/blob/s3"
	"github.com/alanyoungcy/polyview/internal/cache/redis"
	"github.com/alanyoungcy/polyview/internal/config"
	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/alanyoungcy/polyview/internal/notify"
	"github.com/alanyoungcy/polyview/internal/pipeline"
	"github.com/alanyoungcy/polyview/internal/platform/polymarket"
	"github.com/alanyoungcy/polyview/internal/server/handler"
	"github.com/alanyoungcy/polyview/internal/server/ws"
	"github.com/alanyoungcy/polyview/internal/service"
	"github.com/alanyoungcy/polyview/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Markets   *service.MarketService
	Refresher *pipeline.Refresher
	// Retention is nil when neither the store nor the archive is enabled.
	Retention *pipeline.Retention

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Persistence
	SnapshotStore domain.SnapshotStore
	Archive       domain.SnapshotArchive

	// Notifications
	Notifier *notify.Notifier

	// Pingers are probed by the health endpoint, keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}
	var marketOpts []service.Option

	// --- Redis (optional; shared cache, refresh lock, rate limiter, bus) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Pingers["redis"] = redisClient

		marketOpts = append(marketOpts, service.WithCache(deps.MarketCache))
	} else {
		deps.SignalBus = ws.NewLocalBus()
	}
	marketOpts = append(marketOpts, service.WithSignalBus(deps.SignalBus))

	// --- PostgreSQL (snapshot history) ---
	var runPruner pipeline.RunPruner
	if cfg.PersistenceEnabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		store := postgres.NewSnapshotStore(pgClient.Pool())
		deps.SnapshotStore = store
		deps.Pingers["postgres"] = pgClient
		runPruner = store
		marketOpts = append(marketOpts, service.WithStore(store))
	}

	// --- S3 snapshot archive ---
	var archivePruner pipeline.ArchivePruner
	if cfg.ArchiveEnabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		archive := s3blob.NewSnapshotArchive(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.Prefix)
		deps.Archive = archive
		deps.Pingers["s3"] = handler.PingFunc(s3Client.Health)
		archivePruner = archive
		marketOpts = append(marketOpts, service.WithArchive(archive))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			notify.DefaultTelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithCooldown(cfg.Notify.Cooldown.Duration),
	)
	if deps.Notifier.Enabled() {
		marketOpts = append(marketOpts, service.WithAlerter(deps.Notifier))
	}

	// --- Market pipeline ---
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost,
		polymarket.WithTimeout(cfg.Polymarket.RequestTimeout.Duration),
	)
	source := service.NewMarketSource(gamma, cfg.Aggregator.EventsLimit, logger)
	agg := aggregator.New(aggregator.Tuning{
		MaxGroupSize:    cfg.Aggregator.MaxGroupSize,
		MinActiveVolume: cfg.Aggregator.MinActiveVolume,
		TrendingBoost:   cfg.Aggregator.TrendingBoost,
		ProfitableBoost: cfg.Aggregator.ProfitableBoost,
		RankLimit:       cfg.Aggregator.RankLimit,
	})
	deps.Markets = service.NewMarketService(source, agg, service.Options{
		TrendingLimit:      cfg.Aggregator.TrendingLimit,
		SearchLimitPerType: cfg.Aggregator.SearchLimitPerType,
	}, logger, marketOpts...)

	deps.Refresher = pipeline.NewRefresher(deps.Markets, deps.LockManager,
		cfg.Aggregator.RefreshInterval.Duration, logger.With(slog.String("component", "refresher")))
	if runPruner != nil || archivePruner != nil {
		deps.Retention = pipeline.NewRetention(runPruner, archivePruner, cfg.Retention.Days,
			logger.With(slog.String("component", "retention")))
	}

	return deps, cleanup, nil
}
