package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/polyview/internal/aggregator"
	"github.com/alanyoungcy/polyview/internal/domain"
)

// Notifier event types.
const (
	// EventNoMarkets is raised when a refresh finds nothing.
	EventNoMarkets = "no_markets"
	// EventMarketsRestored is raised on the first non-empty refresh after an
	// empty one.
	EventMarketsRestored = "markets_restored"
)

// Alerter forwards operator alerts. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Options holds the fetch sizes used by MarketService.
type Options struct {
	TrendingLimit      int
	SearchLimitPerType int
}

// RefreshResult summarizes one Refresh call.
type RefreshResult struct {
	Generation  uint64 `json:"generation"`
	Markets     int    `json:"markets"`
	Trending    int    `json:"trending"`
	Profitable  int    `json:"profitable"`
	Synthesized int    `json:"synthesized"`
	Events      int    `json:"events"`
	Skipped     int    `json:"skipped"`
	NoMarkets   bool   `json:"no_markets"`
	Stale       bool   `json:"stale"`
}

// MarketService owns the market snapshots and runs the refresh, search, and
// lookup flows on top of MarketSource and the aggregator.
type MarketService struct {
	source   *MarketSource
	agg      *aggregator.Aggregator
	snapshot *Snapshot
	search   *Snapshot
	opts     Options

	cache   domain.MarketCache
	store   domain.SnapshotStore
	archive domain.SnapshotArchive
	bus     domain.SignalBus
	alerter Alerter
	sinkMu  sync.Mutex

	now    func() time.Time
	logger *slog.Logger
}

// Option configures optional MarketService collaborators.
type Option func(*MarketService)

// WithCache shares committed markets through a cross-instance cache.
func WithCache(c domain.MarketCache) Option {
	return func(s *MarketService) { s.cache = c }
}

// WithStore persists each committed snapshot.
func WithStore(st domain.SnapshotStore) Option {
	return func(s *MarketService) { s.store = st }
}

// WithArchive archives each committed snapshot to object storage.
func WithArchive(a domain.SnapshotArchive) Option {
	return func(s *MarketService) { s.archive = a }
}

// WithSignalBus publishes a RefreshNotice after each commit.
func WithSignalBus(b domain.SignalBus) Option {
	return func(s *MarketService) { s.bus = b }
}

// WithAlerter raises an alert when a refresh finds no markets.
func WithAlerter(a Alerter) Option {
	return func(s *MarketService) { s.alerter = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *MarketService) { s.now = now }
}

// NewMarketService creates a MarketService with its own snapshot caches.
func NewMarketService(source *MarketSource, agg *aggregator.Aggregator, opts Options, logger *slog.Logger, options ...Option) *MarketService {
	if opts.TrendingLimit <= 0 {
		opts.TrendingLimit = 100
	}
	if opts.SearchLimitPerType <= 0 {
		opts.SearchLimitPerType = 20
	}
	s := &MarketService{
		source:   source,
		agg:      agg,
		snapshot: NewSnapshot(),
		search:   NewSnapshot(),
		opts:     opts,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "market_service")),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Refresh fetches both sources, rebuilds the merged collection and its ranked
// views, and commits them. A refresh overtaken by a later one returns
// domain.ErrStaleGeneration without touching the snapshot. When both sources
// come back empty an empty snapshot flagged NoMarkets is committed and
// domain.ErrNoMarkets is returned.
func (s *MarketService) Refresh(ctx context.Context) (RefreshResult, error) {
	gen := s.snapshot.Begin()
	fetched := s.source.FetchAll(ctx, s.opts.TrendingLimit, 0)
	if err := ctx.Err(); err != nil {
		return RefreshResult{Generation: gen}, fmt.Errorf("market_service: refresh: %w", err)
	}

	merged, synthesized := s.assemble(fetched.Trending, fetched.Events)
	data := &SnapshotData{
		Generation: gen,
		Markets:    merged,
		Trending:   s.agg.RankTrending(merged),
		Profitable: s.agg.RankProfitable(merged),
		FetchedAt:  s.now().UTC(),
		NoMarkets:  len(merged) == 0,
	}
	result := RefreshResult{
		Generation:  gen,
		Markets:     len(data.Markets),
		Trending:    len(data.Trending),
		Profitable:  len(data.Profitable),
		Synthesized: synthesized,
		Events:      len(fetched.Events),
		Skipped:     fetched.Skipped,
		NoMarkets:   data.NoMarkets,
	}

	prev := s.snapshot.Load()
	if err := s.snapshot.Commit(data); err != nil {
		result.Stale = true
		s.logger.InfoContext(ctx, "market_service: discarded stale refresh",
			slog.Uint64("generation", gen),
		)
		return result, fmt.Errorf("market_service: refresh generation %d: %w", gen, err)
	}

	s.logger.InfoContext(ctx, "market_service: refresh committed",
		slog.Uint64("generation", gen),
		slog.Int("markets", result.Markets),
		slog.Int("synthesized", result.Synthesized),
		slog.Int("events", result.Events),
		slog.Int("skipped", result.Skipped),
	)

	s.runSinks(ctx, data, result)

	if data.NoMarkets {
		s.alertNoMarkets(ctx, fetched)
		return result, domain.ErrNoMarkets
	}
	if prev != nil && prev.NoMarkets && s.alerter != nil {
		msg := fmt.Sprintf("%d markets available again.", result.Markets)
		if err := s.alerter.Notify(ctx, EventMarketsRestored, "Markets restored", msg); err != nil {
			s.sinkFailed(ctx, "alerter", err)
		}
	}
	return result, nil
}

// Search queries the provider, folds the matching events the same way as a
// refresh, and caches the result for later lookups.
func (s *MarketService) Search(ctx context.Context, query string) ([]domain.Market, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Market{}, nil
	}

	gen := s.search.Begin()
	groups, err := s.source.Search(ctx, query, s.opts.SearchLimitPerType)
	if err != nil {
		return nil, fmt.Errorf("market_service: search %q: %w", query, err)
	}

	markets, _ := s.assemble(nil, groups)
	err = s.search.Commit(&SnapshotData{
		Generation: gen,
		Markets:    markets,
		FetchedAt:  s.now().UTC(),
		NoMarkets:  len(markets) == 0,
	})
	if errors.Is(err, domain.ErrStaleGeneration) {
		s.logger.DebugContext(ctx, "market_service: search result not cached, newer search committed",
			slog.String("query", query),
		)
	}
	return markets, nil
}

// Restore warm-starts an empty snapshot from the latest archived refresh.
// It is a no-op once any snapshot has been committed.
func (s *MarketService) Restore(ctx context.Context) error {
	if s.archive == nil || s.snapshot.Load() != nil {
		return nil
	}
	run, markets, err := s.archive.LoadLatest(ctx)
	if err != nil {
		return fmt.Errorf("market_service: restore: %w", err)
	}

	gen := s.snapshot.Begin()
	err = s.snapshot.Commit(&SnapshotData{
		Generation: gen,
		Markets:    markets,
		Trending:   s.agg.RankTrending(markets),
		Profitable: s.agg.RankProfitable(markets),
		FetchedAt:  run.FetchedAt,
		NoMarkets:  len(markets) == 0,
	})
	if err != nil {
		return fmt.Errorf("market_service: restore: %w", err)
	}
	s.logger.InfoContext(ctx, "market_service: restored snapshot from archive",
		slog.Uint64("archived_generation", run.Generation),
		slog.Int("markets", len(markets)),
	)
	return nil
}

// Current returns the committed snapshot, or nil before the first refresh.
func (s *MarketService) Current() *SnapshotData {
	return s.snapshot.Load()
}

// All returns the merged collection.
func (s *MarketService) All() []domain.Market {
	if d := s.snapshot.Load(); d != nil {
		return d.Markets
	}
	return []domain.Market{}
}

// Trending returns the trending view.
func (s *MarketService) Trending() []domain.Market {
	if d := s.snapshot.Load(); d != nil {
		return d.Trending
	}
	return []domain.Market{}
}

// Profitable returns the profitable view.
func (s *MarketService) Profitable() []domain.Market {
	if d := s.snapshot.Load(); d != nil {
		return d.Profitable
	}
	return []domain.Market{}
}

// assemble synthesizes every groupable event and merges the result with the
// trending markets. Active members of events that cannot be grouped are kept
// as standalone markets after the trending ones.
func (s *MarketService) assemble(trending []domain.RawBinaryMarket, events []domain.EventGroup) ([]domain.Market, int) {
	synthesized := make([]domain.Market, 0, len(events))
	standalone := make([]domain.RawBinaryMarket, 0, len(trending))
	standalone = append(standalone, trending...)

	for _, ev := range events {
		if s.agg.IsGroupable(ev.Markets) {
			if m, ok := s.agg.Synthesize(ev); ok {
				synthesized = append(synthesized, m)
			}
			continue
		}
		standalone = append(standalone, s.agg.ActiveMembers(ev.Markets)...)
	}

	merged := s.agg.Merge(standalone, synthesized)
	count := 0
	for _, m := range merged {
		if m.Synthesized {
			count++
		}
	}
	return merged, count
}

// runSinks pushes a committed snapshot to the optional collaborators. Every
// sink is best-effort: failures are logged and never fail the refresh.
// Sinks run one generation at a time, and a generation that is no longer the
// live snapshot is skipped so an older refresh never overwrites a newer one.
func (s *MarketService) runSinks(ctx context.Context, data *SnapshotData, result RefreshResult) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	if cur := s.snapshot.Load(); cur != nil && cur.Generation != data.Generation {
		s.logger.DebugContext(ctx, "market_service: skipped sinks for superseded generation",
			slog.Uint64("generation", data.Generation),
			slog.Uint64("current", cur.Generation),
		)
		return
	}

	run := domain.RefreshRun{
		Generation:    data.Generation,
		MarketCount:   result.Markets,
		TrendingCount: result.Trending,
		EventCount:    result.Events,
		Synthesized:   result.Synthesized,
		NoMarkets:     data.NoMarkets,
		FetchedAt:     data.FetchedAt,
	}

	if s.cache != nil && len(data.Markets) > 0 {
		if err := s.cache.SetMany(ctx, data.Markets); err != nil {
			s.sinkFailed(ctx, "cache", err)
		}
	}
	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, run, data.Markets); err != nil {
			s.sinkFailed(ctx, "store", err)
		}
	}
	if s.archive != nil && len(data.Markets) > 0 {
		if path, err := s.archive.Archive(ctx, run, data.Markets); err != nil {
			s.sinkFailed(ctx, "archive", err)
		} else {
			s.logger.DebugContext(ctx, "market_service: snapshot archived", slog.String("path", path))
		}
	}
	if s.bus != nil {
		payload, err := json.Marshal(domain.RefreshNotice{
			Type:        domain.ChannelMarketsRefreshed,
			Generation:  data.Generation,
			MarketCount: len(data.Markets),
			NoMarkets:   data.NoMarkets,
			FetchedAt:   data.FetchedAt,
		})
		if err == nil {
			err = s.bus.Publish(ctx, domain.ChannelMarketsRefreshed, payload)
		}
		if err != nil {
			s.sinkFailed(ctx, "signal_bus", err)
		}
	}
}

func (s *MarketService) sinkFailed(ctx context.Context, sink string, err error) {
	s.logger.WarnContext(ctx, "market_service: sink failed",
		slog.String("sink", sink),
		slog.String("error", err.Error()),
	)
}

func (s *MarketService) alertNoMarkets(ctx context.Context, fetched FetchResult) {
	s.logger.WarnContext(ctx, "market_service: no markets available")
	if s.alerter == nil {
		return
	}

	var reasons []string
	if fetched.TrendingErr != nil {
		reasons = append(reasons, "trending: "+fetched.TrendingErr.Error())
	}
	if fetched.EventsErr != nil {
		reasons = append(reasons, "events: "+fetched.EventsErr.Error())
	}
	msg := "Both market sources returned nothing."
	if len(reasons) > 0 {
		msg = strings.Join(reasons, "\n")
	}
	if err := s.alerter.Notify(ctx, EventNoMarkets, "No markets available", msg); err != nil {
		s.sinkFailed(ctx, "alerter", err)
	}
}
