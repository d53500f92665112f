package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/alanyoungcy/polyview/internal/platform/polymarket"
)

// GammaAPI is the subset of the Gamma client the service layer needs.
type GammaAPI interface {
	GetTrendingMarkets(ctx context.Context, limit, offset int) ([]polymarket.APIMarket, error)
	GetEvents(ctx context.Context, limit int) ([]polymarket.APIEvent, error)
	GetMarket(ctx context.Context, id string) (polymarket.APIMarket, error)
	GetEvent(ctx context.Context, id string) (polymarket.APIEvent, error)
	SearchEvents(ctx context.Context, query string, limitPerType int) ([]polymarket.APIEvent, error)
}

// FetchResult is the outcome of one concurrent fetch of both source
// endpoints. A failed endpoint contributes an empty slice and its error.
type FetchResult struct {
	Trending    []domain.RawBinaryMarket
	Events      []domain.EventGroup
	TrendingErr error
	EventsErr   error
	Skipped     int // malformed records dropped at the boundary
}

// Empty reports whether both endpoints produced nothing.
func (r FetchResult) Empty() bool {
	return len(r.Trending) == 0 && len(r.Events) == 0
}

// MarketSource performs the remote fetches and normalizes their payloads into
// strict domain records. It never returns an error to its callers: a failed
// endpoint degrades to an empty result and is logged.
type MarketSource struct {
	api         GammaAPI
	eventsLimit int
	logger      *slog.Logger
}

// NewMarketSource creates a MarketSource. eventsLimit bounds the events
// endpoint page size.
func NewMarketSource(api GammaAPI, eventsLimit int, logger *slog.Logger) *MarketSource {
	if eventsLimit <= 0 {
		eventsLimit = 100
	}
	return &MarketSource{
		api:         api,
		eventsLimit: eventsLimit,
		logger:      logger.With(slog.String("component", "market_source")),
	}
}

// FetchTrending returns active, open binary markets ranked by 24h volume.
func (s *MarketSource) FetchTrending(ctx context.Context, limit, offset int) []domain.RawBinaryMarket {
	markets, _, _ := s.fetchTrending(ctx, limit, offset)
	return markets
}

// FetchEventGroups returns open events with their normalized member markets.
func (s *MarketSource) FetchEventGroups(ctx context.Context) []domain.EventGroup {
	events, _, _ := s.fetchEvents(ctx)
	return events
}

// FetchAll fires both fetches concurrently and waits for both.
func (s *MarketSource) FetchAll(ctx context.Context, limit, offset int) FetchResult {
	var (
		res                 FetchResult
		skipTrend, skipEvts int
	)

	var g errgroup.Group
	g.Go(func() error {
		res.Trending, skipTrend, res.TrendingErr = s.fetchTrending(ctx, limit, offset)
		return nil
	})
	g.Go(func() error {
		res.Events, skipEvts, res.EventsErr = s.fetchEvents(ctx)
		return nil
	})
	_ = g.Wait()

	res.Skipped = skipTrend + skipEvts
	return res
}

// Search returns the events matching query, normalized.
func (s *MarketSource) Search(ctx context.Context, query string, limitPerType int) ([]domain.EventGroup, error) {
	raw, err := s.api.SearchEvents(ctx, query, limitPerType)
	if err != nil {
		return nil, fmt.Errorf("market_source: search: %w", err)
	}
	groups, _ := s.toGroups(ctx, raw)
	return groups, nil
}

// FetchOne resolves a single id through the live single-item endpoints. The
// result is either an event group or a single market; exactly one of the two
// return values is set on success.
func (s *MarketSource) FetchOne(ctx context.Context, id string) (*domain.EventGroup, *domain.RawBinaryMarket, error) {
	if eventID, ok := cutPrefix(id); ok {
		ev, err := s.api.GetEvent(ctx, eventID)
		if err != nil {
			return nil, nil, fmt.Errorf("market_source: fetch event %s: %w", eventID, err)
		}
		group, skipped := ev.ToEventGroup()
		s.recordSkipped(ctx, skipped)
		return &group, nil, nil
	}

	m, err := s.api.GetMarket(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("market_source: fetch market %s: %w", id, err)
	}
	if m.IsEvent() {
		ev := m.AsEvent()
		group, skipped := ev.ToEventGroup()
		s.recordSkipped(ctx, skipped)
		return &group, nil, nil
	}
	rm, err := m.ToRawMarket()
	if err != nil {
		s.recordSkipped(ctx, []error{err})
		return nil, nil, fmt.Errorf("market_source: fetch market %s: %w", id, err)
	}
	return nil, &rm, nil
}

func (s *MarketSource) fetchTrending(ctx context.Context, limit, offset int) ([]domain.RawBinaryMarket, int, error) {
	raw, err := s.api.GetTrendingMarkets(ctx, limit, offset)
	if err != nil {
		s.logFetchFailure(ctx, "trending", err)
		return []domain.RawBinaryMarket{}, 0, err
	}

	out := make([]domain.RawBinaryMarket, 0, len(raw))
	var skipped []error
	for i := range raw {
		rm, err := raw[i].ToRawMarket()
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		out = append(out, rm)
	}
	s.recordSkipped(ctx, skipped)
	return out, len(skipped), nil
}

func (s *MarketSource) fetchEvents(ctx context.Context) ([]domain.EventGroup, int, error) {
	raw, err := s.api.GetEvents(ctx, s.eventsLimit)
	if err != nil {
		s.logFetchFailure(ctx, "events", err)
		return []domain.EventGroup{}, 0, err
	}
	groups, skipped := s.toGroups(ctx, raw)
	return groups, skipped, nil
}

func (s *MarketSource) toGroups(ctx context.Context, raw []polymarket.APIEvent) ([]domain.EventGroup, int) {
	out := make([]domain.EventGroup, 0, len(raw))
	var skipped []error
	for i := range raw {
		if bool(raw[i].Closed) {
			continue
		}
		group, errs := raw[i].ToEventGroup()
		skipped = append(skipped, errs...)
		out = append(out, group)
	}
	s.recordSkipped(ctx, skipped)
	return out, len(skipped)
}

func (s *MarketSource) recordSkipped(ctx context.Context, errs []error) {
	if len(errs) == 0 {
		return
	}
	for _, err := range errs {
		s.logger.DebugContext(ctx, "market_source: skipped malformed market",
			slog.String("error", err.Error()),
		)
	}
	s.logger.WarnContext(ctx, "market_source: skipped malformed markets",
		slog.Int("count", len(errs)),
	)
}

func (s *MarketSource) logFetchFailure(ctx context.Context, endpoint string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.ErrorContext(ctx, "market_source: fetch failed",
		slog.String("endpoint", endpoint),
		slog.String("error", err.Error()),
	)
}
