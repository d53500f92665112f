package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polyview/internal/aggregator"
	"github.com/alanyoungcy/polyview/internal/domain"
)

// FindByID resolves a market id, or the condition id or member id of any
// market folded into a synthesized one. Sources are tried in order: the
// merged snapshot (and its shared cache), the search snapshot, and finally a
// live fetch from the provider, which is synthesized the same way as a
// refresh. domain.ErrNotFound is returned only after all three miss.
func (s *MarketService) FindByID(ctx context.Context, id string) (domain.Market, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Market{}, fmt.Errorf("market_service: find: empty id: %w", domain.ErrNotFound)
	}

	if m, ok := s.snapshot.Load().Find(id); ok {
		return m, nil
	}
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}
	if m, ok := s.search.Load().Find(id); ok {
		return m, nil
	}

	m, err := s.fetchAndSynthesize(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: live lookup failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
		return domain.Market{}, fmt.Errorf("market_service: find %s: %w", id, domain.ErrNotFound)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.sinkFailed(ctx, "cache", err)
		}
	}
	return m, nil
}

// FindByToken resolves the market that owns a CLOB token id.
func (s *MarketService) FindByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	for _, d := range []*SnapshotData{s.snapshot.Load(), s.search.Load()} {
		if d == nil {
			continue
		}
		for _, m := range d.Markets {
			for _, t := range m.Tokens {
				if t.TokenID == tokenID {
					return m, nil
				}
			}
		}
	}
	if s.cache != nil {
		if m, err := s.cache.GetByToken(ctx, tokenID); err == nil {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("market_service: find token %s: %w", tokenID, domain.ErrNotFound)
}

func (s *MarketService) fetchAndSynthesize(ctx context.Context, id string) (domain.Market, error) {
	group, single, err := s.source.FetchOne(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	if single != nil {
		return s.agg.WrapBinary(*single), nil
	}

	if s.agg.IsGroupable(group.Markets) {
		if m, ok := s.agg.Synthesize(*group); ok {
			return m, nil
		}
		return domain.Market{}, domain.ErrNotFound
	}

	// A lone or non-Yes/No event: surface the member that was asked for, or
	// its first active member.
	var fallback *domain.RawBinaryMarket
	for i := range group.Markets {
		m := &group.Markets[i]
		if m.ID == id || m.Key() == id {
			return s.agg.WrapBinary(*m), nil
		}
		if fallback == nil && s.agg.IsActive(*m) {
			fallback = m
		}
	}
	if fallback != nil {
		return s.agg.WrapBinary(*fallback), nil
	}
	return domain.Market{}, domain.ErrNotFound
}

// cutPrefix strips the synthesized-market prefix from id.
func cutPrefix(id string) (string, bool) {
	rest, ok := strings.CutPrefix(id, aggregator.SyntheticIDPrefix)
	return rest, ok && rest != ""
}
