package aggregator

import (
	"math"
	"sort"

	"github.com/alanyoungcy/polyview/internal/domain"
)

type scored struct {
	market domain.Market
	score  float64
}

// RankTrending orders markets by 24h volume, boosting multi-outcome markets,
// and keeps the top RankLimit. Ties keep their input order.
func (a *Aggregator) RankTrending(markets []domain.Market) []domain.Market {
	entries := make([]scored, 0, len(markets))
	for _, m := range markets {
		entries = append(entries, scored{market: m, score: finiteOrZero(a.TrendingScore(m))})
	}
	return a.top(entries)
}

// RankProfitable orders markets by price spread and volume, boosting
// multi-outcome markets. Markets with a non-positive score are dropped and
// the top RankLimit are kept. Ties keep their input order.
func (a *Aggregator) RankProfitable(markets []domain.Market) []domain.Market {
	entries := make([]scored, 0, len(markets))
	for _, m := range markets {
		if s := finiteOrZero(a.ProfitableScore(m)); s > 0 {
			entries = append(entries, scored{market: m, score: s})
		}
	}
	return a.top(entries)
}

// TrendingScore is the 24h volume, boosted for multi-outcome markets.
func (a *Aggregator) TrendingScore(m domain.Market) float64 {
	s := m.Volume24h
	if m.IsMultiOutcome() {
		s *= a.tuning.TrendingBoost
	}
	return s
}

// ProfitableScore is (spread*100 + ln(volume+1)), boosted for multi-outcome
// markets. Markets with fewer than two tokens score zero.
func (a *Aggregator) ProfitableScore(m domain.Market) float64 {
	if len(m.Tokens) < 2 {
		return 0
	}
	s := PriceSpread(m)*100 + math.Log(math.Max(m.Volume, 0)+1)
	if m.IsMultiOutcome() {
		s *= a.tuning.ProfitableBoost
	}
	return s
}

// PriceSpread is the difference between the highest and lowest token price.
func PriceSpread(m domain.Market) float64 {
	if len(m.Tokens) == 0 {
		return 0
	}
	lo, hi := m.Tokens[0].Price, m.Tokens[0].Price
	for _, t := range m.Tokens[1:] {
		lo = math.Min(lo, t.Price)
		hi = math.Max(hi, t.Price)
	}
	return hi - lo
}

// finiteOrZero keeps NaN and infinite scores from breaking the sort order.
func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (a *Aggregator) top(entries []scored) []domain.Market {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})
	if len(entries) > a.tuning.RankLimit {
		entries = entries[:a.tuning.RankLimit]
	}
	out := make([]domain.Market, len(entries))
	for i, e := range entries {
		out[i] = e.market
	}
	return out
}
