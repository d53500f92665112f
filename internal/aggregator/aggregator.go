// Package aggregator turns raw binary prediction markets into the unified
// market collection shown to users. Related Yes/No markets belonging to one
// event are folded into a single multi-outcome market, duplicates are removed,
// and the result is ranked for the trending and profitable views.
//
// Everything in this package is pure: no I/O, no clock, no shared state.
package aggregator

// Tuning holds the constants that shape grouping and ranking.
type Tuning struct {
	// MaxGroupSize is the largest event that may be folded into one market.
	MaxGroupSize int
	// MinActiveVolume is the exclusive lower volume bound for a member to
	// count as active.
	MinActiveVolume float64
	// TrendingBoost multiplies the trending score of multi-outcome markets.
	TrendingBoost float64
	// ProfitableBoost multiplies the profitable score of multi-outcome markets.
	ProfitableBoost float64
	// RankLimit caps the length of each ranked view.
	RankLimit int
}

// DefaultTuning returns the production values.
func DefaultTuning() Tuning {
	return Tuning{
		MaxGroupSize:    25,
		MinActiveVolume: 0,
		TrendingBoost:   1.2,
		ProfitableBoost: 1.15,
		RankLimit:       100,
	}
}

// Aggregator bundles the classifier, synthesizer, merger, and ranker around
// one Tuning.
type Aggregator struct {
	tuning Tuning
}

// New creates an Aggregator. Zero-valued tuning fields fall back to the
// defaults.
func New(t Tuning) *Aggregator {
	d := DefaultTuning()
	if t.MaxGroupSize <= 0 {
		t.MaxGroupSize = d.MaxGroupSize
	}
	if t.TrendingBoost <= 0 {
		t.TrendingBoost = d.TrendingBoost
	}
	if t.ProfitableBoost <= 0 {
		t.ProfitableBoost = d.ProfitableBoost
	}
	if t.RankLimit <= 0 {
		t.RankLimit = d.RankLimit
	}
	if t.MinActiveVolume < 0 {
		t.MinActiveVolume = 0
	}
	return &Aggregator{tuning: t}
}

// Tuning returns the effective tuning.
func (a *Aggregator) Tuning() Tuning {
	return a.tuning
}
