package aggregator

import (
	"github.com/alanyoungcy/polyview/internal/domain"
)

// SyntheticIDPrefix marks the id of a market synthesized from an event.
const SyntheticIDPrefix = "event-"

// defaultYesPrice is used when a member has no "Yes" outcome.
const defaultYesPrice = 0.5

// IsActive reports whether a member counts toward a synthesized market:
// active, not closed, and traded above MinActiveVolume.
func (a *Aggregator) IsActive(m domain.RawBinaryMarket) bool {
	return m.Active && !m.Closed && m.Volume > a.tuning.MinActiveVolume
}

// ActiveMembers returns the event members that pass IsActive, in order.
func (a *Aggregator) ActiveMembers(members []domain.RawBinaryMarket) []domain.RawBinaryMarket {
	out := make([]domain.RawBinaryMarket, 0, len(members))
	for _, m := range members {
		if a.IsActive(m) {
			out = append(out, m)
		}
	}
	return out
}

// Synthesize folds an event's active members into one multi-outcome market.
// Each member contributes one outcome labelled by DistinctLabels, priced at the
// member's "Yes" price and linked to the member's "Yes" token. It returns
// false when the event has no active members. The input is not modified.
func (a *Aggregator) Synthesize(event domain.EventGroup) (domain.Market, bool) {
	active := a.ActiveMembers(event.Markets)
	if len(active) == 0 {
		return domain.Market{}, false
	}

	n := len(active)
	out := domain.Market{
		Question:      event.Title,
		Slug:          event.Slug,
		Image:         event.Image,
		Category:      event.Category,
		Outcomes:      make([]string, 0, n),
		OutcomePrices: make([]float64, 0, n),
		Tokens:        make([]domain.Token, 0, n),
		ConditionIDs:  make([]string, 0, n),
		MemberIDs:     make([]string, 0, n),
		Synthesized:   true,
		Closed:        true,
	}
	if out.Question == "" {
		out.Question = active[0].Question
	}
	if out.Category == "" {
		out.Category = active[0].Category
	}
	if out.Image == "" {
		out.Image = active[0].Image
	}
	if event.ID != "" {
		out.ID = SyntheticIDPrefix + event.ID
	} else {
		out.ID = SyntheticIDPrefix + active[0].Key()
	}

	questions := make([]string, n)
	for i, m := range active {
		questions[i] = m.Question
	}
	labels := DistinctLabels(questions)

	for i, m := range active {
		label := labels[i]
		price := defaultYesPrice
		tokenID := ""
		if yi := m.YesIndex(); yi >= 0 {
			price = clamp01(m.OutcomePrices[yi])
			tokenID = m.TokenIDs[yi]
		}

		out.Outcomes = append(out.Outcomes, label)
		out.OutcomePrices = append(out.OutcomePrices, price)
		out.Tokens = append(out.Tokens, domain.Token{
			TokenID:      tokenID,
			OutcomeLabel: label,
			Price:        price,
			Image:        m.Image,
		})
		out.ConditionIDs = append(out.ConditionIDs, m.Key())
		out.MemberIDs = append(out.MemberIDs, m.ID)

		out.Volume += m.Volume
		out.Volume24h += m.Volume24h
		out.Liquidity += m.Liquidity
		out.Active = out.Active || m.Active
		out.Closed = out.Closed && m.Closed
		if m.EndDate != nil && (out.EndDate == nil || m.EndDate.After(*out.EndDate)) {
			t := *m.EndDate
			out.EndDate = &t
		}
	}
	return out, true
}

// WrapBinary converts a single binary market into a Market with its own two
// outcomes. Tokens are emitted only when the provider sent token ids.
func (a *Aggregator) WrapBinary(m domain.RawBinaryMarket) domain.Market {
	out := domain.Market{
		ID:            m.ID,
		Question:      m.Question,
		Slug:          m.Slug,
		Image:         m.Image,
		Category:      m.Category,
		Outcomes:      []string{m.Outcomes[0], m.Outcomes[1]},
		OutcomePrices: []float64{clamp01(m.OutcomePrices[0]), clamp01(m.OutcomePrices[1])},
		Volume:        m.Volume,
		Volume24h:     m.Volume24h,
		Liquidity:     m.Liquidity,
		Active:        m.Active,
		Closed:        m.Closed,
		ConditionIDs:  []string{m.Key()},
		MemberIDs:     []string{m.ID},
	}
	if m.EndDate != nil {
		t := *m.EndDate
		out.EndDate = &t
	}
	if m.TokenIDs[0] != "" || m.TokenIDs[1] != "" {
		out.Tokens = make([]domain.Token, 2)
		for i := range out.Tokens {
			out.Tokens[i] = domain.Token{
				TokenID:      m.TokenIDs[i],
				OutcomeLabel: out.Outcomes[i],
				Price:        out.OutcomePrices[i],
			}
		}
	}
	return out
}

func clamp01(p float64) float64 {
	switch {
	case p != p: // NaN
		return defaultYesPrice
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
