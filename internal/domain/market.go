package domain

import (
	"strings"
	"time"
)

// RawBinaryMarket is one atomic Yes/No market as delivered by the provider,
// normalized at the platform boundary. Outcomes and prices are always
// parallel two-element arrays; malformed records never get this far.
type RawBinaryMarket struct {
	ID            string
	ConditionID   string
	Question      string
	Slug          string
	Category      string
	Image         string
	Outcomes      [2]string  // e.g. ["Yes","No"]
	OutcomePrices [2]float64 // each in [0,1]
	TokenIDs      [2]string  // CLOB token ids, parallel to Outcomes
	Volume        float64
	Volume24h     float64
	Liquidity     float64
	EndDate       *time.Time
	Active        bool
	Closed        bool
}

// Key is the identifier used for deduplication across source endpoints: the
// condition id when the provider sent one, otherwise the market id.
func (m RawBinaryMarket) Key() string {
	if m.ConditionID != "" {
		return m.ConditionID
	}
	return m.ID
}

// YesIndex returns the index of the "Yes" outcome, or -1 when neither label
// is a case-insensitive "Yes".
func (m RawBinaryMarket) YesIndex() int {
	for i, o := range m.Outcomes {
		if strings.EqualFold(strings.TrimSpace(o), "yes") {
			return i
		}
	}
	return -1
}

// EventGroup is a provider-side topic grouping related binary markets.
type EventGroup struct {
	ID       string
	Slug     string
	Title    string
	Category string
	Image    string
	Markets  []RawBinaryMarket
}

// Token links one outcome of a Market back to a tradable CLOB token.
type Token struct {
	TokenID      string  `json:"token_id"`
	OutcomeLabel string  `json:"outcome"`
	Price        float64 `json:"price"`
	Image        string  `json:"image,omitempty"`
}

// Market is the view-model unit emitted by the aggregation engine. It is
// either a synthesized multi-outcome market or a wrapped binary market.
// Outcomes, OutcomePrices and Tokens are parallel when Tokens is non-empty.
type Market struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Slug          string     `json:"slug,omitempty"`
	Image         string     `json:"image,omitempty"`
	Outcomes      []string   `json:"outcomes"`
	OutcomePrices []float64  `json:"outcome_prices"`
	Tokens        []Token    `json:"tokens,omitempty"`
	Volume        float64    `json:"volume"`
	Volume24h     float64    `json:"volume_24h"`
	Liquidity     float64    `json:"liquidity"`
	Category      string     `json:"category,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Active        bool       `json:"active"`
	Closed        bool       `json:"closed"`
	Synthesized   bool       `json:"synthesized"`

	// ConditionIDs are the dedup keys of every provider market folded into
	// this entry; MemberIDs are their provider market ids.
	ConditionIDs []string `json:"condition_ids"`
	MemberIDs    []string `json:"member_ids"`
}

// IsMultiOutcome reports whether the market has more than two outcomes.
func (m Market) IsMultiOutcome() bool {
	return len(m.Outcomes) > 2
}

// Matches reports whether id is this market's id, or the id or condition id
// of one of the provider markets folded into it.
func (m Market) Matches(id string) bool {
	if id == "" {
		return false
	}
	if m.ID == id {
		return true
	}
	for _, c := range m.ConditionIDs {
		if c == id {
			return true
		}
	}
	for _, c := range m.MemberIDs {
		if c == id {
			return true
		}
	}
	return false
}

// TokenIDs returns the token ids of every outcome, skipping empty ones.
func (m Market) TokenIDs() []string {
	ids := make([]string, 0, len(m.Tokens))
	for _, t := range m.Tokens {
		if t.TokenID != "" {
			ids = append(ids, t.TokenID)
		}
	}
	return ids
}
