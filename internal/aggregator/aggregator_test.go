package aggregator

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
)

func yesNo(id, question string, yes, volume float64) domain.RawBinaryMarket {
	return domain.RawBinaryMarket{
		ID:            id,
		ConditionID:   "0x" + id,
		Question:      question,
		Outcomes:      [2]string{"Yes", "No"},
		OutcomePrices: [2]float64{yes, 1 - yes},
		TokenIDs:      [2]string{"tok-yes-" + id, "tok-no-" + id},
		Volume:        volume,
		Volume24h:     volume / 10,
		Liquidity:     volume / 100,
		Active:        true,
	}
}

func TestIsGroupable(t *testing.T) {
	a := New(DefaultTuning())

	many := make([]domain.RawBinaryMarket, 26)
	for i := range many {
		many[i] = yesNo(fmt.Sprint(i), "q", 0.5, 1)
	}
	mixedCase := yesNo("2", "q", 0.5, 1)
	mixedCase.Outcomes = [2]string{"no", "YES"}
	sports := yesNo("3", "q", 0.5, 1)
	sports.Outcomes = [2]string{"Lakers", "Celtics"}

	tests := []struct {
		name    string
		members []domain.RawBinaryMarket
		want    bool
	}{
		{"empty", nil, false},
		{"single member", []domain.RawBinaryMarket{yesNo("1", "q", 0.5, 1)}, false},
		{"two yes/no", []domain.RawBinaryMarket{yesNo("1", "q", 0.5, 1), yesNo("2", "q", 0.5, 1)}, true},
		{"case-insensitive any order", []domain.RawBinaryMarket{yesNo("1", "q", 0.5, 1), mixedCase}, true},
		{"one non yes/no rejects all", []domain.RawBinaryMarket{yesNo("1", "q", 0.5, 1), sports}, false},
		{"at cap", many[:25], true},
		{"over cap", many, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.IsGroupable(tt.members); got != tt.want {
				t.Errorf("IsGroupable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSynthesize(t *testing.T) {
	a := New(DefaultTuning())
	end1 := time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	end2 := end1.Add(48 * time.Hour)

	m1 := yesNo("1", "Will the Lakers win the NBA Finals?", 0.3, 1000)
	m1.EndDate = &end1
	m2 := yesNo("2", "Will the Celtics win the NBA Finals?", 0.6, 500)
	m2.EndDate = &end2
	m2.Outcomes = [2]string{"No", "Yes"}
	m2.OutcomePrices = [2]float64{0.4, 0.6}
	m2.TokenIDs = [2]string{"tok-no-2", "tok-yes-2"}
	dead := yesNo("3", "Will the Knicks win the NBA Finals?", 0.1, 0)

	event := domain.EventGroup{
		ID:       "77",
		Title:    "NBA Champion",
		Category: "sports",
		Markets:  []domain.RawBinaryMarket{m1, m2, dead},
	}

	got, ok := a.Synthesize(event)
	if !ok {
		t.Fatal("Synthesize returned false")
	}
	if got.ID != "event-77" {
		t.Errorf("ID = %q", got.ID)
	}
	if got.Question != "NBA Champion" {
		t.Errorf("Question = %q", got.Question)
	}
	if want := []string{"Lakers", "Celtics"}; !reflect.DeepEqual(got.Outcomes, want) {
		t.Errorf("Outcomes = %v, want %v", got.Outcomes, want)
	}
	if want := []float64{0.3, 0.6}; !reflect.DeepEqual(got.OutcomePrices, want) {
		t.Errorf("OutcomePrices = %v, want %v", got.OutcomePrices, want)
	}
	if len(got.Tokens) != 2 || got.Tokens[0].TokenID != "tok-yes-1" || got.Tokens[1].TokenID != "tok-yes-2" {
		t.Errorf("Tokens = %+v", got.Tokens)
	}
	if got.Volume != 1500 || got.Volume24h != 150 || got.Liquidity != 15 {
		t.Errorf("Volume/24h/Liquidity = %v/%v/%v", got.Volume, got.Volume24h, got.Liquidity)
	}
	if !got.Active || got.Closed || !got.Synthesized {
		t.Errorf("Active/Closed/Synthesized = %v/%v/%v", got.Active, got.Closed, got.Synthesized)
	}
	if got.EndDate == nil || !got.EndDate.Equal(end2) {
		t.Errorf("EndDate = %v, want %v", got.EndDate, end2)
	}
	if want := []string{"0x1", "0x2"}; !reflect.DeepEqual(got.ConditionIDs, want) {
		t.Errorf("ConditionIDs = %v, want %v", got.ConditionIDs, want)
	}

	again, _ := a.Synthesize(event)
	if !reflect.DeepEqual(got, again) {
		t.Error("Synthesize is not idempotent")
	}
	if event.Markets[1].Outcomes[0] != "No" {
		t.Error("Synthesize mutated its input")
	}
}

func TestSynthesizeKeepsOutcomeLabelsDistinct(t *testing.T) {
	a := New(DefaultTuning())
	event := domain.EventGroup{ID: "sb", Title: "Super Bowl Champion", Markets: []domain.RawBinaryMarket{
		yesNo("1", "Will the Chiefs win Super Bowl LIX in the 2025 season?", 0.4, 100),
		yesNo("2", "Will the Eagles win Super Bowl LIX in the 2025 season?", 0.35, 100),
		yesNo("3", "Will the Bills win Super Bowl LIX in the 2025 season?", 0.25, 100),
	}}

	got, ok := a.Synthesize(event)
	if !ok {
		t.Fatal("Synthesize() ok = false")
	}
	if want := []string{"Chiefs", "Eagles", "Bills"}; !reflect.DeepEqual(got.Outcomes, want) {
		t.Errorf("Outcomes = %v, want %v", got.Outcomes, want)
	}
	for i, tok := range got.Tokens {
		if tok.OutcomeLabel != got.Outcomes[i] {
			t.Errorf("Tokens[%d].OutcomeLabel = %q, want %q", i, tok.OutcomeLabel, got.Outcomes[i])
		}
	}
}

func TestSynthesizeAllInactive(t *testing.T) {
	a := New(DefaultTuning())
	event := domain.EventGroup{ID: "1", Title: "Placeholder", Markets: []domain.RawBinaryMarket{
		yesNo("1", "Will Person A win?", 0.1, 0),
		yesNo("2", "Will Person B win?", 0.1, 0),
		yesNo("3", "Will Person C win?", 0.1, 0),
	}}
	if _, ok := a.Synthesize(event); ok {
		t.Error("Synthesize() ok = true for an event without volume")
	}
}

func TestSynthesizeDefaultsAndClamps(t *testing.T) {
	a := New(DefaultTuning())
	noYes := yesNo("1", "Will Alice be named CEO?", 0.5, 10)
	noYes.Outcomes = [2]string{"Up", "Down"}
	high := yesNo("2", "Will Bob be named CEO?", 0, 10)
	high.OutcomePrices = [2]float64{1.7, -0.7}
	closed := yesNo("3", "Will Carol be named CEO?", 0.5, 10)
	closed.Closed = true

	got, ok := a.Synthesize(domain.EventGroup{ID: "9", Markets: []domain.RawBinaryMarket{noYes, high, closed}})
	if !ok {
		t.Fatal("Synthesize returned false")
	}
	if want := []float64{0.5, 1}; !reflect.DeepEqual(got.OutcomePrices, want) {
		t.Errorf("OutcomePrices = %v, want %v", got.OutcomePrices, want)
	}
	if got.Tokens[0].TokenID != "" {
		t.Errorf("member without Yes got token %q", got.Tokens[0].TokenID)
	}
	if got.Question != noYes.Question {
		t.Errorf("Question = %q, want first member question", got.Question)
	}
}

func TestWrapBinary(t *testing.T) {
	a := New(DefaultTuning())
	m := yesNo("5", "Will it rain?", 0.25, 100)
	got := a.WrapBinary(m)

	if got.ID != "5" || got.Synthesized {
		t.Errorf("ID/Synthesized = %q/%v", got.ID, got.Synthesized)
	}
	if want := []string{"Yes", "No"}; !reflect.DeepEqual(got.Outcomes, want) {
		t.Errorf("Outcomes = %v", got.Outcomes)
	}
	if len(got.Tokens) != 2 || got.Tokens[1].TokenID != "tok-no-5" || got.Tokens[1].Price != 0.75 {
		t.Errorf("Tokens = %+v", got.Tokens)
	}

	m.TokenIDs = [2]string{}
	if got := a.WrapBinary(m); got.Tokens != nil {
		t.Errorf("Tokens = %+v, want none without token ids", got.Tokens)
	}
}

func TestMerge(t *testing.T) {
	a := New(DefaultTuning())
	m1 := yesNo("1", "Will A win?", 0.5, 10)
	m2 := yesNo("2", "Will B win?", 0.5, 10)
	m3 := yesNo("3", "Will it rain?", 0.5, 10)
	m4 := yesNo("4", "Will it snow?", 0.5, 10)

	synth, ok := a.Synthesize(domain.EventGroup{ID: "e", Title: "Who wins?", Markets: []domain.RawBinaryMarket{m1, m2}})
	if !ok {
		t.Fatal("Synthesize returned false")
	}

	got := a.Merge([]domain.RawBinaryMarket{m3, m1, m4, m3}, []domain.Market{synth})
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	if want := []string{"event-e", "3", "4"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("merged ids = %v, want %v", ids, want)
	}

	seen := map[string]bool{}
	for _, m := range got {
		for _, c := range m.ConditionIDs {
			if seen[c] {
				t.Errorf("condition id %s appears twice", c)
			}
			seen[c] = true
		}
	}
}

func TestMergeEmpty(t *testing.T) {
	a := New(DefaultTuning())
	if got := a.Merge(nil, nil); len(got) != 0 {
		t.Errorf("Merge(nil, nil) = %v", got)
	}
}

func multi(id string, vol24 float64, prices ...float64) domain.Market {
	m := domain.Market{ID: id, Volume24h: vol24, Volume: vol24 * 10}
	for i, p := range prices {
		label := fmt.Sprint("o", i)
		m.Outcomes = append(m.Outcomes, label)
		m.OutcomePrices = append(m.OutcomePrices, p)
		m.Tokens = append(m.Tokens, domain.Token{TokenID: id + label, OutcomeLabel: label, Price: p})
	}
	return m
}

func TestRankTrending(t *testing.T) {
	a := New(DefaultTuning())
	binary := multi("bin", 110, 0.5, 0.5)
	three := multi("three", 100, 0.2, 0.3, 0.5) // 100 * 1.2 = 120
	tieA := multi("tieA", 50, 0.5, 0.5)
	tieB := multi("tieB", 50, 0.5, 0.5)

	got := a.RankTrending([]domain.Market{tieA, binary, tieB, three})
	ids := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	if want := []string{"three", "bin", "tieA", "tieB"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestRankTrendingLimit(t *testing.T) {
	a := New(DefaultTuning())
	in := make([]domain.Market, 250)
	for i := range in {
		in[i] = multi(fmt.Sprint(i), float64(i%17), 0.5, 0.5)
	}
	got := a.RankTrending(in)
	if len(got) != 100 {
		t.Fatalf("len = %d, want 100", len(got))
	}
	for i := 1; i < len(got); i++ {
		if a.TrendingScore(got[i]) > a.TrendingScore(got[i-1]) {
			t.Fatalf("not sorted at %d", i)
		}
	}
}

func TestRankTrendingNonFiniteVolume(t *testing.T) {
	a := New(DefaultTuning())
	low := multi("a", 1, 0.5, 0.5)
	bad := multi("bad", math.NaN(), 0.5, 0.5)
	inf := multi("inf", math.Inf(-1), 0.5, 0.5)
	high := multi("c", 500, 0.5, 0.5)

	got := a.RankTrending([]domain.Market{low, bad, inf, high})
	ids := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	if want := []string{"c", "a", "bad", "inf"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestRankProfitable(t *testing.T) {
	a := New(DefaultTuning())
	oneToken := multi("one", 1000, 0.9)
	noTokens := domain.Market{ID: "none", Volume: 1e6, Outcomes: []string{"Yes", "No"}}
	wide := multi("wide", 10, 0.1, 0.9)
	narrow := multi("narrow", 10, 0.45, 0.55)
	flatZero := domain.Market{ID: "flat", Tokens: []domain.Token{{Price: 0.5}, {Price: 0.5}}}

	got := a.RankProfitable([]domain.Market{oneToken, narrow, noTokens, wide, flatZero})
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	if want := []string{"wide", "narrow"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ranked = %v, want %v", ids, want)
	}
}

func TestProfitableScoreBoost(t *testing.T) {
	a := New(DefaultTuning())
	bin := multi("b", 0, 0.2, 0.8)
	tri := multi("t", 0, 0.2, 0.5, 0.8)
	if got, want := a.ProfitableScore(tri), a.ProfitableScore(bin)*1.15; got-want > 1e-9 || want-got > 1e-9 {
		t.Errorf("multi-outcome score = %v, want %v", got, want)
	}
}

func TestNewFillsDefaults(t *testing.T) {
	got := New(Tuning{}).Tuning()
	if !reflect.DeepEqual(got, DefaultTuning()) {
		t.Errorf("Tuning = %+v, want defaults", got)
	}
}
