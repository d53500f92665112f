package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts a JSON number, a numeric string, or null. A string that
// does not hold a finite number decodes to NaN so that one bad field does not
// fail the whole response; ToRawMarket rejects the record instead.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(n, 0) {
		n = math.NaN()
	}
	*f = flexFloat(n)
	return nil
}

// finite reports whether the decoded value is a usable number.
func (f flexFloat) finite() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// flexList holds a list field that the Gamma API sends either as a JSON
// array or as a JSON-encoded string containing an array, e.g.
// "[\"Yes\",\"No\"]". Raw keeps the undecoded value so parsing errors surface
// at conversion time, where a single record can be skipped.
type flexList struct {
	Raw json.RawMessage
}

func (l *flexList) UnmarshalJSON(data []byte) error {
	l.Raw = append(l.Raw[:0], data...)
	return nil
}

// present reports whether the field carried a non-null, non-empty value.
func (l flexList) present() bool {
	raw := bytes.TrimSpace(l.Raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte(`""`))
}

// items decodes the list into its elements as strings. Numbers are rendered
// with strconv so prices may arrive as ["0.5","0.5"] or [0.5,0.5].
func (l flexList) items() ([]string, error) {
	raw := bytes.TrimSpace(l.Raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		raw = []byte(inner)
	}
	var elems []any
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		switch v := e.(type) {
		case string:
			out = append(out, strings.TrimSpace(v))
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			return nil, fmt.Errorf("unexpected list element %T", e)
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Slug     string      `json:"slug"`
	Category string      `json:"category"`
	Image    string      `json:"image"`
	Closed   flexBool    `json:"closed"`
	Markets  []APIMarket `json:"markets"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API. The
// single-market endpoint may also answer with an event-shaped object, in which
// case Markets and Title are populated instead.
type APIMarket struct {
	ID                string    `json:"id"`
	Question          string    `json:"question"`
	ConditionID       string    `json:"condition_id"`
	ConditionIDCamel  string    `json:"conditionId"`
	Slug              string    `json:"slug"`
	Category          string    `json:"category"`
	Image             string    `json:"image"`
	Active            *flexBool `json:"active"`
	Closed            flexBool  `json:"closed"`
	Outcomes          flexList  `json:"outcomes"`      // array or JSON-encoded string
	OutcomePrices     flexList  `json:"outcomePrices"` // array or JSON-encoded string
	ClobTokenIDs      flexList  `json:"clobTokenIds"`
	ClobTokenIDsSnake flexList  `json:"clob_token_ids"`
	Volume            flexFloat `json:"volume"`
	Volume24hr        flexFloat `json:"volume24hr"`
	Liquidity         flexFloat `json:"liquidity"`
	EndDateISO        string    `json:"end_date_iso"`
	EndDate           string    `json:"endDate"`

	// Event-shaped responses from GET /markets/:id.
	Title   string      `json:"title"`
	Markets []APIMarket `json:"markets"`
}

// IsEvent reports whether the payload is event-shaped (carries a markets array).
func (m *APIMarket) IsEvent() bool {
	return m.Markets != nil
}

// AsEvent reinterprets an event-shaped market payload as an APIEvent.
func (m *APIMarket) AsEvent() APIEvent {
	return APIEvent{
		ID:       m.ID,
		Title:    m.Title,
		Slug:     m.Slug,
		Category: m.Category,
		Image:    m.Image,
		Closed:   m.Closed,
		Markets:  m.Markets,
	}
}

// searchResponse is the body of GET /public-search.
type searchResponse struct {
	Events []APIEvent `json:"events"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToRawMarket normalizes a Gamma APIMarket into a strict RawBinaryMarket.
//
// Absent outcomes default to Yes/No and absent prices to 0.5/0.5. Fields that
// are present but unparseable, or that do not hold exactly two entries, make
// the record malformed and an error wrapping domain.ErrMalformedMarket is
// returned so the caller can skip it.
func (m *APIMarket) ToRawMarket() (domain.RawBinaryMarket, error) {
	rm := domain.RawBinaryMarket{
		ID:            m.ID,
		ConditionID:   firstNonEmpty(m.ConditionID, m.ConditionIDCamel),
		Question:      strings.TrimSpace(m.Question),
		Slug:          m.Slug,
		Category:      m.Category,
		Image:         m.Image,
		Outcomes:      [2]string{"Yes", "No"},
		OutcomePrices: [2]float64{0.5, 0.5},
		Volume:        float64(m.Volume),
		Volume24h:     float64(m.Volume24hr),
		Liquidity:     float64(m.Liquidity),
		Active:        m.Active == nil || bool(*m.Active),
		Closed:        bool(m.Closed),
	}
	if rm.ID == "" && rm.ConditionID == "" {
		return domain.RawBinaryMarket{}, fmt.Errorf("%w: missing id", domain.ErrMalformedMarket)
	}
	if rm.ID == "" {
		rm.ID = rm.ConditionID
	}
	for name, v := range map[string]flexFloat{"volume": m.Volume, "volume24hr": m.Volume24hr, "liquidity": m.Liquidity} {
		if !v.finite() {
			return domain.RawBinaryMarket{}, fmt.Errorf("%w: market %s has non-numeric %s", domain.ErrMalformedMarket, rm.ID, name)
		}
	}

	if m.Outcomes.present() {
		labels, err := m.Outcomes.items()
		if err != nil {
			return domain.RawBinaryMarket{}, fmt.Errorf("%w: market %s outcomes: %v", domain.ErrMalformedMarket, rm.ID, err)
		}
		if len(labels) != 2 {
			return domain.RawBinaryMarket{}, fmt.Errorf("%w: market %s has %d outcomes", domain.ErrMalformedMarket, rm.ID, len(labels))
		}
		rm.Outcomes = [2]string{labels[0], labels[1]}
	}

	if m.OutcomePrices.present() {
		raw, err := m.OutcomePrices.items()
		if err != nil {
			return domain.RawBinaryMarket{}, fmt.Errorf("%w: market %s prices: %v", domain.ErrMalformedMarket, rm.ID, err)
		}
		if len(raw) != 2 {
			return domain.RawBinaryMarket{}, fmt.Errorf("%w: market %s has %d prices", domain.ErrMalformedMarket, rm.ID, len(raw))
		}
		for i, s := range raw {
			p, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
				return domain.RawBinaryMarket{}, fmt.Errorf("%w: market %s price %q", domain.ErrMalformedMarket, rm.ID, s)
			}
			rm.OutcomePrices[i] = clampPrice(p)
		}
	}

	tokens := m.ClobTokenIDs
	if !tokens.present() {
		tokens = m.ClobTokenIDsSnake
	}
	if tokens.present() {
		ids, err := tokens.items()
		if err != nil {
			return domain.RawBinaryMarket{}, fmt.Errorf("%w: market %s token ids: %v", domain.ErrMalformedMarket, rm.ID, err)
		}
		for i := 0; i < len(ids) && i < 2; i++ {
			rm.TokenIDs[i] = ids[i]
		}
	}

	if ts := firstNonEmpty(m.EndDateISO, m.EndDate); ts != "" {
		if t, ok := parseEndDate(ts); ok {
			rm.EndDate = &t
		}
	}

	return rm, nil
}

// ToEventGroup converts an APIEvent into an EventGroup. Malformed member
// markets are skipped and reported through skipped.
func (e *APIEvent) ToEventGroup() (group domain.EventGroup, skipped []error) {
	group = domain.EventGroup{
		ID:       e.ID,
		Slug:     e.Slug,
		Title:    strings.TrimSpace(e.Title),
		Category: e.Category,
		Image:    e.Image,
		Markets:  make([]domain.RawBinaryMarket, 0, len(e.Markets)),
	}
	for i := range e.Markets {
		rm, err := e.Markets[i].ToRawMarket()
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		if rm.Category == "" {
			rm.Category = e.Category
		}
		if rm.Image == "" {
			rm.Image = e.Image
		}
		group.Markets = append(group.Markets, rm)
	}
	return group, skipped
}

func parseEndDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func clampPrice(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
