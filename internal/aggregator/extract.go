package aggregator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxLabelLength caps the fallback label, ellipsis included.
const MaxLabelLength = 50

// Rule is one entry of the outcome-label extraction chain. Apply returns the
// label and true when the rule matches the question.
type Rule struct {
	Name  string
	Apply func(question string) (string, bool)
}

// rules is evaluated top to bottom and the first match wins. More specific
// phrasings come first so they are not swallowed by the generic subject rule.
var rules = []Rule{
	literalRule("draw", `(?i)\bdraw\b`, "Draw"),
	literalRule("not_win", `(?i)\bnot\s+win\b`, "Not win"),
	captureRule("superlative",
		`(?i)^will\s+(?:the\s+)?(.+?)\s+(?:have|be|get|receive|win|record)\s+the\s+(?:largest|most|highest|biggest|best|fewest|lowest|smallest)\b`),
	{Name: "margin", Apply: applyMargin},
	captureRule("count",
		`(?i)\bwin\s+((?:\d{1,3}\+?|no|zero|one|two|three|four|five|six|seven|eight|nine|ten)\s+(?:or\s+more\s+)?[a-z]+)`),
	captureRule("ordinal",
		`(?i)^will\s+(?:the\s+)?(.+?)\s+(?:finish|place|come|end)\s+(?:in\s+)?(?:1st|2nd|3rd|\d+th|first|second|third|fourth|fifth|last|top\s+\d+)\b`),
	// Place names are matched case-sensitively: "win the NBA Finals in the"
	// must not yield "the NBA Finals".
	captureRule("place", `\bwin\s+([A-Z][\w.'-]*(?:\s+[A-Z][\w.'-]*)*)\s+in\s+the\b`),
	{Name: "price_range", Apply: applyPriceRange},
	{Name: "endorsement", Apply: applyEndorsement},
	captureRule("dated_win",
		`(?i)^will\s+(?:the\s+)?(.+?)\s+win\b.*\b(?:on|by|before|after|in)\s+(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?|\d{4}|q[1-4])\b`),
	captureRule("subject",
		`(?i)^will\s+(?:the\s+)?(.+?)\s+(?:win|be\s+elected|be\s+the|be\s+named|be\s+nominated|be\s+appointed|become)\b`),
	{Name: "price_target", Apply: applyPriceTarget},
}

// Rules returns a copy of the ordered extraction chain.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Extract derives a short outcome label from a free-text question. It is
// total: when no rule matches, a cleaned and truncated copy of the question
// is returned, and an empty question yields "Unknown".
func Extract(question string) string {
	q := normalizeSpace(question)
	for _, r := range rules {
		if label, ok := r.Apply(q); ok {
			return label
		}
	}
	return fallbackLabel(q)
}

// ExtractWithRule is Extract, also reporting which rule produced the label
// ("fallback" when none matched).
func ExtractWithRule(question string) (label, rule string) {
	q := normalizeSpace(question)
	for _, r := range rules {
		if l, ok := r.Apply(q); ok {
			return l, r.Name
		}
	}
	return fallbackLabel(q), "fallback"
}

// DistinctLabels extracts one label per question. When a rule gives the same
// label to several questions, those questions are extracted again without
// that rule until the labels differ or only the fallback remains.
func DistinctLabels(questions []string) []string {
	labels := make([]string, len(questions))
	ruleOf := make([]string, len(questions))
	skips := make([]map[string]bool, len(questions))
	for i, q := range questions {
		labels[i], ruleOf[i] = ExtractWithRule(q)
	}

	for range len(rules) + 1 {
		byLabel := make(map[string][]int, len(labels))
		for i, l := range labels {
			byLabel[l] = append(byLabel[l], i)
		}
		changed := false
		for _, idx := range byLabel {
			if len(idx) < 2 {
				continue
			}
			for _, i := range idx {
				if ruleOf[i] == "fallback" {
					continue
				}
				if skips[i] == nil {
					skips[i] = make(map[string]bool)
				}
				skips[i][ruleOf[i]] = true
				labels[i], ruleOf[i] = extractSkipping(questions[i], skips[i])
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels
}

// extractSkipping is ExtractWithRule with the named rules disabled.
func extractSkipping(question string, skip map[string]bool) (label, rule string) {
	q := normalizeSpace(question)
	for _, r := range rules {
		if skip[r.Name] {
			continue
		}
		if l, ok := r.Apply(q); ok {
			return l, r.Name
		}
	}
	return fallbackLabel(q), "fallback"
}

func literalRule(name, pattern, label string) Rule {
	re := regexp.MustCompile(pattern)
	return Rule{Name: name, Apply: func(q string) (string, bool) {
		return label, re.MatchString(q)
	}}
}

func captureRule(name, pattern string) Rule {
	re := regexp.MustCompile(pattern)
	return Rule{Name: name, Apply: func(q string) (string, bool) {
		m := re.FindStringSubmatch(q)
		if m == nil {
			return "", false
		}
		label := cleanLabel(m[1])
		return label, label != ""
	}}
}

var (
	marginRe = regexp.MustCompile(
		`(?i)\bwin\s+by\s+((?:more\s+than\s+|less\s+than\s+|over\s+|under\s+)?\d+(?:\.\d+)?%?(?:\s*[-–]\s*\d+(?:\.\d+)?%?)?\+?(?:\s+(?:percentage\s+points|points?|pts|seats?|votes?|goals?|runs?))?)`)
	dashRe = regexp.MustCompile(`\s*[-–]\s*`)
)

func applyMargin(q string) (string, bool) {
	m := marginRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	return cleanLabel(dashRe.ReplaceAllString(m[1], "-")), true
}

const moneyPattern = `\$\s?(\d[\d,]*(?:\.\d+)?)\s?([kmbt])?\b`

var (
	betweenRe = regexp.MustCompile(`(?i)\bbetween\s+` + moneyPattern + `\s+(?:and|to|-)\s+\$?\s?(\d[\d,]*(?:\.\d+)?)\s?([kmbt])?\b`)
	belowRe   = regexp.MustCompile(`(?i)\b(?:less\s+than|below|under|lower\s+than)\s+` + moneyPattern)
	aboveRe   = regexp.MustCompile(`(?i)\b(?:above|more\s+than|greater\s+than|over|higher\s+than|at\s+least)\s+` + moneyPattern)
	reachRe   = regexp.MustCompile(`(?i)\b(?:reach|hit|touch)\s+` + moneyPattern)
	dipRe     = regexp.MustCompile(`(?i)\b(?:dip|fall|drop|sink|crash)\s+(?:to|below)\s+` + moneyPattern)
)

func applyPriceRange(q string) (string, bool) {
	if m := betweenRe.FindStringSubmatch(q); m != nil {
		return formatMoney(m[1], m[2]) + "-" + formatMoney(m[3], m[4]), true
	}
	if m := belowRe.FindStringSubmatch(q); m != nil {
		return "<" + formatMoney(m[1], m[2]), true
	}
	if m := aboveRe.FindStringSubmatch(q); m != nil {
		return ">" + formatMoney(m[1], m[2]), true
	}
	return "", false
}

func applyPriceTarget(q string) (string, bool) {
	if m := dipRe.FindStringSubmatch(q); m != nil {
		return "↓ " + formatMoney(m[1], m[2]), true
	}
	if m := reachRe.FindStringSubmatch(q); m != nil {
		return "↑ " + formatMoney(m[1], m[2]), true
	}
	return "", false
}

var (
	noEndorsementRe = regexp.MustCompile(`(?i)\b(?:no\s+endorsement|not\s+endorse|endorse\s+(?:no\s*one|nobody|none|no\s+candidate))\b`)
	endorseRe       = regexp.MustCompile(`(?i)\bendorse(?:s|ment\s+of)?\s+(.+?)(?:\s+(?:for|in|before|by|as|during)\b.*)?\??$`)
)

func applyEndorsement(q string) (string, bool) {
	if noEndorsementRe.MatchString(q) {
		return "No endorsement", true
	}
	m := endorseRe.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	label := cleanLabel(m[1])
	return label, label != ""
}

// formatMoney renders an amount with an optional k/m/b/t suffix as a dollar
// figure with thousands separators, e.g. ("100", "k") -> "$100,000".
func formatMoney(num, suffix string) string {
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return "$" + num + suffix
	}
	switch strings.ToLower(suffix) {
	case "k":
		v *= 1e3
	case "m":
		v *= 1e6
	case "b":
		v *= 1e9
	case "t":
		v *= 1e12
	}

	cents := int64(math.Round(v * 100))
	s := groupThousands(strconv.FormatInt(cents/100, 10))
	if frac := cents % 100; frac > 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%02d", frac), "0")
	}
	return "$" + s
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

var (
	leadingWillRe = regexp.MustCompile(`(?i)^will\s+(?:the\s+)?`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

func fallbackLabel(q string) string {
	s := leadingWillRe.ReplaceAllString(q, "")
	s = strings.TrimSpace(strings.TrimRight(s, "? "))
	if s == "" {
		s = strings.TrimSpace(q)
	}
	if s == "" {
		return "Unknown"
	}
	return truncate(s, MaxLabelLength)
}

// truncate shortens s to at most limit runes, ellipsis included.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-3])) + "..."
}

func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "?.,;: ")
	return strings.TrimSpace(s)
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
