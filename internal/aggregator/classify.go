package aggregator

import (
	"strings"

	"github.com/alanyoungcy/polyview/internal/domain"
)

// IsGroupable reports whether an event's members can be folded into one
// multi-outcome market: at least two members, no more than MaxGroupSize, and
// every member a plain Yes/No pair. A single offending member rejects the
// whole group.
func (a *Aggregator) IsGroupable(members []domain.RawBinaryMarket) bool {
	if len(members) < 2 || len(members) > a.tuning.MaxGroupSize {
		return false
	}
	for i := range members {
		if !isYesNo(members[i].Outcomes) {
			return false
		}
	}
	return true
}

// isYesNo reports whether the labels are exactly {"Yes","No"} in any order,
// case-insensitively.
func isYesNo(labels [2]string) bool {
	a := strings.ToLower(strings.TrimSpace(labels[0]))
	b := strings.ToLower(strings.TrimSpace(labels[1]))
	return (a == "yes" && b == "no") || (a == "no" && b == "yes")
}
