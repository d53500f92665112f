package aggregator

import (
	"github.com/alanyoungcy/polyview/internal/domain"
)

// Merge combines synthesized markets with trending binary markets into one
// collection. Synthesized markets come first in their given order, followed
// by every trending market whose key was not folded into a synthesized
// market, in source order. No provider market appears twice in the result.
func (a *Aggregator) Merge(trending []domain.RawBinaryMarket, synthesized []domain.Market) []domain.Market {
	seen := make(map[string]struct{}, len(trending)+len(synthesized)*4)
	out := make([]domain.Market, 0, len(trending)+len(synthesized))

	for _, s := range synthesized {
		if anySeen(seen, s.ConditionIDs) || anySeen(seen, s.MemberIDs) {
			continue
		}
		markSeen(seen, s.ConditionIDs)
		markSeen(seen, s.MemberIDs)
		out = append(out, s)
	}

	for _, m := range trending {
		if _, ok := seen[m.Key()]; ok {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.Key()] = struct{}{}
		seen[m.ID] = struct{}{}
		out = append(out, a.WrapBinary(m))
	}
	return out
}

func anySeen(seen map[string]struct{}, ids []string) bool {
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}

func markSeen(seen map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
}
