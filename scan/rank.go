package scan

import "sort"

// Rank filters the analyses to included forks, orders them by last update
// descending with full name ascending as the tiebreak, and truncates to
// topN when topN > 0. The order is total and deterministic regardless of
// worker completion order.
func Rank(analyses []ForkAnalysis, topN int) []ForkAnalysis {
	ranked := make([]ForkAnalysis, 0, len(analyses))
	for _, a := range analyses {
		if a.Include {
			ranked = append(ranked, a)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		ti, tj := ranked[i].Fork.UpdatedAt, ranked[j].Fork.UpdatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ranked[i].Fork.FullName < ranked[j].Fork.FullName
	})

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
