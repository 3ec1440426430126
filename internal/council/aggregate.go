package council

import (
	"sort"

	"llm-council-relay/internal/provider"
)

// Aggregate computes the cross-evaluator ranking for every originally
// queried provider. It is a pure function of the completed Stage 2 results,
// so its output does not depend on the order peer calls finished in.
//
// For each provider the 1-based position of its label is collected across
// all parsed rankings; averageRank is the arithmetic mean (lower is
// better). Providers nobody ranked are still included, with a nil average.
// Output order: ascending averageRank, ties broken by higher
// rankingsCount, then by original submission order; unranked providers
// trail in submission order.
func Aggregate(queried []provider.Resolved, stage2 []Stage2Result, labelToModel map[string]string) []AggregateRanking {
	// Positions per model, keyed by the model id the labels map to.
	positions := make(map[string][]int)
	for _, ranking := range stage2 {
		for pos, label := range ranking.ParsedRanking {
			if model, ok := labelToModel[label]; ok {
				positions[model] = append(positions[model], pos+1)
			}
		}
	}

	type entry struct {
		ranking AggregateRanking
		order   int // original submission order, for deterministic ties
	}

	entries := make([]entry, 0, len(queried))
	for i, p := range queried {
		agg := AggregateRanking{ProviderID: p.ID, Model: p.Model}
		if ranks := positions[p.Model]; len(ranks) > 0 {
			sum := 0
			for _, r := range ranks {
				sum += r
			}
			avg := float64(sum) / float64(len(ranks))
			agg.AverageRank = &avg
			agg.RankingsCount = len(ranks)
		}
		entries = append(entries, entry{ranking: agg, order: i})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].ranking, entries[j].ranking
		switch {
		case a.AverageRank == nil && b.AverageRank == nil:
			return entries[i].order < entries[j].order
		case a.AverageRank == nil:
			return false
		case b.AverageRank == nil:
			return true
		case *a.AverageRank != *b.AverageRank:
			return *a.AverageRank < *b.AverageRank
		case a.RankingsCount != b.RankingsCount:
			return a.RankingsCount > b.RankingsCount
		default:
			return entries[i].order < entries[j].order
		}
	})

	out := make([]AggregateRanking, len(entries))
	for i, e := range entries {
		out[i] = e.ranking
	}
	return out
}
