// Package scoring ranks team aggregates into a final table. Pure functions;
// the durable store owns the aggregates themselves.
package scoring

import (
	"math"
	"sort"
)

// TeamAggregate is the per-team input to ranking.
type TeamAggregate struct {
	TeamID           string `json:"teamId"`
	Name             string `json:"name"`
	Score            int    `json:"score"`
	CumulativeTimeMS int64  `json:"cumulativeTimeMs"`
}

// RankedTeam is one row of the final table, 1-based rank.
type RankedTeam struct {
	TeamAggregate
	Rank int `json:"rank"`
}

// Rank orders teams by score descending, then cumulative answer time
// ascending (faster wins the tie). Teams with identical (score, time)
// share a rank; the team following a tied group takes its positional
// rank (competition ranking). Output is deterministic under any input
// ordering: ties in both keys fall back to team ID.
func Rank(teams []TeamAggregate) []RankedTeam {
	sorted := make([]TeamAggregate, len(teams))
	copy(sorted, teams)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].CumulativeTimeMS != sorted[j].CumulativeTimeMS {
			return sorted[i].CumulativeTimeMS < sorted[j].CumulativeTimeMS
		}
		return sorted[i].TeamID < sorted[j].TeamID
	})

	ranked := make([]RankedTeam, len(sorted))
	for i, agg := range sorted {
		rank := i + 1
		if i > 0 && agg.Score == sorted[i-1].Score && agg.CumulativeTimeMS == sorted[i-1].CumulativeTimeMS {
			rank = ranked[i-1].Rank
		}
		ranked[i] = RankedTeam{TeamAggregate: agg, Rank: rank}
	}
	return ranked
}

// Accuracy returns correct/total as a percentage rounded to two decimals.
// A team with no submissions has 0 accuracy, not NaN.
func Accuracy(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(total)*100*100) / 100
}
