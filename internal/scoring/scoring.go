// Package scoring computes the composite opportunity score of a cluster
// from its membership aggregates and the synthesized base sub-scores.
package scoring

import (
	"math"

	"github.com/sells-group/painpoint-radar/internal/config"
	"github.com/sells-group/painpoint-radar/internal/model"
)

// Frequency ladder thresholds. Each rung adds its bonus once reached.
type rung struct {
	min   int
	bonus int
}

var (
	memberLadder = []rung{{3, 5}, {5, 5}, {10, 10}, {20, 10}}
	authorLadder = []rung{{2, 5}, {5, 5}}
	sourceLadder = []rung{{2, 5}, {3, 5}}
)

// MaxRegionalBoost is the regional bonus when every member matches the
// target region.
const MaxRegionalBoost = 30

// DefaultWeights returns the canonical weight vector (sum = 1.0).
func DefaultWeights() config.ScoringConfig {
	return config.ScoringConfig{
		FrequencyWeight:   0.20,
		SeverityWeight:    0.20,
		EconomicWeight:    0.20,
		SolvabilityWeight: 0.15,
		CompetitiveWeight: 0.15,
		RegionalWeight:    0.10,
		TargetRegion:      "US",
	}
}

// Input is what the engine needs to know about a cluster.
type Input struct {
	MemberCount   int
	UniqueAuthors int
	UniqueSources int
	RegionMatches int
	Base          model.SubScores
}

// InputFor assembles an Input from a synthesized cluster.
func InputFor(c *model.Cluster) Input {
	in := Input{
		MemberCount:   c.MemberCount,
		UniqueAuthors: c.UniqueAuthorCount,
		UniqueSources: c.UniqueSourceCount,
		RegionMatches: c.RegionMatchCount,
	}
	if c.Brief != nil {
		in.Base = c.Brief.Base
	}
	return in
}

func climb(ladder []rung, n int) int {
	bonus := 0
	for _, r := range ladder {
		if n >= r.min {
			bonus += r.bonus
		}
	}
	return bonus
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Frequency adds the member, author and source ladders to the base estimate.
func Frequency(base, members, authors, sources int) int {
	return clamp(base + climb(memberLadder, members) + climb(authorLadder, authors) + climb(sourceLadder, sources))
}

// Regional boosts the base estimate by up to MaxRegionalBoost in proportion
// to the share of members in the target region.
func Regional(base, matches, members int) int {
	if matches <= 0 || members <= 0 {
		return clamp(base)
	}
	frac := float64(matches) / float64(members)
	if frac > 1 {
		frac = 1
	}
	return clamp(base + int(math.Round(MaxRegionalBoost*frac)))
}

// Total is the weighted sum of the six sub-scores, rounded into [0,100].
func Total(s model.SubScores, w config.ScoringConfig) int {
	sum := w.FrequencyWeight*float64(s.Frequency) +
		w.SeverityWeight*float64(s.Severity) +
		w.EconomicWeight*float64(s.Economic) +
		w.SolvabilityWeight*float64(s.Solvability) +
		w.CompetitiveWeight*float64(s.Competitive) +
		w.RegionalWeight*float64(s.Regional)
	return clamp(int(math.Round(sum)))
}

// Compute returns the final sub-scores and the total for in.
func Compute(in Input, w config.ScoringConfig) (model.SubScores, int) {
	s := model.SubScores{
		Frequency:   Frequency(in.Base.Frequency, in.MemberCount, in.UniqueAuthors, in.UniqueSources),
		Severity:    clamp(in.Base.Severity),
		Economic:    clamp(in.Base.Economic),
		Solvability: clamp(in.Base.Solvability),
		Competitive: clamp(in.Base.Competitive),
		Regional:    Regional(in.Base.Regional, in.RegionMatches, in.MemberCount),
	}
	return s, Total(s, w)
}
