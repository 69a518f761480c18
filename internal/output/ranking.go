package output

import (
	"sort"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// TechniqueRank aggregates detection performance for one technique
type TechniqueRank struct {
	Technique   string  `json:"technique" yaml:"technique"`
	Tested      int     `json:"tested" yaml:"tested"`
	Evasions    int     `json:"evasions" yaml:"evasions"`
	Detections  int     `json:"detections" yaml:"detections"`
	EvasionRate float64 `json:"evasion_rate" yaml:"evasion_rate"`
}

// RankTechniques orders techniques by evasion rate, worst-detected
// first. Invalid results are excluded, ties break on tested volume.
func RankTechniques(eval *types.EvaluationResult) []TechniqueRank {
	byID := make(map[string]*types.Attack, len(eval.Attacks))
	for _, a := range eval.Attacks {
		byID[a.AttackID] = a
	}

	stats := make(map[string]*TechniqueRank)
	for _, r := range eval.TestResults {
		if !r.IsValid {
			continue
		}
		attack, ok := byID[r.AttackID]
		if !ok {
			continue
		}
		rank, ok := stats[attack.Technique]
		if !ok {
			rank = &TechniqueRank{Technique: attack.Technique}
			stats[attack.Technique] = rank
		}
		rank.Tested++
		if r.IsEvasion() {
			rank.Evasions++
		}
		if r.Detected {
			rank.Detections++
		}
	}

	ranks := make([]TechniqueRank, 0, len(stats))
	for _, rank := range stats {
		if rank.Tested > 0 {
			rank.EvasionRate = float64(rank.Evasions) / float64(rank.Tested)
		}
		ranks = append(ranks, *rank)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].EvasionRate != ranks[j].EvasionRate {
			return ranks[i].EvasionRate > ranks[j].EvasionRate
		}
		if ranks[i].Tested != ranks[j].Tested {
			return ranks[i].Tested > ranks[j].Tested
		}
		return ranks[i].Technique < ranks[j].Technique
	})
	return ranks
}
