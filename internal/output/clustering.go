package output

import (
	"math"
	"sort"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/evolution"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// EvasionCluster groups evasions whose payloads behave alike
type EvasionCluster struct {
	ID             int             `json:"id" yaml:"id"`
	Representative string          `json:"representative" yaml:"representative"`
	Techniques     []string        `json:"techniques" yaml:"techniques"`
	Members        []*types.Attack `json:"-" yaml:"-"`
	Size           int             `json:"size" yaml:"size"`
}

// ClusterEvasions groups the run's evasions into at most k clusters by
// behavior-descriptor distance. Fewer evasions than k yields fewer
// clusters; empty clusters are dropped.
func ClusterEvasions(eval *types.EvaluationResult, k int) []EvasionCluster {
	byID := make(map[string]*types.Attack, len(eval.Attacks))
	for _, a := range eval.Attacks {
		byID[a.AttackID] = a
	}
	var evaded []*types.Attack
	for _, r := range eval.Evasions() {
		if a, ok := byID[r.AttackID]; ok {
			evaded = append(evaded, a)
		}
	}
	if len(evaded) == 0 || k <= 0 {
		return nil
	}
	if k > len(evaded) {
		k = len(evaded)
	}

	descriptors := make([]evolution.BehaviorDescriptor, len(evaded))
	for i, a := range evaded {
		descriptors[i] = evolution.DescribePayload(a.Payload)
	}

	centroids := make([]evolution.BehaviorDescriptor, k)
	for i := range centroids {
		centroids[i] = descriptors[i*len(evaded)/k]
	}

	assignment := make([]int, len(evaded))
	for iter := 0; iter < 50; iter++ {
		changed := false
		for i, d := range descriptors {
			nearest, nearestDist := 0, math.MaxFloat64
			for ci, c := range centroids {
				if dist := d.Distance(c); dist < nearestDist {
					nearest, nearestDist = ci, dist
				}
			}
			if assignment[i] != nearest {
				assignment[i] = nearest
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		for ci := range centroids {
			var sum evolution.BehaviorDescriptor
			n := 0
			for i, a := range assignment {
				if a != ci {
					continue
				}
				sum.Length += descriptors[i].Length
				sum.SpecialCount += descriptors[i].SpecialCount
				sum.DigitCount += descriptors[i].DigitCount
				sum.Entropy += descriptors[i].Entropy
				n++
			}
			if n > 0 {
				centroids[ci] = evolution.BehaviorDescriptor{
					Length:       sum.Length / float64(n),
					SpecialCount: sum.SpecialCount / float64(n),
					DigitCount:   sum.DigitCount / float64(n),
					Entropy:      sum.Entropy / float64(n),
				}
			}
		}
	}

	clusters := make([]EvasionCluster, k)
	for ci := range clusters {
		clusters[ci].ID = ci
	}
	for i, ci := range assignment {
		clusters[ci].Members = append(clusters[ci].Members, evaded[i])
	}

	var out []EvasionCluster
	for _, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		c.Size = len(c.Members)
		// The member closest to the centroid represents the cluster.
		best, bestDist := 0, math.MaxFloat64
		for i, m := range c.Members {
			if dist := evolution.DescribePayload(m.Payload).Distance(centroids[c.ID]); dist < bestDist {
				best, bestDist = i, dist
			}
		}
		c.Representative = c.Members[best].Payload
		c.Techniques = uniqueTechniques(c.Members)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	for i := range out {
		out[i].ID = i
	}
	return out
}

func uniqueTechniques(attacks []*types.Attack) []string {
	seen := make(map[string]bool)
	var techniques []string
	for _, a := range attacks {
		if !seen[a.Technique] {
			seen[a.Technique] = true
			techniques = append(techniques, a.Technique)
		}
	}
	sort.Strings(techniques)
	return techniques
}
