package agent

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Boundary is a misclassification the prober found: either a weak
// boundary (expected detection missed) or over-detection (a benign
// input flagged).
type Boundary struct {
	Type       string  `json:"type"`
	AttackID   string  `json:"attack_id"`
	Payload    string  `json:"payload"`
	Technique  string  `json:"technique"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Bin        int     `json:"bin"`
}

// BoundaryProber maps the target's decision boundary by replaying
// labeled baseline samples and recording where the target disagrees
// with the labels.
type BoundaryProber struct {
	BaseAgent
	scn    scenario.Scenario
	target scenario.PurpleAgent
}

// NewBoundaryProber creates a prober bound to one scenario and target.
func NewBoundaryProber(id string, kb knowledge.Base, scn scenario.Scenario, target scenario.PurpleAgent, logger *zap.Logger) *BoundaryProber {
	caps := types.AgentCapabilities{
		Capabilities: types.NewCapabilitySet(types.CapabilityProbe),
		Role:         types.RoleBoundaryProber,
		AvgLatencyMS: 100,
	}
	return &BoundaryProber{
		BaseAgent: newBaseAgent(id, caps, kb, logger),
		scn:       scn,
		target:    target,
	}
}

// CanExecute reports whether the task is a boundary probe.
func (p *BoundaryProber) CanExecute(task *types.Task) bool {
	return task != nil && task.Type == types.TaskProbe
}

// Execute replays up to NumProbes baseline samples for the requested
// technique and returns the boundaries found along with the raw
// attack/result pairs for the run accumulator.
func (p *BoundaryProber) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params, ok := task.Params.(types.ProbeParams)
	if !ok {
		return errResult("probe task %s carries %T, want ProbeParams", task.TaskID, task.Params), nil
	}
	if params.Technique == "" {
		return errResult("probe task %s missing technique", task.TaskID), nil
	}
	numProbes := params.NumProbes
	if numProbes <= 0 {
		numProbes = 20
	}

	samples := p.baselineSamples(params.Technique)
	if len(samples) > numProbes {
		samples = samples[:numProbes]
	}

	var (
		attacks    []*types.Attack
		results    []*types.TestResult
		boundaries []Boundary
		detected   int
	)
	for _, sample := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attack := p.scn.CreateAttack(params.Technique, sample.Payload, map[string]string{
			"probe_type": "baseline",
		})
		attack.IsMalicious = sample.IsMalicious
		attack.ExpectedDetection = sample.IsMalicious

		result := p.scn.ExecuteAttack(ctx, attack, p.target)
		attacks = append(attacks, attack)
		results = append(results, result)
		if !result.IsValid {
			continue
		}
		if result.Detected {
			detected++
		}
		if b := classifyBoundary(attack, result); b != nil {
			boundaries = append(boundaries, *b)
		}
	}

	// High-confidence boundaries first; they are the most actionable
	// regions for the exploitation phase.
	sort.SliceStable(boundaries, func(i, j int) bool {
		return boundaries[i].Confidence > boundaries[j].Confidence
	})

	detectionRate := 0.0
	if len(results) > 0 {
		detectionRate = float64(detected) / float64(len(results))
	}

	p.share("boundary", map[string]any{
		"technique":      params.Technique,
		"boundaries":     boundaries,
		"num_probes":     len(results),
		"detection_rate": detectionRate,
		"agent_name":     p.target.Name(),
	}, "boundary", params.Technique)

	p.recordContribution()
	return okResult(map[string]any{
		"technique":      params.Technique,
		"boundaries":     boundaries,
		"attacks":        attacks,
		"results":        results,
		"detection_rate": detectionRate,
	}), nil
}

// classifyBoundary returns a boundary when the target disagrees with
// the sample's label, nil otherwise.
func classifyBoundary(attack *types.Attack, result *types.TestResult) *Boundary {
	switch {
	case attack.ExpectedDetection && !result.Detected:
		// A missed malicious sample is a weak boundary; low target
		// confidence means we are deep inside the blind spot.
		return &Boundary{
			Type:       "weak_boundary",
			AttackID:   attack.AttackID,
			Payload:    attack.Payload,
			Technique:  attack.Technique,
			Reason:     "false_negative",
			Confidence: 1.0 - result.Confidence,
			Bin:        confidenceBin(1.0 - result.Confidence),
		}
	case !attack.ExpectedDetection && result.Detected:
		return &Boundary{
			Type:       "over_detection",
			AttackID:   attack.AttackID,
			Payload:    attack.Payload,
			Technique:  attack.Technique,
			Reason:     "false_positive",
			Confidence: result.Confidence,
			Bin:        confidenceBin(result.Confidence),
		}
	default:
		return nil
	}
}

// confidenceBin maps a confidence in [0,1] to one of ten boundary bins.
func confidenceBin(confidence float64) int {
	bin := int(confidence * 10)
	if bin > 9 {
		bin = 9
	}
	if bin < 0 {
		bin = 0
	}
	return bin
}

func (p *BoundaryProber) baselineSamples(technique string) []scenario.BaselineSample {
	var out []scenario.BaselineSample
	for _, sample := range p.scn.BaselineDataset() {
		if sample.Technique == technique {
			out = append(out, sample)
		}
	}
	return out
}
