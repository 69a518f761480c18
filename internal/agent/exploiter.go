package agent

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Exploiter generates fresh attacks aimed at a technique and boundary
// region. Seeds come from weak boundaries already on the blackboard and
// from the scenario's malicious baseline; variants come from the
// scenario mutators, with an optional creative path through the
// generator port.
type Exploiter struct {
	BaseAgent
	scn scenario.Scenario
	gen generator.Generator
	rng *rand.Rand
}

// NewExploiter creates an exploiter. A nil generator disables the
// creative path; the deterministic mutator path always works.
func NewExploiter(id string, kb knowledge.Base, scn scenario.Scenario, gen generator.Generator, logger *zap.Logger, seed int64) *Exploiter {
	caps := types.AgentCapabilities{
		Capabilities: types.NewCapabilitySet(types.CapabilityGenerate),
		Role:         types.RoleExploiter,
		RequiresLLM:  gen != nil,
		AvgLatencyMS: 200,
	}
	if gen != nil {
		caps.CostPerInvocation = 0.05
		caps.AvgLatencyMS = 1500
	}
	return &Exploiter{
		BaseAgent: newBaseAgent(id, caps, kb, logger),
		scn:       scn,
		gen:       gen,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// CanExecute reports whether the task is an attack-generation task.
func (e *Exploiter) CanExecute(task *types.Task) bool {
	return task != nil && task.Type == types.TaskGenerate
}

// Execute produces up to NumAttacks new attacks for the requested
// technique, tagged with the boundary bin they target.
func (e *Exploiter) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params, ok := task.Params.(types.GenerateParams)
	if !ok {
		return errResult("generate task %s carries %T, want GenerateParams", task.TaskID, task.Params), nil
	}
	if params.Technique == "" {
		return errResult("generate task %s missing technique", task.TaskID), nil
	}
	numAttacks := params.NumAttacks
	if numAttacks <= 0 {
		numAttacks = 10
	}

	seeds := e.seedPayloads(params.Technique)
	if len(seeds) == 0 {
		return errResult("no seed payloads for technique %s", params.Technique), nil
	}

	var attacks []*types.Attack
	if e.gen != nil {
		attacks = e.generateCreative(ctx, params, seeds, numAttacks)
	}
	attacks = append(attacks, e.generateMutated(params, seeds, numAttacks-len(attacks))...)

	e.share("attack", map[string]any{
		"technique":    params.Technique,
		"boundary_bin": params.BoundaryBin,
		"num_attacks":  len(attacks),
	}, "attack", params.Technique)

	e.recordContribution()
	return okResult(map[string]any{
		"attacks":   attacks,
		"technique": params.Technique,
	}), nil
}

// seedPayloads gathers starting payloads: weak-boundary payloads other
// agents published, then the scenario's own malicious baseline.
func (e *Exploiter) seedPayloads(technique string) []string {
	seen := make(map[string]struct{})
	var seeds []string
	push := func(payload string) {
		if payload == "" {
			return
		}
		if _, dup := seen[payload]; dup {
			return
		}
		seen[payload] = struct{}{}
		seeds = append(seeds, payload)
	}

	for _, entry := range e.kb.Query(knowledge.Filter{EntryType: "boundary", Tags: []string{technique}}) {
		boundaries, ok := entry.Data["boundaries"].([]Boundary)
		if !ok {
			continue
		}
		for _, b := range boundaries {
			if b.Type == "weak_boundary" {
				push(b.Payload)
			}
		}
	}

	for _, sample := range e.scn.BaselineDataset() {
		if sample.Technique == technique && sample.IsMalicious {
			push(sample.Payload)
		}
	}
	return seeds
}

// generateMutated derives variants by running random scenario mutators
// over random seeds until the quota is met.
func (e *Exploiter) generateMutated(params types.GenerateParams, seeds []string, want int) []*types.Attack {
	if want <= 0 {
		return nil
	}
	mutators := e.scn.Mutators()

	var out []*types.Attack
	seen := make(map[string]struct{})
	// Bounded pass count keeps degenerate mutator sets from spinning.
	for pass := 0; pass < want*4 && len(out) < want; pass++ {
		seedAttack := e.scn.CreateAttack(params.Technique, seeds[e.rng.Intn(len(seeds))], map[string]string{
			"generation_source": "exploiter",
			"boundary_bin":      strconv.Itoa(params.BoundaryBin),
		})
		if len(mutators) == 0 {
			out = append(out, seedAttack)
			continue
		}
		mutator := mutators[e.rng.Intn(len(mutators))]
		for _, variant := range mutator.Mutate(seedAttack) {
			if len(out) >= want {
				break
			}
			if _, dup := seen[variant.Hash()]; dup {
				continue
			}
			seen[variant.Hash()] = struct{}{}
			variant.Metadata["boundary_bin"] = strconv.Itoa(params.BoundaryBin)
			out = append(out, variant)
		}
	}
	return out
}

// generateCreative asks the generator port for payload variants and
// falls back silently to the mutator path on any failure.
func (e *Exploiter) generateCreative(ctx context.Context, params types.GenerateParams, seeds []string, want int) []*types.Attack {
	example := seeds[e.rng.Intn(len(seeds))]
	prompt := fmt.Sprintf(`You are a red-team payload engineer testing a %s detector.

Technique: %s
Example payload that the detector struggles with:
%s

Produce %d distinct payload variants for this technique that are likely
to evade keyword or pattern matching while staying semantically valid.

Respond with JSON only: {"payloads": ["...", "..."]}`,
		e.scn.Name(), params.Technique, example, want)

	response, err := e.gen.Generate(ctx, prompt, 800, 0.9)
	if err != nil {
		e.logger.Debug("creative generation failed, using mutators", zap.Error(err))
		return nil
	}

	var parsed struct {
		Payloads []string `json:"payloads"`
	}
	if err := generator.ParseJSONResponse(response, &parsed); err != nil {
		e.logger.Debug("unparseable generation response", zap.Error(err))
		return nil
	}

	var out []*types.Attack
	for _, payload := range parsed.Payloads {
		if payload == "" || len(out) >= want {
			continue
		}
		attack := e.scn.CreateAttack(params.Technique, payload, map[string]string{
			"generation_source": "model",
			"boundary_bin":      strconv.Itoa(params.BoundaryBin),
		})
		out = append(out, attack)
	}
	return out
}
