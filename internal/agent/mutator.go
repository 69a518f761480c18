package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/evolution"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// MutatorAgent drives the evolutionary mutation engine against the
// target. It keeps the engine's population alive across tasks so later
// rounds continue evolving instead of starting over.
type MutatorAgent struct {
	BaseAgent
	scn    scenario.Scenario
	target scenario.PurpleAgent
	engine *evolution.Engine

	generation int
}

// NewMutatorAgent wraps an evolution engine as a coalition member.
func NewMutatorAgent(id string, kb knowledge.Base, scn scenario.Scenario, target scenario.PurpleAgent, engine *evolution.Engine, logger *zap.Logger) *MutatorAgent {
	caps := types.AgentCapabilities{
		Capabilities: types.NewCapabilitySet(types.CapabilityMutate),
		Role:         types.RoleMutator,
		AvgLatencyMS: 200,
	}
	return &MutatorAgent{
		BaseAgent: newBaseAgent(id, caps, kb, logger),
		scn:       scn,
		target:    target,
		engine:    engine,
	}
}

// CanExecute reports whether the task is a mutation task.
func (m *MutatorAgent) CanExecute(task *types.Task) bool {
	return task != nil && task.Type == types.TaskMutate
}

// Execute evolves the population for the requested number of
// generations. It returns the tested attacks aligned with their
// results, plus the surviving population for inspection.
func (m *MutatorAgent) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params, ok := task.Params.(types.MutateParams)
	if !ok {
		return errResult("mutate task %s carries %T, want MutateParams", task.TaskID, task.Params), nil
	}
	generations := params.Generations
	if generations <= 0 {
		generations = 10
	}

	if len(m.engine.Population()) == 0 {
		if len(params.Seeds) == 0 {
			return errResult("mutate task %s has no seeds and the population is empty", task.TaskID), nil
		}
		if err := m.engine.Seed(params.Seeds); err != nil {
			return errResult("seeding population: %v", err), nil
		}
	}

	execute := func(ctx context.Context, attack *types.Attack) *types.TestResult {
		return m.scn.ExecuteAttack(ctx, attack, m.target)
	}

	var (
		allResults []*types.TestResult
		lastStats  evolution.GenerationStats
		evaluated  = make(map[string]*types.Attack)
	)
	for g := 0; g < generations; g++ {
		for _, attack := range m.engine.Population() {
			evaluated[attack.AttackID] = attack
		}
		results, stats, err := m.engine.EvolveGeneration(ctx, m.generation, execute)
		if err != nil {
			return nil, err
		}
		allResults = append(allResults, results...)
		lastStats = stats
		m.generation++

		m.logger.Debug("generation evolved",
			zap.Int("generation", stats.Generation),
			zap.Float64("detection_rate", stats.DetectionRate),
			zap.Int("evasions", stats.Evasions))
	}

	m.share("mutation", map[string]any{
		"generation":      m.generation,
		"population_size": len(m.engine.Population()),
		"archive_size":    m.engine.Archive().Size(),
		"detection_rate":  lastStats.DetectionRate,
		"evasions":        lastStats.Evasions,
	}, "mutation", "evolution")

	// Pair each result with the attack that produced it so callers can
	// fold matched attack/result slices into the run.
	tested := make([]*types.Attack, 0, len(allResults))
	matched := allResults[:0]
	for _, r := range allResults {
		if attack, ok := evaluated[r.AttackID]; ok {
			tested = append(tested, attack)
			matched = append(matched, r)
		}
	}

	m.recordContribution()
	return okResult(map[string]any{
		"attacks":    tested,
		"results":    matched,
		"population": m.engine.Population(),
		"generation": m.generation,
		"stats":      lastStats,
	}), nil
}
