package ecosystem

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/agent"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/consensus"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/counterfactual"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/evolution"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// offlineGenerator always errors so judge votes fall back to the raw
// detection outcome when no provider is configured.
type offlineGenerator struct{}

func (offlineGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	return "", errors.New("no generator configured")
}
func (offlineGenerator) Name() string  { return "offline" }
func (offlineGenerator) Model() string { return "none" }

// BuildRoster creates the agent roster the config asks for. A nil
// generator yields a fully offline roster; every agent variant carries
// a deterministic path.
func BuildRoster(cfg *types.Config, scn scenario.Scenario, target scenario.PurpleAgent, kb knowledge.Base, gen generator.Generator, logger *zap.Logger) []agent.Agent {
	agents := cfg.Agents
	seed := cfg.Evaluation.Seed

	var roster []agent.Agent
	for i := 0; i < agents.NumBoundaryProbers; i++ {
		roster = append(roster, agent.NewBoundaryProber(
			fmt.Sprintf("prober_%d", i+1), kb, scn, target, logger))
	}
	for i := 0; i < agents.NumExploiters; i++ {
		roster = append(roster, agent.NewExploiter(
			fmt.Sprintf("exploiter_%d", i+1), kb, scn, gen, logger, seed+int64(i)))
	}
	for i := 0; i < agents.NumMutators; i++ {
		engine := evolution.NewEngine(scn, logger, seed+int64(100+i)).
			WithPopulationSize(cfg.Evolution.PopulationSize).
			WithMutationRate(cfg.Evolution.MutationRate).
			WithNoveltyWeight(cfg.Evolution.NoveltyWeight).
			WithArchive(evolution.NewArchive(cfg.Evolution.ArchiveMaxSize, cfg.Evolution.MaxDistance)).
			WithArchiveThreshold(cfg.Evolution.ArchiveThreshold).
			WithFitnessWorkers(cfg.Concurrency.FitnessWorkers)
		if gen != nil {
			engine = engine.WithGenerator(gen).
				WithLLMMutationRatio(cfg.Evolution.LLMMutationRatio)
		}
		roster = append(roster, agent.NewMutatorAgent(
			fmt.Sprintf("mutator_%d", i+1), kb, scn, target, engine, logger))
	}
	for i := 0; i < agents.NumValidators; i++ {
		roster = append(roster, agent.NewValidatorAgent(
			fmt.Sprintf("validator_%d", i+1), kb, scn.Validators(), gen, logger))
	}

	// The judge panel votes through the generator; offline panels fall
	// back to the raw detection outcome per vote.
	numJudges := cfg.Consensus.NumJudges
	if numJudges <= 0 {
		numJudges = 3
	}
	panel := make([]generator.Generator, numJudges)
	for i := range panel {
		if gen != nil {
			panel[i] = gen
		} else {
			panel[i] = offlineGenerator{}
		}
	}
	roster = append(roster, agent.NewJudgeAgent(
		"judge_1", kb, panel, consensus.NewModel(cfg.Consensus.EMIterations), logger))

	if agents.Counterfactual {
		searcher := counterfactual.NewSearcher(scn).WithLogger(logger)
		if gen != nil {
			searcher = searcher.WithGenerator(gen)
		}
		roster = append(roster, agent.NewCounterfactualAgent(
			"counterfactual_1", kb, searcher, target, logger))
	}

	for i, perspective := range agents.Perspectives {
		pgen := gen
		if pgen == nil {
			pgen = offlineGenerator{}
		}
		roster = append(roster, agent.NewPerspectiveAgent(
			fmt.Sprintf("perspective_%d", i+1), kb, perspective, pgen, logger))
	}
	return roster
}
