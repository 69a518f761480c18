// Package ecosystem assembles a full evaluation stack from config: the
// generator chain, the agent roster, the orchestrator, and the optional
// sandbox around the target.
package ecosystem

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/importer"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/orchestrator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/sandbox"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Evaluator wires config, scenario, and roster into runnable
// evaluations.
type Evaluator struct {
	cfg    *types.Config
	scn    scenario.Scenario
	logger *zap.Logger
	bus    *orchestrator.Bus
}

// New creates an evaluator for a scenario.
func New(cfg *types.Config, scn scenario.Scenario, logger *zap.Logger) *Evaluator {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		cfg:    cfg,
		scn:    scn,
		logger: logger,
		bus:    orchestrator.NewBus(),
	}
}

// WithBus replaces the event bus so several evaluators can share one.
func (e *Evaluator) WithBus(bus *orchestrator.Bus) *Evaluator {
	if bus != nil {
		e.bus = bus
	}
	return e
}

// Bus exposes the event bus shared by every run this evaluator starts.
func (e *Evaluator) Bus() *orchestrator.Bus { return e.bus }

// Run evaluates one purple agent end to end: build the generator chain,
// assemble a fresh roster and knowledge base, run the orchestrator, and
// stamp the manifest.
func (e *Evaluator) Run(ctx context.Context, target scenario.PurpleAgent) (*types.EvaluationResult, error) {
	return e.RunWithID(ctx, "", target)
}

// RunWithID runs an evaluation under a caller-chosen run id so bus
// subscriptions can be set up before the run starts.
func (e *Evaluator) RunWithID(ctx context.Context, runID string, target scenario.PurpleAgent) (*types.EvaluationResult, error) {
	gen, err := buildGenerator(e.cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("building generator: %w", err)
	}

	if e.cfg.Target.Sandboxed {
		target = sandbox.Wrap(target, e.logger)
	}

	kb := knowledge.NewInMemoryBase()
	roster := BuildRoster(e.cfg, e.scn, target, kb, gen, e.logger)
	if len(roster) == 0 {
		return nil, fmt.Errorf("agent roster is empty, check agents config")
	}

	orch := orchestrator.New(e.scn, roster, kb, e.cfg.Evaluation, e.logger).
		WithWorkers(e.cfg.Concurrency.AttackWorkers).
		WithMutateGenerations(e.cfg.Evolution.Generations).
		WithBus(e.bus).
		WithRunID(runID)

	if e.cfg.Evaluation.SeedCorpus != "" {
		corpus, err := importer.LoadCorpus(e.cfg.Evaluation.SeedCorpus)
		if err != nil {
			return nil, fmt.Errorf("loading seed corpus: %w", err)
		}
		orch = orch.WithSeedAttacks(importer.ToAttacks(corpus))
	}

	eval, err := orch.Evaluate(ctx, target)
	if eval != nil {
		if gen != nil {
			eval.Manifest.Models = []string{gen.Model()}
		}
		if e.cfg.Knowledge.AutoSnapshot && e.cfg.Knowledge.SnapshotPath != "" {
			if snapErr := kb.Snapshot(e.cfg.Knowledge.SnapshotPath); snapErr != nil {
				e.logger.Warn("knowledge snapshot failed", zap.Error(snapErr))
			}
		}
	}
	return eval, err
}

// buildGenerator constructs the provider chain: the primary model,
// fallbacks behind it, and a cache in front. No API key means offline
// mode; every consumer has a deterministic path without a generator.
func buildGenerator(cfg types.ProviderConfig) (generator.Generator, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}

	primary, err := generator.NewOpenAIGenerator(cfg)
	if err != nil {
		return nil, err
	}

	var gen generator.Generator = primary
	if len(cfg.Fallbacks) > 0 {
		chain := []generator.Generator{primary}
		for _, fb := range cfg.Fallbacks {
			fbCfg := cfg
			fbCfg.Name = fb.Name
			fbCfg.BaseURL = fb.BaseURL
			fbCfg.Model = fb.Model
			if fb.APIKey != "" {
				fbCfg.APIKey = fb.APIKey
			}
			alt, err := generator.NewOpenAIGenerator(fbCfg)
			if err != nil {
				return nil, fmt.Errorf("building fallback %s: %w", fb.Name, err)
			}
			chain = append(chain, alt)
		}
		gen, err = generator.NewFallbackGenerator(chain...)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Cache.Enabled {
		ttl := cfg.Cache.TTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		gen = generator.NewCachedGenerator(gen, ttl, cfg.Cache.MaxSize)
	}
	return gen, nil
}
