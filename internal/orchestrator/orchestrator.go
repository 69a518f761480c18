// Package orchestrator runs the adaptive evaluation loop: a phase state
// machine that forms one coalition per round, allocates exploitation
// effort with a Thompson-Sampling bandit, and enforces a cooperative
// per-phase budget.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/agent"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// roundCostEstimate is the projected spend checked against the phase
// budget before committing to a round.
const roundCostEstimate = 0.05

// maxCounterfactualsPerRound caps how many evasions get a beam-search
// explanation in one validation round.
const maxCounterfactualsPerRound = 5

// Orchestrator drives one evaluation of a purple agent. The round loop
// is single-threaded; only attack execution inside a round fans out.
type Orchestrator struct {
	scn         scenario.Scenario
	roster      []agent.Agent
	kb          knowledge.Base
	cfg         types.EvaluationConfig
	logger      *zap.Logger
	allocator   *Allocator
	budget      *BudgetEnforcer
	bus         *Bus
	workers     int
	seeds       []*types.Attack
	runID       string
	generations int

	phase          types.Phase
	coalitionCount int
}

// New creates an orchestrator over a scenario and an agent roster.
// A budget enforcer is attached when the config carries a budget.
func New(scn scenario.Scenario, roster []agent.Agent, kb knowledge.Base, cfg types.EvaluationConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 20
	}
	if cfg.ExplorationThreshold <= 0 {
		cfg.ExplorationThreshold = 50
	}
	if cfg.ExploitationThreshold <= 0 {
		cfg.ExploitationThreshold = 200
	}
	if cfg.TargetF1 <= 0 {
		cfg.TargetF1 = 0.9
	}
	if cfg.NumProbes <= 0 {
		cfg.NumProbes = 20
	}
	if cfg.AttacksPerRound <= 0 {
		cfg.AttacksPerRound = 50
	}

	o := &Orchestrator{
		scn:         scn,
		roster:      roster,
		kb:          kb,
		cfg:         cfg,
		logger:      logger.Named("orchestrator"),
		allocator:   NewAllocator(scn.Techniques(), defaultBins, cfg.Seed),
		bus:         NewBus(),
		workers:     5,
		generations: 1,
		phase:       types.PhaseExploration,
	}
	if cfg.BudgetUSD > 0 {
		o.budget = NewBudgetEnforcer(cfg.BudgetUSD, o.logger)
	}
	return o
}

// WithWorkers bounds the attack execution pool inside a round.
func (o *Orchestrator) WithWorkers(n int) *Orchestrator {
	if n > 0 {
		o.workers = n
	}
	return o
}

// WithMutateGenerations sets how many generations each exploitation
// round evolves its evasion seeds.
func (o *Orchestrator) WithMutateGenerations(n int) *Orchestrator {
	if n > 0 {
		o.generations = n
	}
	return o
}

// WithBus replaces the event bus, letting callers share one bus across
// orchestrators.
func (o *Orchestrator) WithBus(bus *Bus) *Orchestrator {
	if bus != nil {
		o.bus = bus
	}
	return o
}

// WithRunID fixes the run identifier so callers can subscribe to bus
// events before the run starts. Empty keeps the generated id.
func (o *Orchestrator) WithRunID(id string) *Orchestrator {
	o.runID = id
	return o
}

// WithSeedAttacks queues imported corpus attacks to be tested before
// the first round. Seeds tagged with another scenario are dropped.
func (o *Orchestrator) WithSeedAttacks(seeds []*types.Attack) *Orchestrator {
	for _, s := range seeds {
		if s != nil && s.Scenario == o.scn.Name() {
			o.seeds = append(o.seeds, s)
		}
	}
	return o
}

// Bus returns the event bus for subscribing to run events.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Phase returns the current phase.
func (o *Orchestrator) Phase() types.Phase { return o.phase }

// Allocator exposes the Thompson-Sampling allocator for reporting.
func (o *Orchestrator) Allocator() *Allocator { return o.allocator }

// Budget returns the budget enforcer, nil when no budget is set.
func (o *Orchestrator) Budget() *BudgetEnforcer { return o.budget }

// Evaluate runs the full phase loop against a target and returns the
// finalized result. A context error aborts the loop but the partial
// result is still finalized and returned.
func (o *Orchestrator) Evaluate(ctx context.Context, target scenario.PurpleAgent) (*types.EvaluationResult, error) {
	started := time.Now()
	runID := o.runID
	if runID == "" {
		runID = fmt.Sprintf("eval_%s_%s", target.Name(), uuid.New().String()[:8])
	}

	roster := make(map[string]string, len(o.roster))
	for _, m := range o.roster {
		roster[m.ID()] = string(m.Capabilities().Role)
	}
	eval := &types.EvaluationResult{
		RunID:              runID,
		PurpleAgent:        target.Name(),
		Scenario:           o.scn.Name(),
		AgentContributions: make(map[string]int),
		Manifest: types.RunManifest{
			RunID:       runID,
			Seed:        o.cfg.Seed,
			AgentRoster: roster,
			StartedAt:   started,
		},
	}

	o.phase = types.PhaseExploration
	o.logger.Info("evaluation started",
		zap.String("run_id", runID),
		zap.String("purple_agent", target.Name()),
		zap.String("scenario", o.scn.Name()))

	if len(o.seeds) > 0 {
		o.logger.Info("testing seed corpus", zap.Int("seeds", len(o.seeds)))
		results := o.executeAttacks(ctx, target, o.seeds)
		o.accumulate(eval, o.seeds, results)
	}

	var loopErr error
	for round := 1; round <= o.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}

		if o.budget != nil && !o.budget.CanAfford(o.phase, roundCostEstimate) {
			if !o.advanceOnBudget(runID) {
				o.logger.Info("all phase budgets exhausted")
				break
			}
		}

		o.bus.Emit(runID, EventRoundStart, map[string]any{
			"round": round,
			"phase": string(o.phase),
		})
		o.logger.Info("round started",
			zap.Int("round", round),
			zap.Int("max_rounds", o.cfg.MaxRounds),
			zap.String("phase", string(o.phase)))

		cost, err := o.runRound(ctx, target, eval, round)
		eval.TotalCostUSD += cost
		if o.budget != nil {
			o.budget.RecordCost(o.phase, cost)
		}
		if err != nil {
			loopErr = err
			break
		}

		o.updatePhase(runID, eval)
		if o.shouldTerminate(eval) {
			o.logger.Info("termination criteria met",
				zap.String("phase", string(o.phase)),
				zap.Float64("f1", eval.Metrics.F1Score))
			break
		}
	}

	for _, m := range o.roster {
		eval.AgentContributions[m.ID()] = m.Contributions()
	}
	eval.Manifest.FinishedAt = time.Now()
	eval.TotalTimeSeconds = time.Since(started).Seconds()
	eval.Finalize()

	o.bus.Emit(runID, EventRunComplete, map[string]any{
		"f1":             eval.Metrics.F1Score,
		"attacks_tested": eval.TotalAttacksTested,
		"cost_usd":       eval.TotalCostUSD,
	})
	o.bus.Close(runID)

	o.logger.Info("evaluation complete",
		zap.String("run_id", runID),
		zap.Float64("f1", eval.Metrics.F1Score),
		zap.Int("attacks_tested", eval.TotalAttacksTested),
		zap.Float64("cost_usd", eval.TotalCostUSD))
	return eval, loopErr
}

func (o *Orchestrator) runRound(ctx context.Context, target scenario.PurpleAgent, eval *types.EvaluationResult, round int) (float64, error) {
	switch o.phase {
	case types.PhaseExploration:
		return o.runExploration(ctx, eval, round)
	case types.PhaseExploitation:
		return o.runExploitation(ctx, target, eval, round)
	case types.PhaseValidation:
		return o.runValidation(ctx, eval, round)
	case types.PhaseConsensus:
		return o.runConsensus(ctx, eval, round)
	default:
		return 0, nil
	}
}

// runExploration probes the detection boundary of every technique and
// accumulates the probe results into the run.
func (o *Orchestrator) runExploration(ctx context.Context, eval *types.EvaluationResult, round int) (float64, error) {
	c := o.formCoalition(eval, round, "map detection boundaries",
		types.NewCapabilitySet(types.CapabilityProbe))
	defer c.Dissolve()

	if !c.HasRequiredCapabilities() {
		o.logger.Error("exploration coalition lacks probe capability")
		return 0, nil
	}

	var cost float64
	for _, technique := range o.scn.Techniques() {
		task := types.NewTask(o.taskID("probe", technique), types.TaskProbe, types.ProbeParams{
			Technique: technique,
			NumProbes: o.cfg.NumProbes,
		})
		result, member, err := o.runTask(ctx, c, task)
		if err != nil {
			return cost, err
		}
		if member != nil {
			cost += member.Capabilities().CostPerInvocation
		}
		if !result.OK() {
			continue
		}
		attacks, _ := result.Data["attacks"].([]*types.Attack)
		results, _ := result.Data["results"].([]*types.TestResult)
		o.accumulate(eval, attacks, results)
	}
	return cost, nil
}

// runExploitation spends one round on the context the allocator deems
// most promising: generate attacks there, validate, execute in a
// bounded pool, evolve this round's evasions one generation, and feed
// every outcome back to the allocator.
func (o *Orchestrator) runExploitation(ctx context.Context, target scenario.PurpleAgent, eval *types.EvaluationResult, round int) (float64, error) {
	sel := o.allocator.SelectNextTest()
	o.logger.Info("context selected",
		zap.String("technique", sel.Technique),
		zap.Int("boundary_bin", sel.Bin))

	c := o.formCoalition(eval, round, "generate and test attacks",
		types.NewCapabilitySet(types.CapabilityGenerate, types.CapabilityMutate, types.CapabilityValidate))
	defer c.Dissolve()

	if !c.HasRequiredCapabilities() {
		o.logger.Error("exploitation coalition lacks required capabilities")
		return 0, nil
	}

	var cost float64
	genTask := types.NewTask(o.taskID("generate", sel.Technique), types.TaskGenerate, types.GenerateParams{
		Technique:   sel.Technique,
		BoundaryBin: sel.Bin,
		NumAttacks:  o.cfg.AttacksPerRound,
	})
	genResult, member, err := o.runTask(ctx, c, genTask)
	if err != nil {
		return cost, err
	}
	if member != nil {
		cost += member.Capabilities().CostPerInvocation
	}
	if !genResult.OK() {
		return cost, nil
	}
	attacks, _ := genResult.Data["attacks"].([]*types.Attack)
	if len(attacks) == 0 {
		return cost, nil
	}

	valTask := types.NewTask(o.taskID("validate", sel.Technique), types.TaskValidate, types.ValidateParams{
		Attacks: attacks,
	})
	valResult, member, err := o.runTask(ctx, c, valTask)
	if err != nil {
		return cost, err
	}
	if member != nil {
		cost += member.Capabilities().CostPerInvocation
	}
	if !valResult.OK() {
		return cost, nil
	}
	valid, _ := valResult.Data["valid"].([]*types.Attack)

	results := o.executeAttacks(ctx, target, valid)
	o.accumulate(eval, valid, results)

	var seeds []*types.Attack
	for i, r := range results {
		if r == nil || !r.IsValid {
			continue
		}
		o.allocator.Update(sel, r.IsEvasion())
		if r.IsEvasion() {
			seeds = append(seeds, valid[i])
		}
	}

	// Evolve this round's evasions so the next rounds start from the
	// current blind spots.
	if len(seeds) > 0 {
		mutTask := types.NewTask(o.taskID("mutate", sel.Technique), types.TaskMutate, types.MutateParams{
			Seeds:       seeds,
			Generations: o.generations,
		})
		mutResult, member, err := o.runTask(ctx, c, mutTask)
		if err != nil {
			return cost, err
		}
		if member != nil {
			cost += member.Capabilities().CostPerInvocation
		}
		if mutResult.OK() {
			mutAttacks, _ := mutResult.Data["attacks"].([]*types.Attack)
			mutResults, _ := mutResult.Data["results"].([]*types.TestResult)
			o.accumulate(eval, mutAttacks, mutResults)
			for _, r := range mutResults {
				if r != nil && r.IsValid {
					o.allocator.Update(sel, r.IsEvasion())
				}
			}
		}
	}
	return cost, nil
}

// runValidation re-vets the run's evasions and explains the most
// significant ones with counterfactual search.
func (o *Orchestrator) runValidation(ctx context.Context, eval *types.EvaluationResult, round int) (float64, error) {
	c := o.formCoalition(eval, round, "re-validate and explain evasions",
		types.NewCapabilitySet(types.CapabilityValidate, types.CapabilityEvaluate))
	defer c.Dissolve()

	if !c.HasRequiredCapabilities() {
		o.logger.Error("validation coalition lacks required capabilities")
		return 0, nil
	}

	evasions := eval.Evasions()
	if len(evasions) == 0 {
		o.logger.Info("no evasions to validate")
		return 0, nil
	}

	byID := make(map[string]*types.Attack, len(eval.Attacks))
	for _, a := range eval.Attacks {
		byID[a.AttackID] = a
	}
	evaded := make([]*types.Attack, 0, len(evasions))
	for _, r := range evasions {
		if a, ok := byID[r.AttackID]; ok {
			evaded = append(evaded, a)
		}
	}

	var cost float64
	revalTask := types.NewTask(o.taskID("revalidate", o.scn.Name()), types.TaskValidate, types.ValidateParams{
		Attacks: evaded,
	})
	_, member, err := o.runTask(ctx, c, revalTask)
	if err != nil {
		return cost, err
	}
	if member != nil {
		cost += member.Capabilities().CostPerInvocation
	}

	explained := 0
	for _, r := range evasions {
		if explained >= maxCounterfactualsPerRound {
			break
		}
		attack, ok := byID[r.AttackID]
		if !ok {
			continue
		}
		task := types.NewTask(o.taskID("counterfactual", attack.AttackID), types.TaskCounterfactual, types.CounterfactualParams{
			Attack: attack,
			Result: r,
		})
		result, member, err := o.runTask(ctx, c, task)
		if err != nil {
			return cost, err
		}
		if member == nil {
			// No counterfactual agent in the roster.
			break
		}
		cost += member.Capabilities().CostPerInvocation
		explained++
		if !result.OK() {
			continue
		}
		if cf, ok := result.Data["counterfactual"].(*types.CounterfactualResult); ok {
			eval.CounterfactualResults = append(eval.CounterfactualResults, cf)
		}
	}
	return cost, nil
}

// runConsensus judges the whole run with the judge panel and collects
// perspective reviews of the finished evaluation.
func (o *Orchestrator) runConsensus(ctx context.Context, eval *types.EvaluationResult, round int) (float64, error) {
	c := o.formCoalition(eval, round, "calibrate verdicts and review",
		types.NewCapabilitySet(types.CapabilityEvaluate, types.CapabilityDebate))
	defer c.Dissolve()

	if !c.HasRequiredCapabilities() {
		o.logger.Error("consensus coalition lacks required capabilities")
		return 0, nil
	}
	if len(eval.Attacks) == 0 || len(eval.TestResults) == 0 {
		o.logger.Warn("nothing to judge, skipping consensus")
		return 0, nil
	}

	var cost float64
	judgeTask := types.NewTask(o.taskID("judge", o.scn.Name()), types.TaskJudge, types.JudgeParams{
		Attacks: eval.Attacks,
		Results: eval.TestResults,
	})
	judgeResult, member, err := o.runTask(ctx, c, judgeTask)
	if err != nil {
		return cost, err
	}
	if member != nil {
		cost += member.Capabilities().CostPerInvocation
	}
	if judgeResult.OK() {
		if verdicts, ok := judgeResult.Data["verdicts"].([]*types.ConsensusVerdict); ok {
			eval.ConsensusVerdicts = append(eval.ConsensusVerdicts, verdicts...)
			o.logger.Info("consensus verdicts collected", zap.Int("verdicts", len(verdicts)))
		}
	}

	// Every perspective in the coalition reviews the run on its own.
	for _, m := range c.Members() {
		task := types.NewTask(o.taskID("assess", m.ID()), types.TaskAssess, types.AssessParams{
			Evaluation: eval,
		})
		if !m.CanExecute(task) {
			continue
		}
		task.AssignedTo = m.ID()
		task.Status = types.TaskInProgress
		result, err := m.Execute(ctx, task)
		if err != nil {
			task.Status = types.TaskFailed
			return cost, err
		}
		task.Result = result
		if result.OK() {
			task.Status = types.TaskCompleted
		} else {
			task.Status = types.TaskFailed
		}
		cost += m.Capabilities().CostPerInvocation
	}
	return cost, nil
}

// executeAttacks runs attacks against the target in a bounded pool.
// Results are positionally aligned with the input; allocator updates
// and accumulation happen on the caller's goroutine afterwards.
func (o *Orchestrator) executeAttacks(ctx context.Context, target scenario.PurpleAgent, attacks []*types.Attack) []*types.TestResult {
	results := make([]*types.TestResult, len(attacks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, attack := range attacks {
		g.Go(func() error {
			results[i] = o.scn.ExecuteAttack(gctx, attack, target)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// accumulate folds a batch of attack/result pairs into the run,
// refreshes the running metrics, and announces new evasions.
func (o *Orchestrator) accumulate(eval *types.EvaluationResult, attacks []*types.Attack, results []*types.TestResult) {
	for i := range attacks {
		if i >= len(results) || attacks[i] == nil || results[i] == nil {
			continue
		}
		eval.Attacks = append(eval.Attacks, attacks[i])
		eval.TestResults = append(eval.TestResults, results[i])
		if results[i].IsValid && results[i].IsEvasion() {
			o.bus.Emit(eval.RunID, EventEvasionFound, map[string]any{
				"attack_id": attacks[i].AttackID,
				"technique": attacks[i].Technique,
				"payload":   attacks[i].Payload,
			})
		}
	}
	eval.Finalize()
}

// runTask assigns a task inside a coalition and executes it. A nil
// member means no coalition member could take the task.
func (o *Orchestrator) runTask(ctx context.Context, c *agent.Coalition, task *types.Task) (*types.TaskResult, agent.Agent, error) {
	member := c.Assign(task)
	if member == nil {
		return nil, nil, nil
	}
	task.Status = types.TaskInProgress
	result, err := member.Execute(ctx, task)
	if err != nil {
		task.Status = types.TaskFailed
		return nil, member, err
	}
	task.Result = result
	if result.OK() {
		task.Status = types.TaskCompleted
	} else {
		task.Status = types.TaskFailed
		o.logger.Warn("task failed",
			zap.String("task_id", task.TaskID),
			zap.String("agent_id", member.ID()),
			zap.String("error", result.Err))
	}
	return result, member, nil
}

// formCoalition builds one coalition for the current round and records
// it in the run history.
func (o *Orchestrator) formCoalition(eval *types.EvaluationResult, round int, description string, required types.CapabilitySet) *agent.Coalition {
	o.coalitionCount++
	id := fmt.Sprintf("coalition_%d", o.coalitionCount)
	c := agent.Form(id, agent.Goal{
		GoalID:      fmt.Sprintf("goal_%d", o.coalitionCount),
		Description: description,
		Required:    required,
	}, o.roster, o.logger)
	eval.CoalitionHistory = append(eval.CoalitionHistory, c.Record(o.phase, round))
	return c
}

// updatePhase applies the progress-based transitions after a round.
func (o *Orchestrator) updatePhase(runID string, eval *types.EvaluationResult) {
	prev := o.phase
	switch o.phase {
	case types.PhaseExploration:
		if eval.TotalAttacksTested > o.cfg.ExplorationThreshold {
			o.phase = types.PhaseExploitation
		}
	case types.PhaseExploitation:
		if eval.TotalAttacksTested > o.cfg.ExploitationThreshold {
			o.phase = types.PhaseValidation
		}
	case types.PhaseValidation:
		o.phase = types.PhaseConsensus
	case types.PhaseConsensus:
		o.phase = types.PhaseComplete
	}
	if o.phase != prev {
		o.logger.Info("phase transition",
			zap.String("from", string(prev)),
			zap.String("to", string(o.phase)))
		o.bus.Emit(runID, EventPhaseTransition, map[string]any{
			"from": string(prev),
			"to":   string(o.phase),
		})
	}
}

// advanceOnBudget forces the next phase when the current phase's
// budget share is spent. Returns false when no forward move remains.
func (o *Orchestrator) advanceOnBudget(runID string) bool {
	prev := o.phase
	switch o.phase {
	case types.PhaseExploration:
		o.phase = types.PhaseExploitation
	case types.PhaseExploitation:
		o.phase = types.PhaseValidation
	default:
		return false
	}
	o.logger.Info("phase budget exhausted, advancing",
		zap.String("from", string(prev)),
		zap.String("to", string(o.phase)))
	o.bus.Emit(runID, EventPhaseTransition, map[string]any{
		"from":   string(prev),
		"to":     string(o.phase),
		"reason": "budget",
	})
	return true
}

// shouldTerminate checks the early-stop criteria after a round.
func (o *Orchestrator) shouldTerminate(eval *types.EvaluationResult) bool {
	if o.phase == types.PhaseComplete {
		return true
	}
	return eval.TotalAttacksTested > 100 && eval.Metrics.F1Score > o.cfg.TargetF1
}

func (o *Orchestrator) taskID(kind, scope string) string {
	return fmt.Sprintf("%s_%s_%d", kind, scope, time.Now().UnixMicro())
}
