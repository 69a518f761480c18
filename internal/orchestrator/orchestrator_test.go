package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/agent"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/consensus"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/counterfactual"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/evolution"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	return "", errors.New("generator offline")
}
func (failingGenerator) Name() string  { return "failing" }
func (failingGenerator) Model() string { return "failing-model" }

// testRoster builds a full roster against the built-in SQL injection
// scenario with every generator path disabled or failing, so runs are
// deterministic and offline.
func testRoster(scn scenario.Scenario, target scenario.PurpleAgent, kb knowledge.Base) []agent.Agent {
	engine := evolution.NewEngine(scn, nil, 42).WithPopulationSize(12)
	return []agent.Agent{
		agent.NewBoundaryProber("prober_1", kb, scn, target, nil),
		agent.NewExploiter("exploiter_1", kb, scn, nil, nil, 42),
		agent.NewMutatorAgent("mutator_1", kb, scn, target, engine, nil),
		agent.NewValidatorAgent("validator_1", kb, scn.Validators(), nil, nil),
		agent.NewJudgeAgent("judge_1", kb, []generator.Generator{failingGenerator{}}, consensus.NewModel(20), nil),
		agent.NewCounterfactualAgent("counterfactual_1", kb, counterfactual.NewSearcher(scn), target, nil),
		agent.NewPerspectiveAgent("perspective_1", kb, "security", failingGenerator{}, nil),
	}
}

func TestMutateGenerationsConfigurable(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	kb := knowledge.NewInMemoryBase()

	o := New(scn, nil, kb, types.EvaluationConfig{}, nil)
	if o.generations != 1 {
		t.Fatalf("default generations = %d, want 1", o.generations)
	}

	o = o.WithMutateGenerations(4)
	if o.generations != 4 {
		t.Errorf("generations = %d, want 4", o.generations)
	}

	o = o.WithMutateGenerations(0)
	if o.generations != 4 {
		t.Errorf("zero must not overwrite generations, got %d", o.generations)
	}
}

func TestAllocatorConvergesOnHighYieldContext(t *testing.T) {
	alloc := NewAllocator([]string{"strong", "weak"}, 1, 42)
	probs := map[string]float64{"strong": 0.9, "weak": 0.1}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		c := alloc.SelectNextTest()
		alloc.Update(c, rng.Float64() < probs[c.Technique])
	}

	strong := 0
	for i := 0; i < 1000; i++ {
		c := alloc.SelectNextTest()
		alloc.Update(c, rng.Float64() < probs[c.Technique])
		if c.Technique == "strong" {
			strong++
		}
	}
	if strong <= 600 {
		t.Fatalf("high-yield context selected %d/1000 times, want > 600", strong)
	}
}

func TestAllocatorUpdateShiftsPosterior(t *testing.T) {
	alloc := NewAllocator([]string{"union"}, 10, 1)
	c := Context{Technique: "union", Bin: 3}

	alpha, beta := alloc.Posterior(c)
	if alpha != 1 || beta != 1 {
		t.Fatalf("prior = Beta(%v, %v), want Beta(1, 1)", alpha, beta)
	}

	for i := 0; i < 5; i++ {
		alloc.Update(c, true)
	}
	alloc.Update(c, false)

	alpha, beta = alloc.Posterior(c)
	if alpha != 6 || beta != 2 {
		t.Fatalf("posterior = Beta(%v, %v), want Beta(6, 2)", alpha, beta)
	}

	// Unknown contexts are ignored, not created.
	alloc.Update(Context{Technique: "nosuch", Bin: 0}, true)
	if _, ok := alloc.Stats()["nosuch"]; ok {
		t.Fatal("update created an unknown context")
	}

	stats := alloc.Stats()["union"]
	if stats.Evasions != 5 || stats.Detections != 1 {
		t.Fatalf("stats = %+v, want 5 evasions and 1 detection", stats)
	}
}

func TestAllocatorDeterministicWithSeed(t *testing.T) {
	a := NewAllocator([]string{"x", "y"}, 2, 99)
	b := NewAllocator([]string{"x", "y"}, 2, 99)

	for i := 0; i < 50; i++ {
		ca, cb := a.SelectNextTest(), b.SelectNextTest()
		if ca != cb {
			t.Fatalf("draw %d diverged: %v vs %v", i, ca, cb)
		}
		a.Update(ca, i%3 == 0)
		b.Update(cb, i%3 == 0)
	}
}

func TestBudgetEnforcerPhaseShares(t *testing.T) {
	b := NewBudgetEnforcer(100, nil)

	// Exploitation gets 50% of the total.
	if !b.CanAfford(types.PhaseExploitation, 49) {
		t.Fatal("49 should fit the exploitation allocation of 50")
	}
	b.RecordCost(types.PhaseExploitation, 49)
	if b.CanAfford(types.PhaseExploitation, 2) {
		t.Fatal("2 more should exceed the exploitation allocation")
	}

	// Exploration still has its own headroom.
	if !b.CanAfford(types.PhaseExploration, 10) {
		t.Fatal("exploration allocation should be untouched")
	}

	// The total budget caps everything regardless of phase shares.
	b.RecordCost(types.PhaseValidation, 60)
	if b.CanAfford(types.PhaseExploration, 1) {
		t.Fatal("total budget is spent, nothing should be affordable")
	}

	status := b.Status()
	if status.Spent != 109 {
		t.Fatalf("Spent = %v, want 109", status.Spent)
	}
	if status.Phases[types.PhaseExploitation].Remaining != 1 {
		t.Fatalf("exploitation remaining = %v, want 1",
			status.Phases[types.PhaseExploitation].Remaining)
	}
}

func TestBusDeliversAndUnsubscribes(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("run_1")

	bus.Emit("run_1", EventRoundStart, map[string]any{"round": 1})
	bus.Emit("run_2", EventRoundStart, nil) // different run, not delivered

	ev := <-ch
	if ev.Type != EventRoundStart {
		t.Fatalf("Type = %q, want %q", ev.Type, EventRoundStart)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q for another run", ev.Type)
	default:
	}

	bus.Unsubscribe("run_1", ch)
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestBusEmitNeverBlocks(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("run_1")

	// No reader: the buffer fills and further emits are dropped.
	for i := 0; i < 500; i++ {
		bus.Emit("run_1", EventEvasionFound, i)
	}
}

func TestEvaluateRunsAllPhases(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewSQLPatternPurpleAgent()
	kb := knowledge.NewInMemoryBase()

	cfg := types.EvaluationConfig{
		MaxRounds:             12,
		ExplorationThreshold:  5,
		ExploitationThreshold: 20,
		TargetF1:              0.99,
		NumProbes:             5,
		AttacksPerRound:       10,
		Seed:                  42,
	}
	o := New(scn, testRoster(scn, target, kb), kb, cfg, nil).WithWorkers(3)

	eval, err := o.Evaluate(context.Background(), target)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if o.Phase() != types.PhaseComplete {
		t.Fatalf("final phase = %q, want %q", o.Phase(), types.PhaseComplete)
	}
	if eval.TotalAttacksTested == 0 {
		t.Fatal("no attacks were tested")
	}
	if len(eval.Attacks) != len(eval.TestResults) {
		t.Fatalf("attacks/results misaligned: %d vs %d",
			len(eval.Attacks), len(eval.TestResults))
	}

	seen := map[string]bool{}
	for _, rec := range eval.CoalitionHistory {
		seen[rec.Phase] = true
	}
	for _, phase := range []types.Phase{
		types.PhaseExploration, types.PhaseExploitation,
		types.PhaseValidation, types.PhaseConsensus,
	} {
		if !seen[string(phase)] {
			t.Errorf("no coalition formed for phase %q", phase)
		}
	}

	if len(eval.ConsensusVerdicts) != len(eval.Attacks) {
		t.Fatalf("verdicts = %d, want one per attack (%d)",
			len(eval.ConsensusVerdicts), len(eval.Attacks))
	}
	if len(eval.Evasions()) == 0 {
		t.Fatal("pattern detector should miss some baseline payloads")
	}
	if got := eval.AgentContributions["prober_1"]; got == 0 {
		t.Fatal("prober made no recorded contributions")
	}
	if eval.Manifest.FinishedAt.Before(eval.Manifest.StartedAt) {
		t.Fatal("manifest timestamps out of order")
	}
	if eval.Manifest.AgentRoster["judge_1"] != string(types.RoleJudge) {
		t.Fatalf("roster role = %q, want %q",
			eval.Manifest.AgentRoster["judge_1"], types.RoleJudge)
	}
}

func TestBudgetExhaustionForcesPhaseAdvance(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewSQLPatternPurpleAgent()
	kb := knowledge.NewInMemoryBase()

	// Exploration's 15% share of 0.20 is below the round estimate, so
	// the very first round is forced into exploitation.
	cfg := types.EvaluationConfig{
		MaxRounds:             6,
		ExplorationThreshold:  5,
		ExploitationThreshold: 2000,
		NumProbes:             5,
		AttacksPerRound:       10,
		BudgetUSD:             0.20,
		Seed:                  42,
	}
	o := New(scn, testRoster(scn, target, kb), kb, cfg, nil)

	eval, err := o.Evaluate(context.Background(), target)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(eval.CoalitionHistory) == 0 {
		t.Fatal("no coalitions were formed")
	}
	if got := eval.CoalitionHistory[0].Phase; got != string(types.PhaseExploitation) {
		t.Fatalf("first coalition phase = %q, want %q", got, types.PhaseExploitation)
	}
	for _, rec := range eval.CoalitionHistory {
		if rec.Phase == string(types.PhaseExploration) {
			t.Fatal("exploration ran despite an exhausted phase budget")
		}
	}
	if eval.TotalAttacksTested == 0 {
		t.Fatal("exploitation should still test attacks")
	}
}

func TestEvaluateHonorsContextCancellation(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewSQLPatternPurpleAgent()
	kb := knowledge.NewInMemoryBase()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(scn, testRoster(scn, target, kb), kb, types.EvaluationConfig{Seed: 42}, nil)
	eval, err := o.Evaluate(ctx, target)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Evaluate() error = %v, want context.Canceled", err)
	}
	if eval == nil {
		t.Fatal("partial result should still be returned")
	}
	if eval.TotalAttacksTested != 0 {
		t.Fatalf("tested %d attacks after cancellation", eval.TotalAttacksTested)
	}
}
