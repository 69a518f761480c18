package agent

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/consensus"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/counterfactual"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/evolution"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// stubAgent is a minimal variant for coalition lifecycle tests.
type stubAgent struct {
	BaseAgent
	accepts types.TaskType
	ran     int
}

func newStubAgent(id string, accepts types.TaskType, caps ...types.Capability) *stubAgent {
	return &stubAgent{
		BaseAgent: newBaseAgent(id, types.AgentCapabilities{
			Capabilities: types.NewCapabilitySet(caps...),
			Role:         types.RoleExploiter,
		}, knowledge.NewInMemoryBase(), nil),
		accepts: accepts,
	}
}

func (s *stubAgent) CanExecute(task *types.Task) bool {
	return task != nil && task.Type == s.accepts
}

func (s *stubAgent) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	s.ran++
	s.recordContribution()
	return okResult(map[string]any{"ran": true}), nil
}

type scriptedGenerator struct {
	response string
	err      error
}

func (s *scriptedGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	return s.response, s.err
}

func (s *scriptedGenerator) Name() string  { return "scripted" }
func (s *scriptedGenerator) Model() string { return "scripted-model" }

func counterfactualSearcher(scn scenario.Scenario) *counterfactual.Searcher {
	return counterfactual.NewSearcher(scn)
}

func TestCoalitionCapabilityCoverage(t *testing.T) {
	prober := newStubAgent("p1", types.TaskProbe, types.CapabilityProbe)
	exploiter := newStubAgent("e1", types.TaskGenerate, types.CapabilityGenerate)
	judge := newStubAgent("j1", types.TaskJudge, types.CapabilityDebate, types.CapabilityEvaluate)
	roster := []Agent{prober, exploiter, judge}

	t.Run("union covers goal", func(t *testing.T) {
		goal := Goal{GoalID: "g1", Required: types.NewCapabilitySet(types.CapabilityProbe, types.CapabilityGenerate)}
		c := Form("c1", goal, roster, nil)
		if !c.HasRequiredCapabilities() {
			t.Error("union of member capabilities covers the goal, want true")
		}
		if len(c.Members()) != 2 {
			t.Errorf("expected 2 intersecting members, got %d", len(c.Members()))
		}
		c.Dissolve()
	})

	t.Run("missing capability fails fast", func(t *testing.T) {
		goal := Goal{GoalID: "g2", Required: types.NewCapabilitySet(types.CapabilityProbe, types.CapabilityMutate)}
		c := Form("c2", goal, roster, nil)
		if c.HasRequiredCapabilities() {
			t.Error("no roster member mutates, coverage must be false")
		}
		task := types.NewTask("t1", types.TaskProbe, types.ProbeParams{Technique: "union"})
		c.Assign(task)
		results, err := c.Execute(context.Background())
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("failed coalition must not run tasks, got %d results", len(results))
		}
		if c.Status() != types.CoalitionFailed {
			t.Errorf("status = %s, want failed", c.Status())
		}
		if prober.ran != 0 {
			t.Error("no task may run in a failed coalition")
		}
		c.Dissolve()
	})
}

func TestCoalitionGreedyAssignment(t *testing.T) {
	first := newStubAgent("first", types.TaskGenerate, types.CapabilityGenerate)
	second := newStubAgent("second", types.TaskGenerate, types.CapabilityGenerate)
	goal := Goal{GoalID: "g", Required: types.NewCapabilitySet(types.CapabilityGenerate)}
	c := Form("c", goal, []Agent{first, second}, nil)
	defer c.Dissolve()

	for i := 0; i < 3; i++ {
		task := types.NewTask("t", types.TaskGenerate, types.GenerateParams{Technique: "union"})
		assigned := c.Assign(task)
		if assigned == nil || assigned.ID() != "first" {
			t.Fatalf("greedy assignment must always pick the first capable member")
		}
		if task.Status != types.TaskAssigned {
			t.Errorf("task status = %s, want assigned", task.Status)
		}
	}

	unassignable := types.NewTask("t", types.TaskProbe, types.ProbeParams{Technique: "union"})
	if c.Assign(unassignable) != nil {
		t.Error("no member probes, assignment must return nil")
	}
}

func TestCoalitionDissolveDetachesMembers(t *testing.T) {
	a := newStubAgent("a", types.TaskGenerate, types.CapabilityGenerate)
	b := newStubAgent("b", types.TaskValidate, types.CapabilityValidate)
	goal := Goal{GoalID: "g", Required: types.NewCapabilitySet(types.CapabilityGenerate, types.CapabilityValidate)}
	c := Form("c99", goal, []Agent{a, b}, nil)

	if a.coalitionID() != "c99" || b.coalitionID() != "c99" {
		t.Fatal("members must report the coalition after formation")
	}

	c.Dissolve()

	if len(c.Members()) != 0 {
		t.Errorf("dissolved coalition has %d members, want 0", len(c.Members()))
	}
	if c.Status() != types.CoalitionDissolved {
		t.Errorf("status = %s, want dissolved", c.Status())
	}
	if a.coalitionID() != "" || b.coalitionID() != "" {
		t.Error("former members must not report an active coalition")
	}
}

func TestCoalitionExecutesAssignedTasks(t *testing.T) {
	worker := newStubAgent("w", types.TaskGenerate, types.CapabilityGenerate)
	goal := Goal{GoalID: "g", Required: types.NewCapabilitySet(types.CapabilityGenerate)}
	c := Form("c", goal, []Agent{worker}, nil)
	defer c.Dissolve()

	t1 := types.NewTask("t1", types.TaskGenerate, types.GenerateParams{Technique: "union"})
	t2 := types.NewTask("t2", types.TaskGenerate, types.GenerateParams{Technique: "union"})
	c.Assign(t1)
	c.Assign(t2)

	results, err := c.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 2 || worker.ran != 2 {
		t.Fatalf("expected both tasks to run, got %d results / %d runs", len(results), worker.ran)
	}
	if t1.Status != types.TaskCompleted || t2.Status != types.TaskCompleted {
		t.Errorf("task statuses = %s/%s, want completed", t1.Status, t2.Status)
	}
	if worker.Contributions() != 2 {
		t.Errorf("contributions = %d, want 2", worker.Contributions())
	}
}

func TestBoundaryProberFindsWeakBoundaries(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	// Detector only knows one keyword; most malicious baselines slip by.
	target := scenario.NewPatternPurpleAgent("narrow", []string{"union select"})
	prober := NewBoundaryProber("prober_0", kb, scn, target, nil)

	task := types.NewTask("probe_1", types.TaskProbe, types.ProbeParams{Technique: "time_blind", NumProbes: 20})
	if !prober.CanExecute(task) {
		t.Fatal("prober must accept probe tasks")
	}
	result, err := prober.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("probe failed: %s", result.Err)
	}

	boundaries, ok := result.Data["boundaries"].([]Boundary)
	if !ok {
		t.Fatalf("boundaries type %T", result.Data["boundaries"])
	}
	if len(boundaries) == 0 {
		t.Fatal("narrow detector must expose weak boundaries on time_blind baselines")
	}
	for _, b := range boundaries {
		if b.Type != "weak_boundary" && b.Type != "over_detection" {
			t.Errorf("unexpected boundary type %q", b.Type)
		}
		if b.Bin < 0 || b.Bin > 9 {
			t.Errorf("bin %d outside 0..9", b.Bin)
		}
	}

	entries := kb.Query(knowledge.Filter{EntryType: "boundary", Tags: []string{"time_blind"}})
	if len(entries) != 1 {
		t.Errorf("expected 1 boundary entry on the blackboard, got %d", len(entries))
	}
}

func TestBoundaryProberRejectsMalformedTask(t *testing.T) {
	prober := NewBoundaryProber("prober_0", knowledge.NewInMemoryBase(),
		scenario.NewSQLInjectionScenario(), scenario.NewSQLPatternPurpleAgent(), nil)

	task := types.NewTask("bad", types.TaskProbe, types.GenerateParams{Technique: "union"})
	result, err := prober.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("malformed input must not surface as an error: %v", err)
	}
	if result.OK() {
		t.Error("expected an error-shaped result for mismatched params")
	}

	empty := types.NewTask("bad2", types.TaskProbe, types.ProbeParams{})
	result, err = prober.Execute(context.Background(), empty)
	if err != nil || result.OK() {
		t.Error("expected an error-shaped result for missing technique")
	}
}

func TestExploiterGeneratesTaggedAttacks(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	exploiter := NewExploiter("exploiter_0", kb, scn, nil, nil, 42)

	task := types.NewTask("gen_1", types.TaskGenerate, types.GenerateParams{
		Technique:   "union",
		BoundaryBin: 7,
		NumAttacks:  8,
	})
	result, err := exploiter.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("generation failed: %s", result.Err)
	}

	attacks, ok := result.Data["attacks"].([]*types.Attack)
	if !ok || len(attacks) == 0 {
		t.Fatalf("expected attacks, got %T with %d", result.Data["attacks"], len(attacks))
	}
	seen := make(map[string]struct{})
	for _, a := range attacks {
		if a.Technique != "union" {
			t.Errorf("attack technique %q, want union", a.Technique)
		}
		if a.Metadata["boundary_bin"] != "7" {
			t.Errorf("boundary_bin = %q, want 7", a.Metadata["boundary_bin"])
		}
		if _, dup := seen[a.Hash()]; dup {
			t.Errorf("duplicate payload generated: %q", a.Payload)
		}
		seen[a.Hash()] = struct{}{}
	}
}

func TestExploiterUsesCreativePathWhenAvailable(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	gen := &scriptedGenerator{response: `{"payloads": ["1 uNiOn/**/sElEcT null", "1%0aunion%0aselect null"]}`}
	exploiter := NewExploiter("exploiter_llm", kb, scn, gen, nil, 42)

	task := types.NewTask("gen_2", types.TaskGenerate, types.GenerateParams{
		Technique:  "union",
		NumAttacks: 2,
	})
	result, err := exploiter.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	attacks := result.Data["attacks"].([]*types.Attack)
	if len(attacks) != 2 {
		t.Fatalf("expected 2 attacks, got %d", len(attacks))
	}
	for _, a := range attacks {
		if a.Metadata["generation_source"] != "model" {
			t.Errorf("generation_source = %q, want model", a.Metadata["generation_source"])
		}
	}
}

func TestExploiterFallsBackWhenGeneratorFails(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	gen := &scriptedGenerator{err: errors.New("quota exhausted")}
	exploiter := NewExploiter("exploiter_flaky", kb, scn, gen, nil, rand.Int63())

	task := types.NewTask("gen_3", types.TaskGenerate, types.GenerateParams{
		Technique:  "boolean_blind",
		NumAttacks: 5,
	})
	result, err := exploiter.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("fallback path failed: %s", result.Err)
	}
	if attacks := result.Data["attacks"].([]*types.Attack); len(attacks) == 0 {
		t.Error("deterministic fallback must still produce attacks")
	}
}

func TestValidatorAgentPartitionsAttacks(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	validator := NewValidatorAgent("validator_0", kb, scn.Validators(), nil, nil)

	good := scn.CreateAttack("union", "' UNION SELECT 1--", nil)
	empty := scn.CreateAttack("union", "", nil)
	unknownTechnique := scn.CreateAttack("no_such_technique", "' UNION SELECT 1--", nil)

	task := types.NewTask("val_1", types.TaskValidate, types.ValidateParams{
		Attacks: []*types.Attack{good, empty, unknownTechnique},
	})
	result, err := validator.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	valid := result.Data["valid"].([]*types.Attack)
	invalid := result.Data["invalid"].([]*types.Attack)
	if len(valid) != 1 || valid[0] != good {
		t.Errorf("expected only the well-formed attack to pass, got %d valid", len(valid))
	}
	if len(invalid) != 2 {
		t.Errorf("expected 2 invalid attacks, got %d", len(invalid))
	}
	if good.IsValid != true || empty.IsValid != false {
		t.Error("validity flags must be written back onto the attacks")
	}
	if len(empty.ValidationErrors) == 0 {
		t.Error("invalid attacks must carry the rejection reason")
	}
}

func TestValidatorSemanticCheckDefaultsValidOnError(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	gen := &scriptedGenerator{err: errors.New("timeout")}
	validator := NewValidatorAgent("validator_llm", kb, scn.Validators(), gen, nil)

	attack := scn.CreateAttack("union", "' UNION SELECT 1--", nil)
	task := types.NewTask("val_2", types.TaskValidate, types.ValidateParams{Attacks: []*types.Attack{attack}})
	result, err := validator.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if valid := result.Data["valid"].([]*types.Attack); len(valid) != 1 {
		t.Error("a failed semantic check must not discard the attack")
	}
}

func TestJudgeAgentFallsBackToRawDetection(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	// All three judges fail, so each vote collapses to the detector's
	// raw verdict and consensus must mirror it exactly.
	judges := []generator.Generator{
		&scriptedGenerator{err: errors.New("down")},
		&scriptedGenerator{err: errors.New("down")},
		&scriptedGenerator{err: errors.New("down")},
	}
	judge := NewJudgeAgent("judge_0", kb, judges, consensus.NewModel(20), nil)

	detectedAttack := scn.CreateAttack("union", "' UNION SELECT 1--", nil)
	missedAttack := scn.CreateAttack("union", "1 uNiOn everything", nil)
	detected := types.NewTestResult(detectedAttack, "stub", true, 0.95)
	missed := types.NewTestResult(missedAttack, "stub", false, 0.8)

	task := types.NewTask("judge_1", types.TaskJudge, types.JudgeParams{
		Attacks: []*types.Attack{detectedAttack, missedAttack},
		Results: []*types.TestResult{detected, missed},
	})
	result, err := judge.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("judgment failed: %s", result.Err)
	}

	verdicts := result.Data["verdicts"].([]*types.ConsensusVerdict)
	if len(verdicts) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(verdicts))
	}
	byID := map[string]*types.ConsensusVerdict{}
	for _, v := range verdicts {
		byID[v.AttackID] = v
	}
	if !byID[detectedAttack.AttackID].Detected {
		t.Error("detected item must stay detected under raw-vote fallback")
	}
	if byID[missedAttack.AttackID].Detected {
		t.Error("missed item must stay undetected under raw-vote fallback")
	}
}

func TestJudgeAgentRejectsMismatchedInput(t *testing.T) {
	judge := NewJudgeAgent("judge_0", knowledge.NewInMemoryBase(),
		[]generator.Generator{&scriptedGenerator{response: "YES"}}, nil, nil)

	scn := scenario.NewSQLInjectionScenario()
	attack := scn.CreateAttack("union", "x", nil)
	task := types.NewTask("judge_bad", types.TaskJudge, types.JudgeParams{
		Attacks: []*types.Attack{attack},
		Results: nil,
	})
	result, err := judge.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.OK() {
		t.Error("mismatched attacks/results must be error-shaped")
	}
}

func TestCounterfactualAgentRequiresEvasion(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewPatternPurpleAgent("quote_detector", []string{"'"})
	searcher := counterfactualSearcher(scn)
	agent := NewCounterfactualAgent("cf_0", knowledge.NewInMemoryBase(), searcher, target, nil)

	caught := scn.CreateAttack("boolean_blind", "admin' or 1 like 1", nil)
	caughtResult := types.NewTestResult(caught, "quote_detector", true, 0.95)

	task := types.NewTask("cf_bad", types.TaskCounterfactual, types.CounterfactualParams{
		Attack: caught,
		Result: caughtResult,
	})
	result, err := agent.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.OK() {
		t.Error("a detected attack is not an evasion, task must be error-shaped")
	}
}

func TestCounterfactualAgentExplainsEvasion(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewPatternPurpleAgent("quote_detector", []string{"'"})
	kb := knowledge.NewInMemoryBase()
	agent := NewCounterfactualAgent("cf_0", kb, counterfactualSearcher(scn), target, nil)

	evasion := scn.CreateAttack("boolean_blind", "admin or 1 like 1", nil)
	evasionResult := types.NewTestResult(evasion, "quote_detector", false, 0.8)

	task := types.NewTask("cf_1", types.TaskCounterfactual, types.CounterfactualParams{
		Attack: evasion,
		Result: evasionResult,
	})
	result, err := agent.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("analysis failed: %s", result.Err)
	}
	if found := result.Data["found"].(bool); !found {
		t.Fatal("a one-edit counterfactual exists, search must find it")
	}
	cf := result.Data["counterfactual"].(*types.CounterfactualResult)
	if cf.EditDistance != 1 {
		t.Errorf("edit distance = %d, want 1", cf.EditDistance)
	}
	if entries := kb.Query(knowledge.Filter{EntryType: "counterfactual"}); len(entries) != 1 {
		t.Errorf("expected 1 counterfactual entry, got %d", len(entries))
	}
}

func TestMutatorAgentEvolvesSeeds(t *testing.T) {
	kb := knowledge.NewInMemoryBase()
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewPatternPurpleAgent("keyword", []string{"union select"})
	engine := evolution.NewEngine(scn, nil, 7).WithPopulationSize(12)
	mutator := NewMutatorAgent("mutator_0", kb, scn, target, engine, nil)

	t.Run("empty population without seeds is malformed", func(t *testing.T) {
		task := types.NewTask("mut_bad", types.TaskMutate, types.MutateParams{Generations: 2})
		result, err := mutator.Execute(context.Background(), task)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if result.OK() {
			t.Error("expected error-shaped result when there is nothing to evolve")
		}
	})

	t.Run("evolves and keeps lineage", func(t *testing.T) {
		seeds := []*types.Attack{
			scn.CreateAttack("union", "1 union select password from users", nil),
			scn.CreateAttack("union", "' union select null--", nil),
		}
		task := types.NewTask("mut_1", types.TaskMutate, types.MutateParams{Seeds: seeds, Generations: 3})
		result, err := mutator.Execute(context.Background(), task)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !result.OK() {
			t.Fatalf("evolution failed: %s", result.Err)
		}
		attacks := result.Data["attacks"].([]*types.Attack)
		if len(attacks) == 0 {
			t.Fatal("population must survive evolution")
		}
		results := result.Data["results"].([]*types.TestResult)
		if len(results) == 0 {
			t.Fatal("fitness evaluation must produce test results")
		}
		if entries := kb.Query(knowledge.Filter{EntryType: "mutation"}); len(entries) != 1 {
			t.Errorf("expected 1 mutation entry, got %d", len(entries))
		}
	})
}

func TestPerspectiveAgentParsesAssessment(t *testing.T) {
	gen := &scriptedGenerator{response: `SCORE: 0.8
COMMENTS: solid coverage of the boundary space
CONCERNS:
- few time_blind samples
- single target configuration
RECOMMENDATIONS:
- add stateful detector runs
- widen the baseline corpus`}
	agent := NewPerspectiveAgent("persp_0", knowledge.NewInMemoryBase(), "security_expert", gen, nil)

	eval := &types.EvaluationResult{PurpleAgent: "stub", Scenario: "sql_injection"}
	task := types.NewTask("assess_1", types.TaskAssess, types.AssessParams{Evaluation: eval})
	result, err := agent.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	assessment := result.Data["assessment"].(*PerspectiveAssessment)
	if assessment.QualityScore != 0.8 {
		t.Errorf("score = %f, want 0.8", assessment.QualityScore)
	}
	if len(assessment.Concerns) != 2 || len(assessment.Recommendations) != 2 {
		t.Errorf("parsed %d concerns / %d recommendations, want 2/2",
			len(assessment.Concerns), len(assessment.Recommendations))
	}
}

func TestPerspectiveAgentDegradesOnGeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("offline")}
	agent := NewPerspectiveAgent("persp_1", knowledge.NewInMemoryBase(), "pentester", gen, nil)

	task := types.NewTask("assess_2", types.TaskAssess, types.AssessParams{
		Evaluation: &types.EvaluationResult{PurpleAgent: "stub", Scenario: "sql_injection"},
	})
	result, err := agent.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.OK() {
		t.Fatal("generator failure must degrade, not fail the task")
	}
	assessment := result.Data["assessment"].(*PerspectiveAssessment)
	if assessment.QualityScore != 0.5 {
		t.Errorf("neutral score = %f, want 0.5", assessment.QualityScore)
	}
}
