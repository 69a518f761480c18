package scenario

import (
	"context"
	"strings"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// SQLInjectionScenario evaluates SQL injection detectors
type SQLInjectionScenario struct{}

// NewSQLInjectionScenario creates the built-in SQLi scenario
func NewSQLInjectionScenario() *SQLInjectionScenario {
	return &SQLInjectionScenario{}
}

// Name returns the scenario identifier
func (s *SQLInjectionScenario) Name() string { return "sql_injection" }

// Techniques lists the attack techniques this scenario covers
func (s *SQLInjectionScenario) Techniques() []string {
	return []string{"union", "boolean_blind", "time_blind", "error_based"}
}

// Mutators returns the deterministic payload mutators
func (s *SQLInjectionScenario) Mutators() []Mutator {
	return []Mutator{
		CaseMutator{},
		CommentMutator{},
		WhitespaceMutator{},
		EncodingMutator{},
	}
}

// Validators returns the pre-execution attack validators
func (s *SQLInjectionScenario) Validators() []Validator {
	return []Validator{
		SyntaxValidator{MaxLength: 4096},
		TechniqueValidator{Known: s.Techniques()},
	}
}

// CreateAttack builds a scenario-tagged attack
func (s *SQLInjectionScenario) CreateAttack(technique, payload string, metadata map[string]string) *types.Attack {
	attack := types.NewAttack(s.Name(), technique, payload)
	for k, v := range metadata {
		attack.Metadata[k] = v
	}
	return attack
}

// ExecuteAttack adjudicates one attack against the target
func (s *SQLInjectionScenario) ExecuteAttack(ctx context.Context, attack *types.Attack, target PurpleAgent) *types.TestResult {
	return ExecuteAgainst(ctx, attack, target)
}

// BaselineDataset returns labeled samples for boundary probing
func (s *SQLInjectionScenario) BaselineDataset() []BaselineSample {
	return []BaselineSample{
		{Payload: "' UNION SELECT username, password FROM users--", Technique: "union", IsMalicious: true},
		{Payload: "1 UNION SELECT NULL, version()--", Technique: "union", IsMalicious: true},
		{Payload: "' UNION ALL SELECT table_name, NULL FROM information_schema.tables--", Technique: "union", IsMalicious: true},
		{Payload: "' OR '1'='1", Technique: "boolean_blind", IsMalicious: true},
		{Payload: "1' AND 1=1--", Technique: "boolean_blind", IsMalicious: true},
		{Payload: "admin' OR 1=1#", Technique: "boolean_blind", IsMalicious: true},
		{Payload: "1' AND SLEEP(5)--", Technique: "time_blind", IsMalicious: true},
		{Payload: "'; WAITFOR DELAY '0:0:5'--", Technique: "time_blind", IsMalicious: true},
		{Payload: "1 AND pg_sleep(5)", Technique: "time_blind", IsMalicious: true},
		{Payload: "' AND extractvalue(1, concat(0x7e, version()))--", Technique: "error_based", IsMalicious: true},
		{Payload: "' AND updatexml(NULL, concat(0x7e, user()), NULL)--", Technique: "error_based", IsMalicious: true},
		{Payload: "CAST((SELECT version()) AS int)", Technique: "error_based", IsMalicious: true},

		{Payload: "please select a union shift for tomorrow", Technique: "union", IsMalicious: false},
		{Payload: "the credit union selected a new president", Technique: "union", IsMalicious: false},
		{Payload: "where is the nearest coffee shop", Technique: "boolean_blind", IsMalicious: false},
		{Payload: "1 plus 1 equals 2", Technique: "boolean_blind", IsMalicious: false},
		{Payload: "I will sleep for five hours", Technique: "time_blind", IsMalicious: false},
		{Payload: "please wait for the delayed train", Technique: "time_blind", IsMalicious: false},
		{Payload: "what version is this software", Technique: "error_based", IsMalicious: false},
		{Payload: "concatenate the two reports", Technique: "error_based", IsMalicious: false},
	}
}

// PatternPurpleAgent is a simple keyword-matching detector used for
// self-contained runs and tests
type PatternPurpleAgent struct {
	name     string
	patterns []string
}

// NewPatternPurpleAgent creates a detector matching any of the given
// case-insensitive substrings
func NewPatternPurpleAgent(name string, patterns []string) *PatternPurpleAgent {
	return &PatternPurpleAgent{name: name, patterns: patterns}
}

// NewSQLPatternPurpleAgent creates the default SQLi keyword detector
func NewSQLPatternPurpleAgent() *PatternPurpleAgent {
	return NewPatternPurpleAgent("pattern_sqli_detector", []string{
		"union select", "or 1=1", "or '1'='1", "sleep(", "waitfor delay",
		"pg_sleep", "extractvalue", "updatexml", "information_schema",
	})
}

// Detect reports whether any pattern occurs in the payload
func (p *PatternPurpleAgent) Detect(ctx context.Context, attack *types.Attack) (*types.TestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lower := strings.ToLower(attack.Payload)
	for _, pattern := range p.patterns {
		if strings.Contains(lower, pattern) {
			result := types.NewTestResult(attack, p.name, true, 0.95)
			result.DetectionReason = "matched pattern: " + pattern
			return result, nil
		}
	}
	return types.NewTestResult(attack, p.name, false, 0.8), nil
}

// Name returns the detector name
func (p *PatternPurpleAgent) Name() string { return p.name }

// Reset is a no-op for the stateless pattern detector
func (p *PatternPurpleAgent) Reset() {}
