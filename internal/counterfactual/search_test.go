package counterfactual

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
)

type scriptedGenerator struct {
	response string
	err      error
	calls    int
}

func (s *scriptedGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	s.calls++
	return s.response, s.err
}

func (s *scriptedGenerator) Name() string  { return "scripted" }
func (s *scriptedGenerator) Model() string { return "scripted-model" }

func TestSingleInsertionCounterfactual(t *testing.T) {
	// The detector keys on a single quote; the evasion lacks one, so a
	// one-character insertion must flip it.
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewPatternPurpleAgent("quote_detector", []string{"'"})
	evasion := scn.CreateAttack("boolean_blind", "admin or 1 like 1", nil)

	result, err := NewSearcher(scn).Analyze(context.Background(), evasion, target)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a counterfactual, got nil")
	}
	if result.EditDistance != 1 {
		t.Errorf("edit distance = %d, want 1", result.EditDistance)
	}
	if !result.NowDetected {
		t.Error("counterfactual must be detected")
	}
	if !strings.Contains(result.CounterfactualPayload, "'") {
		t.Errorf("edited payload %q does not contain the inserted quote", result.CounterfactualPayload)
	}
	if result.OriginalPayload != evasion.Payload {
		t.Errorf("original payload = %q, want %q", result.OriginalPayload, evasion.Payload)
	}
	if len(result.Edits) != 1 {
		t.Errorf("expected 1 edit, got %d: %v", len(result.Edits), result.Edits)
	}
}

func TestEditCandidatesPreserveUTF8(t *testing.T) {
	// Full-width and accented characters are common in homoglyph
	// payloads; edits must not split their encodings.
	scn := scenario.NewSQLInjectionScenario()
	s := NewSearcher(scn)
	attack := scn.CreateAttack("union", "1 ＵＮＩＯＮ sélect pässword", nil)

	candidates := s.editCandidates(attack)
	if len(candidates) == 0 {
		t.Fatal("expected edit candidates")
	}
	for _, cand := range candidates {
		if !utf8.ValidString(cand.attack.Payload) {
			t.Errorf("edit %q produced invalid UTF-8: %q", cand.edit, cand.attack.Payload)
		}
	}
}

func TestObfuscationRemovalCounterfactual(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewPatternPurpleAgent("keyword_detector", []string{"union select"})
	evasion := scn.CreateAttack("union", "1 union %20select password from users", nil)

	result, err := NewSearcher(scn).Analyze(context.Background(), evasion, target)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a counterfactual, got nil")
	}
	if result.EditDistance != 1 {
		t.Errorf("edit distance = %d, want 1", result.EditDistance)
	}
	if !strings.Contains(strings.ToLower(result.CounterfactualPayload), "union select") {
		t.Errorf("edited payload %q does not realign the keyword", result.CounterfactualPayload)
	}
}

func TestCharacterRemovalCounterfactual(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewPatternPurpleAgent("sleep_detector", []string{"sleep("})
	evasion := scn.CreateAttack("time_blind", "1 and sleepx(5)", nil)

	result, err := NewSearcher(scn).Analyze(context.Background(), evasion, target)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a counterfactual, got nil")
	}
	if result.EditDistance != 1 {
		t.Errorf("edit distance = %d, want 1", result.EditDistance)
	}
}

func TestNoCounterfactualWithinDepth(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	// Nothing in the edit space can produce this pattern.
	target := scenario.NewPatternPurpleAgent("unreachable", []string{"zzzz_never_matches_zzzz"})
	evasion := scn.CreateAttack("union", "1 union all", nil)

	result, err := NewSearcher(scn).WithMaxDepth(2).Analyze(context.Background(), evasion, target)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if result != nil {
		t.Errorf("expected no counterfactual, got %+v", result)
	}
}

func TestAnalyzeRejectsNilInput(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	if _, err := NewSearcher(scn).Analyze(context.Background(), nil, scenario.NewSQLPatternPurpleAgent()); err == nil {
		t.Error("expected error for nil evasion")
	}
	evasion := scn.CreateAttack("union", "1 union all", nil)
	if _, err := NewSearcher(scn).Analyze(context.Background(), evasion, nil); err == nil {
		t.Error("expected error for nil target")
	}
}

func TestModelFixAcceptedOnlyWhenDetected(t *testing.T) {
	scn := scenario.NewSQLInjectionScenario()
	target := scenario.NewPatternPurpleAgent("quote_detector", []string{"'"})
	evasion := scn.CreateAttack("boolean_blind", "admin or 1 like 1", nil)

	t.Run("accepted when retest detects", func(t *testing.T) {
		gen := &scriptedGenerator{response: "EVASION_REASON: missing quote\nMINIMAL_FIX: admin' or 1 like 1\nREMEDIATION: also match unquoted boolean clauses"}
		result, err := NewSearcher(scn).WithGenerator(gen).Analyze(context.Background(), evasion, target)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result == nil {
			t.Fatal("expected a counterfactual, got nil")
		}
		if result.CounterfactualPayload != "admin' or 1 like 1" {
			t.Errorf("payload = %q, want suggested fix", result.CounterfactualPayload)
		}
		if result.EditDistance != 1 {
			t.Errorf("edit distance = %d, want 1", result.EditDistance)
		}
	})

	t.Run("rejected suggestion falls back to beam search", func(t *testing.T) {
		gen := &scriptedGenerator{response: "MINIMAL_FIX: still no quote here"}
		result, err := NewSearcher(scn).WithGenerator(gen).Analyze(context.Background(), evasion, target)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if gen.calls != 1 {
			t.Errorf("generator called %d times, want 1", gen.calls)
		}
		if result == nil {
			t.Fatal("beam search fallback should still find a counterfactual")
		}
		if !strings.Contains(result.CounterfactualPayload, "'") {
			t.Errorf("fallback payload %q does not contain a quote", result.CounterfactualPayload)
		}
	})

	t.Run("generator error falls back to beam search", func(t *testing.T) {
		gen := &scriptedGenerator{err: errors.New("rate limited")}
		result, err := NewSearcher(scn).WithGenerator(gen).Analyze(context.Background(), evasion, target)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if result == nil {
			t.Fatal("beam search fallback should still find a counterfactual")
		}
	})
}
