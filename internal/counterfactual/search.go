// Package counterfactual finds minimal payload edits that flip a missed
// detection into a caught one. Given an evasion, a bounded beam search
// over single edits answers the question "what is the smallest change
// that would have triggered the detector?".
package counterfactual

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// securityChars are inserted at early payload positions; detectors keyed
// on syntax markers often trip on exactly these.
var securityChars = []string{"'", "\"", ";", "(", ")", "--", "#"}

// obfuscations are substrings whose removal deobfuscates a payload.
var obfuscations = []string{"/*", "*/", "%20", "%00", "null"}

// beamEntry is one partial solution: an edited attack plus the edits
// that produced it.
type beamEntry struct {
	attack *types.Attack
	edits  []string
}

// Searcher runs beam search over minimal payload edits.
type Searcher struct {
	scn       scenario.Scenario
	gen       generator.Generator
	logger    *zap.Logger
	beamWidth int
	maxDepth  int
}

// NewSearcher creates a Searcher with the default beam width of 5 and
// maximum edit depth of 3.
func NewSearcher(scn scenario.Scenario) *Searcher {
	return &Searcher{
		scn:       scn,
		logger:    zap.NewNop(),
		beamWidth: 5,
		maxDepth:  3,
	}
}

// WithBeamWidth sets how many partial solutions survive each depth.
func (s *Searcher) WithBeamWidth(width int) *Searcher {
	if width > 0 {
		s.beamWidth = width
	}
	return s
}

// WithMaxDepth sets the maximum number of stacked edits.
func (s *Searcher) WithMaxDepth(depth int) *Searcher {
	if depth > 0 {
		s.maxDepth = depth
	}
	return s
}

// WithGenerator enables the model-backed minimal-fix shortcut. The
// suggestion is only accepted when a retest confirms detection.
func (s *Searcher) WithGenerator(gen generator.Generator) *Searcher {
	s.gen = gen
	return s
}

// WithLogger sets the structured logger.
func (s *Searcher) WithLogger(logger *zap.Logger) *Searcher {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Analyze finds the smallest set of edits that makes the evasion
// detectable. Returns nil when no counterfactual exists within maxDepth.
func (s *Searcher) Analyze(ctx context.Context, evasion *types.Attack, target scenario.PurpleAgent) (*types.CounterfactualResult, error) {
	if evasion == nil || target == nil {
		return nil, fmt.Errorf("counterfactual: evasion attack and target are required")
	}

	s.logger.Debug("analyzing evasion",
		zap.String("attack_id", evasion.AttackID),
		zap.String("technique", evasion.Technique))

	if s.gen != nil {
		if result := s.modelSuggestedFix(ctx, evasion, target); result != nil {
			return result, nil
		}
	}

	return s.beamSearch(ctx, evasion, target), nil
}

// beamSearch explores single-edit neighbors breadth-first, keeping the
// beamWidth cheapest partial solutions per depth.
func (s *Searcher) beamSearch(ctx context.Context, evasion *types.Attack, target scenario.PurpleAgent) *types.CounterfactualResult {
	// Detection is verified through the same execution path the
	// evaluation uses, so sandbox and validity semantics carry over.
	testFn := func(attack *types.Attack) (bool, float64) {
		select {
		case <-ctx.Done():
			return false, 0
		default:
		}
		result := s.scn.ExecuteAttack(ctx, attack, target)
		if result == nil || !result.IsValid {
			return false, 0
		}
		return result.Detected, result.Confidence
	}

	beam := []beamEntry{{attack: evasion}}
	var best *types.CounterfactualResult

	for depth := 0; depth < s.maxDepth; depth++ {
		var next []beamEntry

		for _, entry := range beam {
			for _, cand := range s.editCandidates(entry.attack) {
				detected, confidence := testFn(cand.attack)
				edits := append(append([]string(nil), entry.edits...), cand.edit)

				if detected {
					if best == nil || len(edits) < best.EditDistance {
						best = &types.CounterfactualResult{
							AttackID:              evasion.AttackID,
							OriginalPayload:       evasion.Payload,
							CounterfactualPayload: cand.attack.Payload,
							EditDistance:          len(edits),
							Edits:                 edits,
							NowDetected:           true,
							Explanation:           explain(evasion.Payload, cand.attack.Payload, edits),
							Confidence:            confidence,
						}
					}
					continue
				}
				next = append(next, beamEntry{attack: cand.attack, edits: edits})
			}
		}

		sort.SliceStable(next, func(i, j int) bool {
			return len(next[i].edits) < len(next[j].edits)
		})
		if len(next) > s.beamWidth {
			next = next[:s.beamWidth]
		}
		beam = next

		// A single-edit counterfactual cannot be improved on.
		if best != nil && best.EditDistance <= 1 {
			break
		}
	}

	if best != nil {
		s.logger.Debug("counterfactual found",
			zap.String("attack_id", evasion.AttackID),
			zap.Int("edit_distance", best.EditDistance))
	}
	return best
}

type editCandidate struct {
	attack *types.Attack
	edit   string
}

// editCandidates enumerates the single-edit neighbors of an attack:
// character removal at every position past the first, security-character
// insertion at the first five positions, and removal of one known
// obfuscation substring.
func (s *Searcher) editCandidates(attack *types.Attack) []editCandidate {
	// Edit by rune so multi-byte payloads never yield invalid UTF-8
	// candidates.
	payload := []rune(attack.Payload)
	var candidates []editCandidate

	for i := 1; i < len(payload); i++ {
		edited := string(payload[:i]) + string(payload[i+1:])
		candidates = append(candidates, editCandidate{
			attack: s.deriveAttack(attack, edited, "removal"),
			edit:   fmt.Sprintf("remove character %q at position %d", payload[i], i),
		})
	}

	limit := len(payload)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		for _, ch := range securityChars {
			edited := string(payload[:i]) + ch + string(payload[i:])
			candidates = append(candidates, editCandidate{
				attack: s.deriveAttack(attack, edited, "addition"),
				edit:   fmt.Sprintf("insert %q at position %d", ch, i),
			})
		}
	}

	for _, obf := range obfuscations {
		if !strings.Contains(attack.Payload, obf) {
			continue
		}
		edited := strings.Replace(attack.Payload, obf, "", 1)
		candidates = append(candidates, editCandidate{
			attack: s.deriveAttack(attack, edited, "deobfuscation"),
			edit:   fmt.Sprintf("remove obfuscation pattern %q", obf),
		})
	}

	return candidates
}

func (s *Searcher) deriveAttack(parent *types.Attack, payload, editType string) *types.Attack {
	attack := s.scn.CreateAttack(parent.Technique, payload, map[string]string{
		"edit_type": editType,
	})
	attack.ParentAttackID = parent.AttackID
	return attack
}

// modelSuggestedFix asks the generator for a single semantic minimal fix
// and accepts it only when a retest confirms the edited payload is
// detected. Any failure falls back to beam search.
func (s *Searcher) modelSuggestedFix(ctx context.Context, evasion *types.Attack, target scenario.PurpleAgent) *types.CounterfactualResult {
	prompt := fmt.Sprintf(`You are a security expert analyzing why an attack evaded detection.

Attack that EVADED detection:
Payload: %s
Technique: %s

Scenario: %s

Your task:
1. Identify WHY this attack evaded detection (obfuscation, encoding, etc.)
2. Suggest the MINIMAL change to make it detectable
3. Provide a remediation recommendation for the detector

Respond in this format:
EVASION_REASON: <why it evaded>
MINIMAL_FIX: <the smallest payload change to make it detectable>
REMEDIATION: <recommendation for improving the detector>
`, evasion.Payload, evasion.Technique, s.scn.Name())

	response, err := s.gen.Generate(ctx, prompt, 400, 0.5)
	if err != nil {
		s.logger.Debug("remediation suggestion failed, using beam search", zap.Error(err))
		return nil
	}

	reason, fix, remediation := parseRemediation(response)
	if fix == "" {
		return nil
	}

	candidate := s.scn.CreateAttack(evasion.Technique, fix, map[string]string{
		"source": "model_remediation",
	})
	result := s.scn.ExecuteAttack(ctx, candidate, target)
	if result == nil || !result.IsValid || !result.Detected {
		s.logger.Debug("suggested fix not detected on retest",
			zap.String("attack_id", evasion.AttackID))
		return nil
	}

	explanation := fmt.Sprintf("Evasion reason: %s\n\nMinimal fix: %s\n\nRemediation: %s\n\nOriginal payload: %s\nSuggested payload (would be detected): %s",
		reason, fix, remediation, evasion.Payload, fix)

	return &types.CounterfactualResult{
		AttackID:              evasion.AttackID,
		OriginalPayload:       evasion.Payload,
		CounterfactualPayload: fix,
		EditDistance:          1,
		Edits:                 []string{"model-suggested minimal fix: " + fix},
		NowDetected:           true,
		Explanation:           explanation,
		Confidence:            result.Confidence,
	}
}

func parseRemediation(response string) (reason, fix, remediation string) {
	for _, line := range strings.Split(response, "\n") {
		switch {
		case strings.HasPrefix(line, "EVASION_REASON:"):
			reason = strings.TrimSpace(strings.TrimPrefix(line, "EVASION_REASON:"))
		case strings.HasPrefix(line, "MINIMAL_FIX:"):
			fix = strings.TrimSpace(strings.TrimPrefix(line, "MINIMAL_FIX:"))
		case strings.HasPrefix(line, "REMEDIATION:"):
			remediation = strings.TrimSpace(strings.TrimPrefix(line, "REMEDIATION:"))
		}
	}
	return reason, fix, remediation
}

func explain(original, counterfactual string, edits []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The attack evaded detection with payload: %s\n\n", original)
	fmt.Fprintf(&b, "Minimal edits to make it detectable (%d):\n", len(edits))
	for i, edit := range edits {
		fmt.Fprintf(&b, "%d. %s\n", i+1, edit)
	}
	fmt.Fprintf(&b, "\nResulting payload would be: %s\n", counterfactual)
	b.WriteString("\nRecommendation: update detection rules to catch patterns similar to the original payload.")
	return b.String()
}
