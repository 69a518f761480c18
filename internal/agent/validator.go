package agent

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// ValidatorAgent vets attacks before they are spent against the target.
// Algorithmic validators run first; an optional model-backed semantic
// check runs on whatever passes. The semantic check defaults to valid
// on any generation failure so the port never blocks the pipeline.
type ValidatorAgent struct {
	BaseAgent
	validators []scenario.Validator
	gen        generator.Generator

	statsMu       sync.Mutex
	totalChecked  int
	totalValid    int
	invalidByType map[string]int
}

// NewValidatorAgent creates a validator over the scenario's validator
// chain. A nil generator disables the semantic check.
func NewValidatorAgent(id string, kb knowledge.Base, validators []scenario.Validator, gen generator.Generator, logger *zap.Logger) *ValidatorAgent {
	caps := types.AgentCapabilities{
		Capabilities: types.NewCapabilitySet(types.CapabilityValidate),
		Role:         types.RoleValidator,
		RequiresLLM:  gen != nil,
		AvgLatencyMS: 50,
	}
	if gen != nil {
		caps.CostPerInvocation = 0.03
		caps.AvgLatencyMS = 1000
	}
	return &ValidatorAgent{
		BaseAgent:     newBaseAgent(id, caps, kb, logger),
		validators:    validators,
		gen:           gen,
		invalidByType: make(map[string]int),
	}
}

// CanExecute reports whether the task is a validation task.
func (v *ValidatorAgent) CanExecute(task *types.Task) bool {
	return task != nil && task.Type == types.TaskValidate
}

// Execute partitions the attacks into valid and invalid, marking each
// attack's validity flags in place.
func (v *ValidatorAgent) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params, ok := task.Params.(types.ValidateParams)
	if !ok {
		return errResult("validate task %s carries %T, want ValidateParams", task.TaskID, task.Params), nil
	}
	if len(params.Attacks) == 0 {
		return okResult(map[string]any{
			"valid":   []*types.Attack{},
			"invalid": []*types.Attack{},
		}), nil
	}

	var valid, invalid []*types.Attack
	for _, attack := range params.Attacks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, reason := v.validate(ctx, attack)
		v.statsMu.Lock()
		v.totalChecked++
		if ok {
			v.totalValid++
		}
		v.statsMu.Unlock()

		attack.IsValid = ok
		if ok {
			valid = append(valid, attack)
		} else {
			attack.ValidationErrors = append(attack.ValidationErrors, reason)
			invalid = append(invalid, attack)
		}
	}

	v.statsMu.Lock()
	byType := make(map[string]int, len(v.invalidByType))
	for k, n := range v.invalidByType {
		byType[k] = n
	}
	v.statsMu.Unlock()

	v.share("validation", map[string]any{
		"total_validated": len(params.Attacks),
		"num_valid":       len(valid),
		"num_invalid":     len(invalid),
		"invalid_by_type": byType,
	}, "validation")

	v.recordContribution()
	return okResult(map[string]any{
		"valid":   valid,
		"invalid": invalid,
	}), nil
}

func (v *ValidatorAgent) validate(ctx context.Context, attack *types.Attack) (bool, string) {
	for _, validator := range v.validators {
		ok, msg := validator.Validate(attack)
		if !ok {
			v.countInvalid(validator.ValidatorType())
			return false, validator.ValidatorType() + ": " + msg
		}
	}
	if v.gen != nil {
		ok, msg := v.semanticCheck(ctx, attack)
		if !ok {
			v.countInvalid("semantic")
			return false, "semantic: " + msg
		}
	}
	return true, ""
}

func (v *ValidatorAgent) countInvalid(validatorType string) {
	v.statsMu.Lock()
	v.invalidByType[validatorType]++
	v.statsMu.Unlock()
}

// semanticCheck asks the generator whether the payload is a realistic,
// executable instance of its technique. Ambiguous or failed responses
// count as valid: a flaky port must not discard real attacks.
func (v *ValidatorAgent) semanticCheck(ctx context.Context, attack *types.Attack) (bool, string) {
	prompt := "You are a security expert validating attack test cases.\n\n" +
		"Attack payload:\n" + attack.Payload + "\n\n" +
		"Technique: " + attack.Technique + "\n\n" +
		"Validate this attack for realism, executability, and semantic correctness.\n\n" +
		"Answer in this format:\nVALID: YES or NO\nREASON: <brief explanation if NO>"

	response, err := v.gen.Generate(ctx, prompt, 150, 0.3)
	if err != nil {
		v.logger.Debug("semantic validation unavailable", zap.Error(err))
		return true, ""
	}

	upper := strings.ToUpper(response)
	switch {
	case strings.Contains(upper, "VALID: YES"):
		return true, ""
	case strings.Contains(upper, "VALID: NO"):
		reason := "semantic validation failed"
		for _, line := range strings.Split(response, "\n") {
			if strings.HasPrefix(line, "REASON:") {
				reason = strings.TrimSpace(strings.TrimPrefix(line, "REASON:"))
				break
			}
		}
		return false, reason
	default:
		return true, ""
	}
}
