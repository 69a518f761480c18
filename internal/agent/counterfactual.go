package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/counterfactual"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// CounterfactualAgent explains evasions: for a missed detection it finds
// the minimal payload edit that would have been caught.
type CounterfactualAgent struct {
	BaseAgent
	searcher *counterfactual.Searcher
	target   scenario.PurpleAgent
}

// NewCounterfactualAgent wraps a beam searcher as a coalition member.
func NewCounterfactualAgent(id string, kb knowledge.Base, searcher *counterfactual.Searcher, target scenario.PurpleAgent, logger *zap.Logger) *CounterfactualAgent {
	caps := types.AgentCapabilities{
		Capabilities: types.NewCapabilitySet(types.CapabilityEvaluate),
		Role:         types.RoleCounterfactual,
		AvgLatencyMS: 500,
	}
	return &CounterfactualAgent{
		BaseAgent: newBaseAgent(id, caps, kb, logger),
		searcher:  searcher,
		target:    target,
	}
}

// CanExecute reports whether the task is a counterfactual analysis.
func (c *CounterfactualAgent) CanExecute(task *types.Task) bool {
	return task != nil && task.Type == types.TaskCounterfactual
}

// Execute analyzes one evasion. Non-evasions are rejected as malformed
// input; a search that finds nothing within depth is still a success,
// with a nil counterfactual in the result data.
func (c *CounterfactualAgent) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params, ok := task.Params.(types.CounterfactualParams)
	if !ok {
		return errResult("counterfactual task %s carries %T, want CounterfactualParams", task.TaskID, task.Params), nil
	}
	if params.Attack == nil || params.Result == nil {
		return errResult("counterfactual task %s missing attack or result", task.TaskID), nil
	}
	if !params.Result.IsEvasion() {
		return errResult("counterfactual task %s: result %s is not an evasion", task.TaskID, params.Result.ResultID), nil
	}

	result, err := c.searcher.Analyze(ctx, params.Attack, c.target)
	if err != nil {
		return errResult("counterfactual search: %v", err), nil
	}

	data := map[string]any{
		"attack_id": params.Attack.AttackID,
		"found":     result != nil,
	}
	if result != nil {
		data["counterfactual"] = result
		c.share("counterfactual", map[string]any{
			"attack_id":     result.AttackID,
			"edit_distance": result.EditDistance,
		}, "counterfactual", "remediation")
		c.logger.Debug("evasion explained",
			zap.String("attack_id", result.AttackID),
			zap.Int("edit_distance", result.EditDistance))
	}

	c.recordContribution()
	return okResult(data), nil
}
