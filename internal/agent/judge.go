package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/consensus"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/generator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/knowledge"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// JudgeAgent collects one binary vote per judge generator for every
// attack/result pair and calibrates them with the Dawid-Skene model. A
// judge whose generation call fails falls back to the raw detection
// result instead of aborting consensus.
type JudgeAgent struct {
	BaseAgent
	judges []generator.Generator
	model  *consensus.Model
}

// NewJudgeAgent creates a judge panel over the given generators.
func NewJudgeAgent(id string, kb knowledge.Base, judges []generator.Generator, model *consensus.Model, logger *zap.Logger) *JudgeAgent {
	caps := types.AgentCapabilities{
		Capabilities:      types.NewCapabilitySet(types.CapabilityDebate, types.CapabilityEvaluate),
		Role:              types.RoleJudge,
		RequiresLLM:       true,
		CostPerInvocation: 0.15 * float64(len(judges)),
		AvgLatencyMS:      2000,
	}
	if model == nil {
		model = consensus.NewModel(0)
	}
	return &JudgeAgent{
		BaseAgent: newBaseAgent(id, caps, kb, logger),
		judges:    judges,
		model:     model,
	}
}

// CanExecute reports whether the task is a consensus judgment task.
func (j *JudgeAgent) CanExecute(task *types.Task) bool {
	return task != nil && task.Type == types.TaskJudge
}

// Execute runs the judge panel and returns calibrated verdicts plus the
// estimated per-judge reliability matrices.
func (j *JudgeAgent) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params, ok := task.Params.(types.JudgeParams)
	if !ok {
		return errResult("judge task %s carries %T, want JudgeParams", task.TaskID, task.Params), nil
	}
	if len(params.Attacks) == 0 || len(params.Attacks) != len(params.Results) {
		return errResult("judge task %s needs matched attacks and results, got %d/%d",
			task.TaskID, len(params.Attacks), len(params.Results)), nil
	}
	if len(j.judges) == 0 {
		return errResult("judge task %s has no judges configured", task.TaskID), nil
	}

	votes := j.collectVotes(ctx, params.Attacks, params.Results)
	posteriors, reliability, err := j.model.Run(votes)
	if err != nil {
		return errResult("consensus failed: %v", err), nil
	}

	verdicts := make([]*types.ConsensusVerdict, 0, len(posteriors))
	for _, p := range posteriors {
		verdicts = append(verdicts, &types.ConsensusVerdict{
			AttackID:   p.ItemID,
			Detected:   p.Label == 1,
			Confidence: p.Confidence,
			NumJudges:  len(j.judges),
		})
	}

	j.share("judgment", map[string]any{
		"num_items":  len(params.Attacks),
		"num_judges": len(j.judges),
	}, "judgment", "consensus")

	j.recordContribution()
	return okResult(map[string]any{
		"verdicts":    verdicts,
		"reliability": reliability,
	}), nil
}

func (j *JudgeAgent) collectVotes(ctx context.Context, attacks []*types.Attack, results []*types.TestResult) []consensus.Vote {
	votes := make([]consensus.Vote, 0, len(attacks)*len(j.judges))
	for i, attack := range attacks {
		result := results[i]
		for n, judge := range j.judges {
			judgeID := fmt.Sprintf("judge_%d", n)
			votes = append(votes, consensus.Vote{
				ItemID:  attack.AttackID,
				JudgeID: judgeID,
				Label:   j.vote(ctx, judge, attack, result),
			})
		}
	}
	return votes
}

// vote asks one judge whether the attack should be flagged. Generation
// failure falls back to the raw detection result.
func (j *JudgeAgent) vote(ctx context.Context, judge generator.Generator, attack *types.Attack, result *types.TestResult) int {
	detectedWord := "Not Detected"
	if result.Detected {
		detectedWord = "Detected"
	}
	prompt := fmt.Sprintf(`Judge this security detection outcome.

Attack payload: %s
Technique: %s
Detector verdict: %s (confidence %.3f)

Should this payload be flagged as an attack? Answer YES or NO.`,
		attack.Payload, attack.Technique, detectedWord, result.Confidence)

	response, err := judge.Generate(ctx, prompt, 10, 0.3)
	if err != nil {
		j.logger.Debug("judge unavailable, using raw detection",
			zap.String("judge", judge.Name()),
			zap.Error(err))
		if result.Detected {
			return 1
		}
		return 0
	}

	if strings.Contains(strings.ToUpper(response), "YES") {
		return 1
	}
	return 0
}
