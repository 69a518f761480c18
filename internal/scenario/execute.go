package scenario

import (
	"context"
	"time"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// ExecuteAgainst runs one attack against the target and classifies the
// outcome. Communication failures are marked invalid rather than counted
// as detection outcomes, so they cannot masquerade as vulnerabilities or
// clean passes.
func ExecuteAgainst(ctx context.Context, attack *types.Attack, target PurpleAgent) *types.TestResult {
	start := time.Now()
	result, err := target.Detect(ctx, attack)
	latency := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		invalid := types.NewTestResult(attack, target.Name(), false, 0)
		invalid.IsValid = false
		invalid.ErrorType = "communication_error"
		invalid.DetectionReason = err.Error()
		invalid.LatencyMS = latency
		return invalid
	}

	if result == nil {
		invalid := types.NewTestResult(attack, target.Name(), false, 0)
		invalid.IsValid = false
		invalid.ErrorType = "empty_result"
		invalid.LatencyMS = latency
		return invalid
	}

	if result.LatencyMS == 0 {
		result.LatencyMS = latency
	}
	result.Outcome = types.CalculateOutcome(attack.IsMalicious, result.Detected)
	return result
}
