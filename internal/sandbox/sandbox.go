// Package sandbox isolates a purple agent behind a fail-open wrapper:
// any internal failure is converted into an undetected verdict instead
// of propagating, so one broken call never crashes an evaluation run.
// The policy deliberately assumes evasion on failure; callers who care
// can tell the cases apart by the detection reason.
package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// Agent wraps a purple agent with panic recovery and error absorption.
type Agent struct {
	inner  scenario.PurpleAgent
	logger *zap.Logger
}

// Wrap layers the sandbox over a purple agent.
func Wrap(inner scenario.PurpleAgent, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		inner:  inner,
		logger: logger.With(zap.String("sandboxed", inner.Name())),
	}
}

// Detect forwards to the wrapped agent. Errors and panics become an
// undetected result with an explanatory reason.
func (a *Agent) Detect(ctx context.Context, attack *types.Attack) (result *types.TestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("purple agent panicked", zap.Any("panic", r))
			result = a.failOpen(attack, fmt.Sprintf("sandbox recovered panic: %v", r))
			err = nil
		}
	}()

	result, err = a.inner.Detect(ctx, attack)
	if err != nil {
		a.logger.Warn("purple agent failed", zap.Error(err))
		return a.failOpen(attack, "sandbox absorbed failure: "+err.Error()), nil
	}
	if result == nil {
		return a.failOpen(attack, "sandbox absorbed empty result"), nil
	}
	return result, nil
}

// Name reports the wrapped agent's name.
func (a *Agent) Name() string { return a.inner.Name() }

// Reset forwards to the wrapped agent, absorbing panics.
func (a *Agent) Reset() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("reset panicked", zap.Any("panic", r))
		}
	}()
	a.inner.Reset()
}

func (a *Agent) failOpen(attack *types.Attack, reason string) *types.TestResult {
	result := types.NewTestResult(attack, a.inner.Name(), false, 0)
	result.DetectionReason = reason
	return result
}
