package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

type faultyAgent struct {
	err    error
	panics bool
	result *types.TestResult
}

func (f *faultyAgent) Detect(ctx context.Context, attack *types.Attack) (*types.TestResult, error) {
	if f.panics {
		panic("detector exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *faultyAgent) Name() string { return "faulty" }
func (f *faultyAgent) Reset() {
	if f.panics {
		panic("reset exploded")
	}
}

func maliciousAttack() *types.Attack {
	a := types.NewAttack("sql_injection", "union", "' UNION SELECT NULL--")
	a.IsMalicious = true
	return a
}

func TestDetectFailsOpenOnError(t *testing.T) {
	agent := Wrap(&faultyAgent{err: errors.New("connection refused")}, nil)

	result, err := agent.Detect(context.Background(), maliciousAttack())
	if err != nil {
		t.Fatalf("sandbox must absorb errors, got %v", err)
	}
	if result.Detected {
		t.Error("fail-open verdict must be undetected")
	}
	if !strings.Contains(result.DetectionReason, "connection refused") {
		t.Errorf("reason %q should carry the original failure", result.DetectionReason)
	}
}

func TestDetectFailsOpenOnPanic(t *testing.T) {
	agent := Wrap(&faultyAgent{panics: true}, nil)

	result, err := agent.Detect(context.Background(), maliciousAttack())
	if err != nil {
		t.Fatalf("sandbox must recover panics, got %v", err)
	}
	if result.Detected {
		t.Error("fail-open verdict must be undetected")
	}
	if !strings.Contains(result.DetectionReason, "panic") {
		t.Errorf("reason %q should mention the panic", result.DetectionReason)
	}
}

func TestDetectPassesThroughHealthyResults(t *testing.T) {
	attack := maliciousAttack()
	inner := types.NewTestResult(attack, "faulty", true, 0.9)
	agent := Wrap(&faultyAgent{result: inner}, nil)

	result, err := agent.Detect(context.Background(), attack)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result != inner {
		t.Error("healthy results must pass through unchanged")
	}
}

func TestDetectFailsOpenOnNilResult(t *testing.T) {
	agent := Wrap(&faultyAgent{}, nil)

	result, err := agent.Detect(context.Background(), maliciousAttack())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if result == nil || result.Detected {
		t.Error("nil inner result must fail open")
	}
}

func TestResetRecoversPanic(t *testing.T) {
	agent := Wrap(&faultyAgent{panics: true}, nil)
	agent.Reset() // must not panic
}
