// Package scenario defines the external contracts the evaluation core
// consumes: the scenario supplying domain attack logic, its mutators and
// validators, and the purple agent under test.
package scenario

import (
	"context"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// PurpleAgent is the system under test. The core never inspects its
// internals; all adjudication goes through Detect.
type PurpleAgent interface {
	Detect(ctx context.Context, attack *types.Attack) (*types.TestResult, error)
	Name() string
	Reset()
}

// Mutator produces deterministic payload variants
type Mutator interface {
	Mutate(attack *types.Attack) []*types.Attack
	MutationType() string
}

// Validator vets an attack before it is spent against the target
type Validator interface {
	Validate(attack *types.Attack) (bool, string)
	ValidatorType() string
}

// BaselineSample is a labeled payload used for boundary probing
type BaselineSample struct {
	Payload     string
	Technique   string
	IsMalicious bool
}

// Scenario supplies the domain attack logic the generic core drives
type Scenario interface {
	Name() string
	Techniques() []string
	Mutators() []Mutator
	Validators() []Validator
	CreateAttack(technique, payload string, metadata map[string]string) *types.Attack
	ExecuteAttack(ctx context.Context, attack *types.Attack, target PurpleAgent) *types.TestResult
	BaselineDataset() []BaselineSample
}

// MutatorFunc adapts a function into a Mutator
type MutatorFunc struct {
	Type string
	Fn   func(attack *types.Attack) []*types.Attack
}

// Mutate applies the wrapped function
func (m MutatorFunc) Mutate(attack *types.Attack) []*types.Attack {
	return m.Fn(attack)
}

// MutationType returns the mutation tag recorded on children
func (m MutatorFunc) MutationType() string {
	return m.Type
}
