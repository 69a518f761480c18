package orchestrator

import (
	"sync"

	"go.uber.org/zap"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// phaseShares allocates the run budget across phases. Exploitation
// carries the bulk since attack generation is where spend buys signal.
var phaseShares = map[types.Phase]float64{
	types.PhaseExploration:  0.15,
	types.PhaseExploitation: 0.50,
	types.PhaseValidation:   0.20,
	types.PhaseConsensus:    0.15,
}

// BudgetEnforcer tracks spend against a total budget and per-phase
// allocations. Enforcement is cooperative: callers check CanAfford
// before committing to work; nothing in flight is preempted.
type BudgetEnforcer struct {
	mu     sync.Mutex
	logger *zap.Logger

	total      float64
	spent      float64
	phaseSpent map[types.Phase]float64
}

// NewBudgetEnforcer creates an enforcer for a total budget in USD.
func NewBudgetEnforcer(totalUSD float64, logger *zap.Logger) *BudgetEnforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetEnforcer{
		logger:     logger,
		total:      totalUSD,
		phaseSpent: make(map[types.Phase]float64),
	}
}

// CanAfford reports whether a cost fits both the total budget and the
// phase's allocation.
func (b *BudgetEnforcer) CanAfford(phase types.Phase, cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spent+cost > b.total {
		b.logger.Warn("total budget exceeded",
			zap.Float64("projected", b.spent+cost),
			zap.Float64("total", b.total))
		return false
	}

	share, ok := phaseShares[phase]
	if !ok {
		share = 0.25
	}
	allocation := b.total * share
	if b.phaseSpent[phase]+cost > allocation {
		b.logger.Warn("phase budget exceeded",
			zap.String("phase", string(phase)),
			zap.Float64("projected", b.phaseSpent[phase]+cost),
			zap.Float64("allocation", allocation))
		return false
	}
	return true
}

// RecordCost books spend against the total and the phase. Crossing 80%
// of the total budget logs an alert with the remaining headroom.
func (b *BudgetEnforcer) RecordCost(phase types.Phase, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.spent += cost
	b.phaseSpent[phase] += cost

	if b.spent > b.total*0.8 {
		b.logger.Warn("budget alert",
			zap.Float64("remaining", b.total-b.spent),
			zap.Float64("total", b.total))
	}
}

// PhaseBudget summarizes one phase's allocation and spend.
type PhaseBudget struct {
	Allocated float64 `json:"allocated" yaml:"allocated"`
	Spent     float64 `json:"spent" yaml:"spent"`
	Remaining float64 `json:"remaining" yaml:"remaining"`
}

// BudgetStatus is a point-in-time snapshot of the enforcer.
type BudgetStatus struct {
	Total          float64                     `json:"total" yaml:"total"`
	Spent          float64                     `json:"spent" yaml:"spent"`
	Remaining      float64                     `json:"remaining" yaml:"remaining"`
	UtilizationPct float64                     `json:"utilization_pct" yaml:"utilization_pct"`
	Phases         map[types.Phase]PhaseBudget `json:"phases" yaml:"phases"`
}

// Status snapshots the current budget state.
func (b *BudgetEnforcer) Status() BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := BudgetStatus{
		Total:     b.total,
		Spent:     b.spent,
		Remaining: b.total - b.spent,
		Phases:    make(map[types.Phase]PhaseBudget, len(phaseShares)),
	}
	if b.total > 0 {
		status.UtilizationPct = b.spent / b.total * 100
	}
	for phase, share := range phaseShares {
		allocated := b.total * share
		spent := b.phaseSpent[phase]
		status.Phases[phase] = PhaseBudget{
			Allocated: allocated,
			Spent:     spent,
			Remaining: allocated - spent,
		}
	}
	return status
}
