package types

import "sort"

// Capability represents a skill an agent can contribute to a coalition
type Capability string

const (
	CapabilityProbe    Capability = "probe"
	CapabilityGenerate Capability = "generate"
	CapabilityMutate   Capability = "mutate"
	CapabilityValidate Capability = "validate"
	CapabilityEvaluate Capability = "evaluate"
	CapabilityDebate   Capability = "debate"
)

// AgentRole tags the closed set of agent variants
type AgentRole string

const (
	RoleBoundaryProber AgentRole = "boundary_prober"
	RoleExploiter      AgentRole = "exploiter"
	RoleMutator        AgentRole = "mutator"
	RoleValidator      AgentRole = "validator"
	RoleJudge          AgentRole = "judge"
	RoleCounterfactual AgentRole = "counterfactual"
	RolePerspective    AgentRole = "perspective"
)

// CapabilitySet is a set of capabilities keyed by value
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from its members
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports set membership
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Intersects reports whether the two sets share any capability
func (s CapabilitySet) Intersects(other CapabilitySet) bool {
	for c := range other {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether s is a superset of required
func (s CapabilitySet) ContainsAll(required CapabilitySet) bool {
	for c := range required {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// List returns the members as sorted strings so records built from sets
// are stable across runs
func (s CapabilitySet) List() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// AgentCapabilities declares what an agent offers and what it costs
type AgentCapabilities struct {
	Capabilities      CapabilitySet `json:"-" yaml:"-"`
	Role              AgentRole     `json:"role" yaml:"role"`
	RequiresLLM       bool          `json:"requires_llm" yaml:"requires_llm"`
	CostPerInvocation float64       `json:"cost_per_invocation" yaml:"cost_per_invocation"`
	AvgLatencyMS      float64       `json:"avg_latency_ms" yaml:"avg_latency_ms"`
}

// Phase is a state of the orchestrator's evaluation state machine
type Phase string

const (
	PhaseExploration  Phase = "exploration"
	PhaseExploitation Phase = "exploitation"
	PhaseValidation   Phase = "validation"
	PhaseConsensus    Phase = "consensus"
	PhaseComplete     Phase = "complete"
)

// CoalitionStatus tracks a coalition through its ephemeral lifecycle
type CoalitionStatus string

const (
	CoalitionActive    CoalitionStatus = "active"
	CoalitionCompleted CoalitionStatus = "completed"
	CoalitionFailed    CoalitionStatus = "failed"
	CoalitionDissolved CoalitionStatus = "dissolved"
)
