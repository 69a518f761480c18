package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TestOutcome classifies a test result against ground truth
type TestOutcome string

const (
	OutcomeTruePositive  TestOutcome = "true_positive"
	OutcomeTrueNegative  TestOutcome = "true_negative"
	OutcomeFalsePositive TestOutcome = "false_positive"
	OutcomeFalseNegative TestOutcome = "false_negative"
)

// CalculateOutcome derives the confusion-matrix cell for a single test.
// A false negative is an evasion: a malicious attack that went undetected.
func CalculateOutcome(isMalicious, detected bool) TestOutcome {
	switch {
	case isMalicious && detected:
		return OutcomeTruePositive
	case isMalicious && !detected:
		return OutcomeFalseNegative
	case !isMalicious && detected:
		return OutcomeFalsePositive
	default:
		return OutcomeTrueNegative
	}
}

// TestResult represents one adjudication of one attack by the purple agent
type TestResult struct {
	ResultID        string      `json:"result_id" yaml:"result_id"`
	AttackID        string      `json:"attack_id" yaml:"attack_id"`
	PurpleAgent     string      `json:"purple_agent" yaml:"purple_agent"`
	Detected        bool        `json:"detected" yaml:"detected"`
	Confidence      float64     `json:"confidence" yaml:"confidence"`
	DetectionReason string      `json:"detection_reason,omitempty" yaml:"detection_reason,omitempty"`
	Outcome         TestOutcome `json:"outcome" yaml:"outcome"`
	LatencyMS       float64     `json:"latency_ms" yaml:"latency_ms"`

	// IsValid separates protocol/communication failures from genuine
	// detection outcomes. Invalid results are excluded from metrics.
	IsValid   bool      `json:"is_valid" yaml:"is_valid"`
	ErrorType string    `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// NewTestResult builds a valid result with the outcome derived from ground truth
func NewTestResult(attack *Attack, purpleAgent string, detected bool, confidence float64) *TestResult {
	now := time.Now()
	return &TestResult{
		ResultID:    CreateResultID(attack.AttackID, purpleAgent, now),
		AttackID:    attack.AttackID,
		PurpleAgent: purpleAgent,
		Detected:    detected,
		Confidence:  confidence,
		Outcome:     CalculateOutcome(attack.IsMalicious, detected),
		IsValid:     true,
		Timestamp:   now,
	}
}

// IsEvasion reports whether this result is a missed malicious attack
func (r *TestResult) IsEvasion() bool {
	return r.Outcome == OutcomeFalseNegative
}

// CreateResultID builds a readable unique result identifier
func CreateResultID(attackID, purpleAgent string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%d", attackID, purpleAgent, ts.UnixMicro())
}

// Metrics aggregates confusion-matrix counters and derived scores
type Metrics struct {
	TruePositives  int `json:"true_positives" yaml:"true_positives"`
	TrueNegatives  int `json:"true_negatives" yaml:"true_negatives"`
	FalsePositives int `json:"false_positives" yaml:"false_positives"`
	FalseNegatives int `json:"false_negatives" yaml:"false_negatives"`

	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1Score   float64 `json:"f1_score" yaml:"f1_score"`
	Accuracy  float64 `json:"accuracy" yaml:"accuracy"`
}

// Record counts a single valid result
func (m *Metrics) Record(outcome TestOutcome) {
	switch outcome {
	case OutcomeTruePositive:
		m.TruePositives++
	case OutcomeTrueNegative:
		m.TrueNegatives++
	case OutcomeFalsePositive:
		m.FalsePositives++
	case OutcomeFalseNegative:
		m.FalseNegatives++
	}
}

// Recalculate recomputes the derived scores. Zero denominators yield zero.
func (m *Metrics) Recalculate() {
	if m.TruePositives+m.FalsePositives > 0 {
		m.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	} else {
		m.Precision = 0
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		m.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	} else {
		m.Recall = 0
	}
	if m.Precision+m.Recall > 0 {
		m.F1Score = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	} else {
		m.F1Score = 0
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	} else {
		m.Accuracy = 0
	}
}

// Total returns the number of counted results
func (m *Metrics) Total() int {
	return m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
}

// CounterfactualResult records a minimal payload edit that flips an
// evasion into a detection
type CounterfactualResult struct {
	AttackID              string   `json:"attack_id" yaml:"attack_id"`
	OriginalPayload       string   `json:"original_payload" yaml:"original_payload"`
	CounterfactualPayload string   `json:"counterfactual_payload" yaml:"counterfactual_payload"`
	EditDistance          int      `json:"edit_distance" yaml:"edit_distance"`
	Edits                 []string `json:"edits" yaml:"edits"`
	NowDetected           bool     `json:"now_detected" yaml:"now_detected"`
	Explanation           string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Confidence            float64  `json:"confidence" yaml:"confidence"`
}

// ConsensusVerdict is a Dawid-Skene calibrated consensus label for one item
type ConsensusVerdict struct {
	AttackID   string  `json:"attack_id" yaml:"attack_id"`
	Detected   bool    `json:"detected" yaml:"detected"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	NumJudges  int     `json:"num_judges" yaml:"num_judges"`
}

// CoalitionRecord captures one formed coalition for the run history
type CoalitionRecord struct {
	CoalitionID  string   `json:"coalition_id" yaml:"coalition_id"`
	Phase        string   `json:"phase" yaml:"phase"`
	Round        int      `json:"round" yaml:"round"`
	Members      []string `json:"members" yaml:"members"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// RunManifest makes an evaluation reproducible and auditable
type RunManifest struct {
	RunID        string            `json:"run_id" yaml:"run_id"`
	Seed         int64             `json:"seed" yaml:"seed"`
	AgentRoster  map[string]string `json:"agent_roster" yaml:"agent_roster"` // agent id -> role
	Models       []string          `json:"models,omitempty" yaml:"models,omitempty"`
	TotalCostUSD float64           `json:"total_cost_usd" yaml:"total_cost_usd"`
	StartedAt    time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time         `json:"finished_at" yaml:"finished_at"`
}

// EvaluationResult is the finalized output of one evaluation run
type EvaluationResult struct {
	RunID       string `json:"run_id" yaml:"run_id"`
	PurpleAgent string `json:"purple_agent" yaml:"purple_agent"`
	Scenario    string `json:"scenario" yaml:"scenario"`

	Attacks               []*Attack               `json:"attacks" yaml:"attacks"`
	TestResults           []*TestResult           `json:"test_results" yaml:"test_results"`
	Metrics               Metrics                 `json:"metrics" yaml:"metrics"`
	CounterfactualResults []*CounterfactualResult `json:"counterfactual_results,omitempty" yaml:"counterfactual_results,omitempty"`
	ConsensusVerdicts     []*ConsensusVerdict     `json:"consensus_verdicts,omitempty" yaml:"consensus_verdicts,omitempty"`

	AgentContributions map[string]int     `json:"agent_contributions" yaml:"agent_contributions"`
	CoalitionHistory   []*CoalitionRecord `json:"coalition_history" yaml:"coalition_history"`
	TotalAttacksTested int                `json:"total_attacks_tested" yaml:"total_attacks_tested"`
	TotalCostUSD       float64            `json:"total_cost_usd" yaml:"total_cost_usd"`
	TotalTimeSeconds   float64            `json:"total_time_seconds" yaml:"total_time_seconds"`
	Manifest           RunManifest        `json:"manifest" yaml:"manifest"`
}

// Finalize recomputes metrics over all valid results and stamps totals
func (e *EvaluationResult) Finalize() {
	e.Metrics = Metrics{}
	for _, r := range e.TestResults {
		if !r.IsValid {
			continue
		}
		e.Metrics.Record(r.Outcome)
	}
	e.Metrics.Recalculate()
	e.TotalAttacksTested = e.Metrics.Total()
	e.Manifest.TotalCostUSD = e.TotalCostUSD
}

// Evasions returns every valid false-negative result
func (e *EvaluationResult) Evasions() []*TestResult {
	var out []*TestResult
	for _, r := range e.TestResults {
		if r.IsValid && r.IsEvasion() {
			out = append(out, r)
		}
	}
	return out
}

// ToJSON serializes the result for run output
func (e *EvaluationResult) ToJSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
