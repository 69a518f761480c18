// Package output renders finished evaluations as reports: technique
// rankings, evasion clusters, and the reproducibility manifest.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

// defaultClusterCount bounds how many evasion clusters a report shows.
const defaultClusterCount = 5

// Reporter handles output formatting
type Reporter struct {
	format string
}

// Report is the serializable view of a finished evaluation
type Report struct {
	Evaluation *types.EvaluationResult `json:"evaluation" yaml:"evaluation"`
	Ranking    []TechniqueRank         `json:"technique_ranking" yaml:"technique_ranking"`
	Clusters   []EvasionCluster        `json:"evasion_clusters,omitempty" yaml:"evasion_clusters,omitempty"`
	Timestamp  time.Time               `json:"timestamp" yaml:"timestamp"`
}

// NewReporter creates a reporter for a format: json, yaml, markdown, or
// text. Unknown formats render as text.
func NewReporter(format string) *Reporter {
	return &Reporter{format: format}
}

// Build assembles the report view over an evaluation
func Build(eval *types.EvaluationResult) *Report {
	return &Report{
		Evaluation: eval,
		Ranking:    RankTechniques(eval),
		Clusters:   ClusterEvasions(eval, defaultClusterCount),
		Timestamp:  time.Now(),
	}
}

// WriteToFile renders an evaluation and writes it to a file
func (r *Reporter) WriteToFile(eval *types.EvaluationResult, path string) error {
	data, err := r.Render(eval)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Render formats an evaluation in the reporter's format
func (r *Reporter) Render(eval *types.EvaluationResult) ([]byte, error) {
	report := Build(eval)
	switch r.format {
	case "json":
		return json.MarshalIndent(report, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(report)
	case "markdown", "md":
		return r.formatMarkdown(report)
	default:
		return r.formatText(report)
	}
}

func (r *Reporter) formatText(report *Report) ([]byte, error) {
	eval := report.Evaluation
	var sb strings.Builder

	sb.WriteString("=== Evaluation Report ===\n\n")
	sb.WriteString(fmt.Sprintf("Run ID: %s\n", eval.RunID))
	sb.WriteString(fmt.Sprintf("Purple Agent: %s\n", eval.PurpleAgent))
	sb.WriteString(fmt.Sprintf("Scenario: %s\n", eval.Scenario))
	sb.WriteString(fmt.Sprintf("Attacks Tested: %d\n", eval.TotalAttacksTested))
	sb.WriteString(fmt.Sprintf("Duration: %.1fs\n", eval.TotalTimeSeconds))
	if eval.TotalCostUSD > 0 {
		sb.WriteString(fmt.Sprintf("Cost: $%.2f\n", eval.TotalCostUSD))
	}

	m := eval.Metrics
	sb.WriteString("\n=== Detection Metrics ===\n\n")
	sb.WriteString(fmt.Sprintf("Precision: %.3f\n", m.Precision))
	sb.WriteString(fmt.Sprintf("Recall:    %.3f\n", m.Recall))
	sb.WriteString(fmt.Sprintf("F1 Score:  %.3f\n", m.F1Score))
	sb.WriteString(fmt.Sprintf("Accuracy:  %.3f\n", m.Accuracy))
	sb.WriteString(fmt.Sprintf("Confusion: TP=%d TN=%d FP=%d FN=%d\n",
		m.TruePositives, m.TrueNegatives, m.FalsePositives, m.FalseNegatives))

	if len(report.Ranking) > 0 {
		sb.WriteString("\n=== Technique Ranking (by evasion rate) ===\n\n")
		for i, rank := range report.Ranking {
			sb.WriteString(fmt.Sprintf("%d. %s: %.1f%% evasion (%d/%d)\n",
				i+1, rank.Technique, rank.EvasionRate*100, rank.Evasions, rank.Tested))
		}
	}

	if len(report.Clusters) > 0 {
		sb.WriteString("\n=== Evasion Clusters ===\n\n")
		for _, c := range report.Clusters {
			sb.WriteString(fmt.Sprintf("Cluster %d (%d evasions, techniques: %s)\n",
				c.ID+1, c.Size, strings.Join(c.Techniques, ", ")))
			sb.WriteString(fmt.Sprintf("  Representative: %s\n", c.Representative))
		}
	}

	if len(eval.CounterfactualResults) > 0 {
		sb.WriteString("\n=== Counterfactual Explanations ===\n\n")
		for _, cf := range eval.CounterfactualResults {
			sb.WriteString(fmt.Sprintf("Attack %s (edit distance %d)\n", cf.AttackID, cf.EditDistance))
			sb.WriteString(fmt.Sprintf("  Evaded:   %s\n", cf.OriginalPayload))
			sb.WriteString(fmt.Sprintf("  Detected: %s\n", cf.CounterfactualPayload))
		}
	}

	sb.WriteString("\n=== Manifest ===\n\n")
	sb.WriteString(fmt.Sprintf("Seed: %d\n", eval.Manifest.Seed))
	sb.WriteString(fmt.Sprintf("Agents: %d\n", len(eval.Manifest.AgentRoster)))
	if len(eval.Manifest.Models) > 0 {
		sb.WriteString(fmt.Sprintf("Models: %s\n", strings.Join(eval.Manifest.Models, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Started: %s\n", eval.Manifest.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Finished: %s\n", eval.Manifest.FinishedAt.Format(time.RFC3339)))

	return []byte(sb.String()), nil
}

func (r *Reporter) formatMarkdown(report *Report) ([]byte, error) {
	eval := report.Evaluation
	var sb strings.Builder

	sb.WriteString("# Evaluation Report\n\n")
	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Run ID:** `%s`\n", eval.RunID))
	sb.WriteString(fmt.Sprintf("- **Purple Agent:** %s\n", eval.PurpleAgent))
	sb.WriteString(fmt.Sprintf("- **Scenario:** %s\n", eval.Scenario))
	sb.WriteString(fmt.Sprintf("- **Attacks Tested:** %d\n", eval.TotalAttacksTested))
	sb.WriteString(fmt.Sprintf("- **Duration:** %.1fs\n", eval.TotalTimeSeconds))
	if eval.TotalCostUSD > 0 {
		sb.WriteString(fmt.Sprintf("- **Cost:** $%.2f\n", eval.TotalCostUSD))
	}

	m := eval.Metrics
	sb.WriteString("\n## Detection Metrics\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Precision | %.3f |\n", m.Precision))
	sb.WriteString(fmt.Sprintf("| Recall | %.3f |\n", m.Recall))
	sb.WriteString(fmt.Sprintf("| F1 Score | %.3f |\n", m.F1Score))
	sb.WriteString(fmt.Sprintf("| Accuracy | %.3f |\n", m.Accuracy))
	sb.WriteString(fmt.Sprintf("| True Positives | %d |\n", m.TruePositives))
	sb.WriteString(fmt.Sprintf("| True Negatives | %d |\n", m.TrueNegatives))
	sb.WriteString(fmt.Sprintf("| False Positives | %d |\n", m.FalsePositives))
	sb.WriteString(fmt.Sprintf("| False Negatives | %d |\n", m.FalseNegatives))

	if len(report.Ranking) > 0 {
		sb.WriteString("\n## Technique Ranking\n\n")
		sb.WriteString("| # | Technique | Tested | Evasions | Evasion Rate |\n")
		sb.WriteString("|---|-----------|--------|----------|-------------|\n")
		for i, rank := range report.Ranking {
			sb.WriteString(fmt.Sprintf("| %d | %s | %d | %d | %.1f%% |\n",
				i+1, rank.Technique, rank.Tested, rank.Evasions, rank.EvasionRate*100))
		}
	}

	if len(report.Clusters) > 0 {
		sb.WriteString("\n## Evasion Clusters\n\n")
		for _, c := range report.Clusters {
			sb.WriteString(fmt.Sprintf("### Cluster %d\n\n", c.ID+1))
			sb.WriteString(fmt.Sprintf("- **Size:** %d\n", c.Size))
			sb.WriteString(fmt.Sprintf("- **Techniques:** %s\n", strings.Join(c.Techniques, ", ")))
			sb.WriteString(fmt.Sprintf("- **Representative:**\n```\n%s\n```\n\n", c.Representative))
		}
	}

	if len(eval.CounterfactualResults) > 0 {
		sb.WriteString("\n## Counterfactual Explanations\n\n")
		sb.WriteString("| Attack | Edit Distance | Evaded Payload | Detected Payload |\n")
		sb.WriteString("|--------|---------------|----------------|------------------|\n")
		for _, cf := range eval.CounterfactualResults {
			sb.WriteString(fmt.Sprintf("| %s | %d | `%s` | `%s` |\n",
				cf.AttackID, cf.EditDistance,
				truncate(cf.OriginalPayload, 40), truncate(cf.CounterfactualPayload, 40)))
		}
	}

	sb.WriteString("\n## Manifest\n\n")
	sb.WriteString(fmt.Sprintf("- **Seed:** %d\n", eval.Manifest.Seed))
	sb.WriteString(fmt.Sprintf("- **Agents:** %d\n", len(eval.Manifest.AgentRoster)))
	if len(eval.Manifest.Models) > 0 {
		sb.WriteString(fmt.Sprintf("- **Models:** %s\n", strings.Join(eval.Manifest.Models, ", ")))
	}
	sb.WriteString(fmt.Sprintf("- **Started:** %s\n", eval.Manifest.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("- **Finished:** %s\n", eval.Manifest.FinishedAt.Format(time.RFC3339)))

	return []byte(sb.String()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
