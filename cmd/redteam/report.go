package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/output"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

var reportCmd = &cobra.Command{
	Use:   "report [result.json]",
	Short: "Re-render a saved evaluation result",
	Long: `Render a previously saved JSON evaluation result into another format.

Examples:
  # Render a saved result as Markdown
  redteam report result.json -f markdown

  # Write a YAML report to a file
  redteam report result.json -f yaml -o report.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringP("format", "f", "text", "Report format (json, yaml, markdown, text)")
	reportCmd.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")
}

func runReport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read result file: %w", err)
	}

	var result types.EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to parse result file: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	reporter := output.NewReporter(format)

	if outFile, _ := cmd.Flags().GetString("output"); outFile != "" {
		return reporter.WriteToFile(&result, outFile)
	}

	rendered, err := reporter.Render(&result)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(rendered)
	return err
}
