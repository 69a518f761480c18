package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List available attack scenarios",
	Long: `List the attack scenarios the engine can evaluate, including any
loaded from the plugin directory.

Examples:
  redteam scenarios
  redteam scenarios --plugin-dir ./plugins`,
	RunE: runScenarios,
}

func init() {
	rootCmd.AddCommand(scenariosCmd)

	scenariosCmd.Flags().String("plugin-dir", "", "Directory with scenario plugins (.so)")
}

func runScenarios(cmd *cobra.Command, args []string) error {
	registry, err := buildRegistry(cmd)
	if err != nil {
		return err
	}

	summaries := registry.List()
	if len(summaries) == 0 {
		fmt.Println("No scenarios registered.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Scenario", "Techniques", "Baseline Samples"})
	table.SetBorder(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, s := range summaries {
		table.Append([]string{
			s.Name,
			strings.Join(s.Techniques, ", "),
			fmt.Sprintf("%d", s.Baseline),
		})
	}
	table.Render()

	return nil
}
