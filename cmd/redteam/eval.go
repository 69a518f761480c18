package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/ecosystem"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/orchestrator"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/output"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/sandbox"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/scenario"
	"github.com/unicodemonk/security-evaluator-leaderboard/internal/target"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/plugins"
	"github.com/unicodemonk/security-evaluator-leaderboard/pkg/types"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a remote detector",
	Long: `Run an adaptive evaluation against a remote purple-team detector.

The engine probes the detector's decision boundary, exploits weak
techniques with Thompson sampling, evolves payloads with a novelty-search
mutation engine and scores the final verdicts with a multi-judge
consensus model.

Examples:
  # Evaluate a SQL injection detector
  redteam eval -u "https://detector.local/classify" -s sql_injection

  # Seed the run from a curated corpus and write a Markdown report
  redteam eval -u "https://detector.local/api" --seed-corpus seeds.yaml -f markdown -o report.md

  # Fully offline deterministic run with a cost ceiling
  redteam eval -u "http://localhost:9090/check" --seed 42 --budget 5.0`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	// Target flags
	evalCmd.Flags().StringP("url", "u", "", "Detector endpoint URL (required)")
	evalCmd.Flags().String("method", "", "HTTP method for detector calls")
	evalCmd.Flags().StringArrayP("header", "H", nil, "Extra header, 'Name: Value' (repeatable)")
	evalCmd.Flags().Duration("timeout", 0, "Per-request timeout")
	evalCmd.Flags().Float64("rate-limit", 0, "Max requests per second against the detector")
	evalCmd.Flags().Bool("http2", false, "Use HTTP/2 for detector calls")
	evalCmd.Flags().Bool("insecure", false, "Skip TLS certificate verification")
	evalCmd.Flags().Bool("sandbox", false, "Wrap the detector in the execution sandbox")

	// Evaluation flags
	evalCmd.Flags().StringP("scenario", "s", "sql_injection", "Attack scenario")
	evalCmd.Flags().Int("max-rounds", 0, "Maximum evaluation rounds")
	evalCmd.Flags().Int("attacks-per-round", 0, "Attacks tested per round")
	evalCmd.Flags().Float64("budget", 0, "Cost budget in USD (0 = unlimited)")
	evalCmd.Flags().Int64("seed", 0, "Random seed for reproducible runs")
	evalCmd.Flags().String("seed-corpus", "", "Seed corpus file (JSON or YAML)")
	evalCmd.Flags().String("plugin-dir", "", "Directory with scenario plugins (.so)")

	// Provider flags
	evalCmd.Flags().String("api-key", "", "Generator API key (default: $OPENAI_API_KEY)")
	evalCmd.Flags().String("model", "", "Generator model name")
	evalCmd.Flags().String("base-url", "", "Generator API base URL")

	// Output flags
	evalCmd.Flags().StringP("output", "o", "", "Write the report to a file")
	evalCmd.Flags().StringP("format", "f", "", "Report format (json, yaml, markdown, text)")

	evalCmd.MarkFlagRequired("url")

	viper.BindPFlags(evalCmd.Flags())
}

func runEval(cmd *cobra.Command, args []string) error {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyEvalFlags(cmd, cfg)

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	printBanner()

	registry, err := buildRegistry(cmd)
	if err != nil {
		return err
	}

	scenarioName, _ := cmd.Flags().GetString("scenario")
	scn, err := registry.Create(scenarioName)
	if err != nil {
		return err
	}

	purple, err := target.NewRemoteAgent("remote_"+scn.Name(), cfg.Target, logger)
	if err != nil {
		return fmt.Errorf("failed to create target agent: %w", err)
	}
	var agent scenario.PurpleAgent = purple
	if cfg.Target.Sandboxed {
		agent = sandbox.Wrap(purple, logger)
		cfg.Target.Sandboxed = false
	}

	// Cancel the run on Ctrl+C; a second interrupt kills the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		color.Yellow("\n[!] Interrupted, finalizing partial results...")
		cancel()
	}()

	eco := ecosystem.New(cfg, scn, logger)
	runID := "eval_" + uuid.New().String()[:8]
	events := eco.Bus().Subscribe(runID)
	drained := make(chan struct{})
	go streamEvents(events, cfg.Evaluation.MaxRounds, drained)

	started := time.Now()
	result, err := eco.RunWithID(ctx, runID, agent)
	<-drained
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	printResults(result, time.Since(started))

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = cfg.Output.Format
	}
	outFile, _ := cmd.Flags().GetString("output")
	if outFile == "" {
		outFile = cfg.Output.File
	}
	if outFile != "" {
		if err := output.NewReporter(format).WriteToFile(result, outFile); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		color.Green("[+] Report written to %s", outFile)
	}

	return nil
}

// applyEvalFlags overlays command-line flags onto the loaded config.
// Only flags the user actually set override file and env values.
func applyEvalFlags(cmd *cobra.Command, cfg *types.Config) {
	flags := cmd.Flags()

	if url, _ := flags.GetString("url"); url != "" {
		cfg.Target.URL = url
	}
	if flags.Changed("method") {
		cfg.Target.Method, _ = flags.GetString("method")
	}
	if flags.Changed("timeout") {
		cfg.Target.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("rate-limit") {
		cfg.Target.RateLimit, _ = flags.GetFloat64("rate-limit")
	}
	if flags.Changed("http2") {
		cfg.Target.UseHTTP2, _ = flags.GetBool("http2")
	}
	if flags.Changed("insecure") {
		insecure, _ := flags.GetBool("insecure")
		cfg.Target.VerifySSL = !insecure
	}
	if flags.Changed("sandbox") {
		cfg.Target.Sandboxed, _ = flags.GetBool("sandbox")
	}
	if headers, _ := flags.GetStringArray("header"); len(headers) > 0 {
		if cfg.Target.Headers == nil {
			cfg.Target.Headers = make(map[string]string)
		}
		for _, h := range headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				continue
			}
			cfg.Target.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}

	if flags.Changed("max-rounds") {
		cfg.Evaluation.MaxRounds, _ = flags.GetInt("max-rounds")
	}
	if flags.Changed("attacks-per-round") {
		cfg.Evaluation.AttacksPerRound, _ = flags.GetInt("attacks-per-round")
	}
	if flags.Changed("budget") {
		cfg.Evaluation.BudgetUSD, _ = flags.GetFloat64("budget")
	}
	if flags.Changed("seed") {
		cfg.Evaluation.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("seed-corpus") {
		cfg.Evaluation.SeedCorpus, _ = flags.GetString("seed-corpus")
	}

	if apiKey, _ := flags.GetString("api-key"); apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if flags.Changed("model") {
		cfg.Provider.Model, _ = flags.GetString("model")
	}
	if flags.Changed("base-url") {
		cfg.Provider.BaseURL, _ = flags.GetString("base-url")
	}
}

// buildRegistry returns the built-in scenarios plus any plugins found in
// the plugin directory.
func buildRegistry(cmd *cobra.Command) (*plugins.Registry, error) {
	registry := plugins.BuiltinRegistry()

	pluginDir, _ := cmd.Flags().GetString("plugin-dir")
	if pluginDir == "" {
		return registry, nil
	}

	dataDir := filepath.Join(filepath.Dir(pluginDir), "plugin-data")
	loader := plugins.NewLoader(pluginDir, dataDir)
	if err := loader.LoadAll(); err != nil {
		color.Yellow("[!] Some plugins failed to load: %v", err)
	}
	if err := registry.RegisterLoaded(loader); err != nil {
		return nil, fmt.Errorf("failed to register plugins: %w", err)
	}
	return registry, nil
}

// streamEvents drives the progress bar and prints notable events as the
// run advances. Closes drained once the run's event stream ends.
func streamEvents(events <-chan *orchestrator.Event, maxRounds int, drained chan<- struct{}) {
	defer close(drained)

	bar := progressbar.NewOptions(maxRounds,
		progressbar.OptionSetDescription("Evaluating"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	for event := range events {
		data, _ := event.Data.(map[string]any)
		switch event.Type {
		case orchestrator.EventRoundStart:
			bar.Describe(fmt.Sprintf("Round %v (%v)", data["round"], data["phase"]))
			bar.Add(1)
		case orchestrator.EventEvasionFound:
			fmt.Println()
			fmt.Printf("%s evasion: %s via %v\n",
				color.YellowString("[!]"),
				truncate(fmt.Sprintf("%v", data["payload"]), 60),
				data["technique"])
		case orchestrator.EventPhaseTransition:
			fmt.Println()
			fmt.Printf("%s phase %v -> %v\n",
				color.GreenString("[+]"), data["from"], data["to"])
		case orchestrator.EventRunComplete:
			bar.Finish()
			fmt.Println()
		}
	}
}

func printBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Print(`
  ____          _ _____
 |  _ \ ___  __| |_   _|__  __ _ _ __ ___
 | |_) / _ \/ _' | | |/ _ \/ _' | '_ ' _ \
 |  _ <  __/ (_| | | |  __/ (_| | | | | | |
 |_| \_\___|\__,_| |_|\___|\__,_|_| |_| |_|

  Adaptive detector evaluation engine
`)
	fmt.Println()
}

func printResults(result *types.EvaluationResult, elapsed time.Duration) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	evasions := result.Evasions()
	if len(evasions) > 0 {
		red.Printf("Found %d evasions out of %d attacks\n", len(evasions), result.TotalAttacksTested)
	} else {
		green.Printf("No evasions found across %d attacks\n", result.TotalAttacksTested)
	}
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorder(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.Append([]string{"Run ID", result.RunID})
	table.Append([]string{"Scenario", result.Scenario})
	table.Append([]string{"Precision", fmt.Sprintf("%.3f", result.Metrics.Precision)})
	table.Append([]string{"Recall", fmt.Sprintf("%.3f", result.Metrics.Recall)})
	table.Append([]string{"F1 Score", fmt.Sprintf("%.3f", result.Metrics.F1Score)})
	table.Append([]string{"Accuracy", fmt.Sprintf("%.3f", result.Metrics.Accuracy)})
	table.Append([]string{"Cost", fmt.Sprintf("$%.4f", result.TotalCostUSD)})
	table.Append([]string{"Duration", elapsed.Round(time.Second).String()})
	table.Render()

	ranking := output.RankTechniques(result)
	if len(ranking) > 0 {
		fmt.Println()
		fmt.Println("Technique ranking:")
		rankTable := tablewriter.NewWriter(os.Stdout)
		rankTable.SetHeader([]string{"Technique", "Tested", "Evasions", "Evasion Rate"})
		rankTable.SetBorder(true)
		rankTable.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, r := range ranking {
			rankTable.Append([]string{
				r.Technique,
				fmt.Sprintf("%d", r.Tested),
				fmt.Sprintf("%d", r.Evasions),
				fmt.Sprintf("%.1f%%", r.EvasionRate*100),
			})
		}
		rankTable.Render()
	}

	if n := len(result.CounterfactualResults); n > 0 {
		fmt.Println()
		fmt.Printf("%s %d counterfactual explanations available in the full report\n",
			color.CyanString("[i]"), n)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
