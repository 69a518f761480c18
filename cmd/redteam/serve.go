package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unicodemonk/security-evaluator-leaderboard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the evaluation server",
	Long: `Start the engine in server mode.

The server exposes a REST API and WebSocket endpoints for:
- Submitting evaluation runs
- Streaming round-by-round progress
- Fetching rendered reports
- Listing available scenarios

Examples:
  # Start server on default port
  redteam serve

  # Custom port with authentication
  redteam serve --port 9000 --auth-token "secret"

  # Allow external connections
  redteam serve --host 0.0.0.0 --port 8089`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8089, "Server port")
	serveCmd.Flags().String("host", "localhost", "Host to bind")
	serveCmd.Flags().Bool("cors", true, "Enable CORS")
	serveCmd.Flags().String("auth-token", "", "Require auth token for API access")
	serveCmd.Flags().Int("max-concurrent", 2, "Max concurrent evaluation runs")
	serveCmd.Flags().Bool("websocket", true, "Enable WebSocket for real-time updates")
	serveCmd.Flags().String("plugin-dir", "", "Directory with scenario plugins (.so)")
	serveCmd.Flags().String("api-key", "", "Generator API key (default: $OPENAI_API_KEY)")

	viper.BindPFlags(serveCmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")
	enableCORS, _ := cmd.Flags().GetBool("cors")
	authToken, _ := cmd.Flags().GetString("auth-token")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
	enableWebSocket, _ := cmd.Flags().GetBool("websocket")

	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if apiKey, _ := cmd.Flags().GetString("api-key"); apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := buildRegistry(cmd)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Host:            host,
		Port:            port,
		EnableCORS:      enableCORS,
		AuthToken:       authToken,
		MaxConcurrent:   maxConcurrent,
		EnableWebSocket: enableWebSocket,
	}, cfg, registry, logger)

	// Handle shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down server...")
		srv.Shutdown()
	}()

	fmt.Printf("Server starting on %s:%d\n", host, port)
	fmt.Println()
	fmt.Println("API Endpoints:")
	fmt.Printf("  POST   /api/v1/evaluations            - Submit evaluation\n")
	fmt.Printf("  GET    /api/v1/evaluations            - List evaluations\n")
	fmt.Printf("  GET    /api/v1/evaluations/:id        - Get evaluation status\n")
	fmt.Printf("  GET    /api/v1/evaluations/:id/report - Get rendered report\n")
	fmt.Printf("  DELETE /api/v1/evaluations/:id        - Cancel evaluation\n")
	fmt.Printf("  GET    /api/v1/scenarios              - List scenarios\n")
	fmt.Printf("  GET    /api/v1/health                 - Health check\n")
	if enableWebSocket {
		fmt.Printf("  WS     /api/v1/evaluations/:id/ws     - Real-time updates\n")
	}
	fmt.Println()

	if authToken != "" {
		fmt.Println("Authentication: Enabled (use Authorization header)")
	} else {
		color.Yellow("Warning: No authentication configured. Consider using --auth-token")
	}
	fmt.Println()

	return srv.Start()
}
