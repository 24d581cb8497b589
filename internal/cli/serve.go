package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/server"
	"github.com/bujinwang/agentops-abtest/internal/store"
	"github.com/spf13/cobra"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the abtest HTTP server.

The server provides:
  - Assignment endpoint for the delivery layer
  - Beacon endpoint for tracking events
  - Token-protected admin API
  - Health check endpoint

Example:
  abtest serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("AB_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Open database
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	// Token file path (alongside database)
	tokenFile := getTokenFilePath()

	// Create and start server
	srv := server.New(engine.New(s), s, port, tokenFile)
	return srv.Start()
}

// getTokenFilePath returns the path to the token file
func getTokenFilePath() string {
	// Store token file alongside the database
	dir := filepath.Dir(dbPath)
	return filepath.Join(dir, ".abtest-token")
}
