package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "abtest",
	Short: "A/B experiment evaluation engine",
	Long: `abtest assigns participants to variants, records conversion events,
and computes statistically defensible comparisons between variants.
Single Go binary, embedded SQLite, no external dependencies.

Running without a subcommand starts the server (same as 'abtest serve').`,
	RunE: runServe, // Default action is to start server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("AB_DB_PATH", "./abtest.db"), "database path")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
