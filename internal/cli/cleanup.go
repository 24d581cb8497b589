package cli

import (
	"context"
	"fmt"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCleanupCmd())
}

func newCleanupCmd() *cobra.Command {
	var maxAgeDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove data for tests with no recent activity",
		Long: `Remove assignments and events for tests whose most recent
assignment is older than the retention window, dropping those tests
entirely. Tests with recent activity are untouched.

Example:
  abtest cleanup --max-age-days 90`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(eng *engine.Engine) error {
				removed, err := eng.Cleanup(context.Background(), maxAgeDays)
				if err != nil {
					return fmt.Errorf("cleanup failed: %w", err)
				}

				if removed == 0 {
					fmt.Println("Nothing to clean up.")
				} else {
					fmt.Printf("Removed %d stale test(s).\n", removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 90, "retention window in days")

	return cmd
}
