package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tests",
	Long:  `List all A/B tests with their status and participant counts.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withEngine(func(eng *engine.Engine) error {
		ctx := context.Background()

		tests, err := eng.ListTests(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tests: %w", err)
		}

		if len(tests) == 0 {
			fmt.Println("No tests yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  abtest create <template-id> --variants \"A,B\"")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTEMPLATE\tSTATUS\tVARIANTS\tPARTICIPANTS\tTAGS\tCREATED")

		for _, t := range tests {
			participants := 0
			if analytics, err := eng.Analyze(ctx, t.ID); err == nil && analytics != nil {
				participants = analytics.TotalParticipants
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				t.ID,
				t.TemplateID,
				t.Status,
				len(t.Variants),
				participants,
				strings.Join(t.Tags, ","),
				t.CreatedAt.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}
