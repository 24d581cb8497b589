package cli

import (
	"context"
	"fmt"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/stats"
	"github.com/bujinwang/agentops-abtest/internal/store"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConcludeCmd())
}

func newConcludeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "conclude <test-id>",
		Short: "Conclude a test and freeze its results",
		Long: `Conclude an active A/B test. Final analytics are computed once,
frozen as the test's results, and the test stops accepting new
participants.

Concluding before the test reaches significance is allowed but asks
for confirmation; the frozen results keep the honest confidence level.

Example:
  abtest conclude 1f0c... --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]

			return withEngine(func(eng *engine.Engine) error {
				ctx := context.Background()

				test, err := eng.GetTest(ctx, testID)
				if err != nil {
					if err == store.ErrNotFound {
						return fmt.Errorf("test '%s' not found", testID)
					}
					return fmt.Errorf("failed to get test: %w", err)
				}

				if test.Status != store.StatusActive {
					return fmt.Errorf("test is not active (current status: %s)", test.Status)
				}

				analytics, err := eng.Analyze(ctx, testID)
				if err != nil {
					return fmt.Errorf("failed to analyze test: %w", err)
				}

				if !yes && (analytics == nil || analytics.Recommendation != stats.RecommendConclude) {
					if err := confirmEarlyConclude(analytics); err != nil {
						return err
					}
				}

				results, err := eng.Conclude(ctx, testID)
				if err != nil {
					return fmt.Errorf("failed to conclude test: %w", err)
				}

				fmt.Printf("Concluded test %s.\n", testID)
				fmt.Println()
				printAnalytics(results)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "conclude without confirmation")

	return cmd
}

func confirmEarlyConclude(analytics *stats.Analytics) error {
	reason := "no participants assigned yet"
	if analytics != nil {
		reason = fmt.Sprintf("recommendation is %q at %.1f confidence", analytics.Recommendation, analytics.ConfidenceLevel)
	}

	prompt := promptui.Select{
		Label: fmt.Sprintf("Test has not reached significance (%s). Conclude anyway", reason),
		Items: []string{"No, keep running", "Yes, conclude now"},
	}

	i, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return fmt.Errorf("cancelled")
		}
		return err
	}
	if i == 0 {
		return fmt.Errorf("cancelled")
	}
	return nil
}
