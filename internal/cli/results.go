package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/stats"
	"github.com/bujinwang/agentops-abtest/internal/store"
	"github.com/spf13/cobra"
)

var resultsCmd = &cobra.Command{
	Use:   "results <test-id>",
	Short: "Show detailed results for a test",
	Long:  `Show detailed results including conversion rates, confidence intervals, and significance versus control.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
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

		analytics, err := eng.Analyze(ctx, testID)
		if err != nil {
			return fmt.Errorf("failed to analyze test: %w", err)
		}

		// Print header
		fmt.Printf("TEST: %s\n", test.ID)
		fmt.Printf("TEMPLATE: %s\n", test.TemplateID)
		fmt.Printf("STATUS: %s\n", test.Status)
		fmt.Printf("CREATED: %s\n", test.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		if analytics == nil {
			fmt.Println("No participants assigned yet.")
			return nil
		}

		printAnalytics(analytics)
		return nil
	})
}

func printAnalytics(a *stats.Analytics) {
	// Print table header
	fmt.Println("VARIANT           SAMPLE   CONVERSIONS  RATE     95% CI            SIG      LIFT")
	fmt.Println(strings.Repeat("─", 84))

	for i, v := range a.Variants {
		label := v.Name
		if label == "" {
			label = v.VariantID
		}
		if len(label) > 16 {
			label = label[:13] + "..."
		}
		if i == 0 {
			label += " *"
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.SampleSize == 0 {
			ciStr = "N/A"
		}

		fmt.Printf("%-16s  %-7d  %-11d  %-7s  %-16s  %-7s  %s\n",
			label,
			v.SampleSize,
			v.Conversions,
			formatPercent(v.ConversionRate),
			ciStr,
			fmt.Sprintf("%.1f", v.Significance),
			formatLift(i, v.RelativeLift),
		)
	}

	fmt.Println()
	fmt.Printf("Participants: %d   Confidence: %.1f   Recommendation: %s\n",
		a.TotalParticipants, a.ConfidenceLevel, a.Recommendation)

	if a.WinnerVariantID != "" {
		fmt.Printf("Winner: %s\n", a.WinnerVariantID)
	} else {
		fmt.Println("Winner: none yet")
	}
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

func formatLift(index int, lift float64) string {
	if index == 0 {
		return "control"
	}
	return fmt.Sprintf("%+.1f%%", lift)
}
