package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants   string
		weights    string
		tags       string
		minSample  int
		confidence float64
		maxDays    int
	)

	cmd := &cobra.Command{
		Use:   "create <template-id>",
		Short: "Create a new A/B test",
		Long: `Create a new A/B test for a content template.

Examples:
  abtest create welcome-email --variants "Control,Short subject"
  abtest create followup --variants "A,B,C" --weights "1,1,2"
  abtest create promo --variants "A,B" --tags "email,q3"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID := args[0]

			// Parse variants
			names := strings.Split(variants, ",")
			for i := range names {
				names[i] = strings.TrimSpace(names[i])
			}
			if len(names) < 2 {
				return fmt.Errorf("need at least 2 variants. Example: --variants \"A,B\"")
			}

			defs := make([]engine.VariantDef, len(names))
			for i, name := range names {
				defs[i] = engine.VariantDef{Name: name}
			}

			// Optional per-variant weights
			if weights != "" {
				parts := strings.Split(weights, ",")
				if len(parts) != len(names) {
					return fmt.Errorf("got %d weights for %d variants", len(parts), len(names))
				}
				for i, p := range parts {
					w, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
					if err != nil {
						return fmt.Errorf("invalid weight %q: %w", p, err)
					}
					defs[i].Weight = &w
				}
			}

			var tagList []string
			if tags != "" {
				tagList = strings.Split(tags, ",")
				for i := range tagList {
					tagList[i] = strings.TrimSpace(tagList[i])
				}
			}

			criteria := store.Criteria{
				MinSampleSize:       minSample,
				ConfidenceThreshold: confidence,
				MaxDurationDays:     maxDays,
			}

			return withEngine(func(eng *engine.Engine) error {
				test, err := eng.CreateTest(context.Background(), templateID, defs, criteria, tagList)
				if err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				fmt.Printf("Created test %s for template '%s' with %d variants:\n", test.ID, test.TemplateID, len(test.Variants))
				for _, v := range test.Variants {
					fmt.Printf("  %s: %s (weight %g)\n", v.ID, v.Name, v.Weight)
				}
				if len(test.Tags) > 0 {
					fmt.Printf("  Tags: %s\n", strings.Join(test.Tags, ", "))
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant names (required)")
	cmd.Flags().StringVarP(&weights, "weights", "w", "", "comma-separated variant weights (optional, default 1 each)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated category/channel tags (optional)")
	cmd.Flags().IntVar(&minSample, "min-sample", 0, "stopping criterion: minimum sample size (optional)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "stopping criterion: confidence threshold (optional)")
	cmd.Flags().IntVar(&maxDays, "max-days", 0, "stopping criterion: maximum duration in days (optional)")
	cmd.MarkFlagRequired("variants")

	return cmd
}
