package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/bujinwang/agentops-abtest/internal/store"
	"github.com/spf13/cobra"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <test-id>",
	Short: "Export raw event data",
	Long: `Export raw event data in CSV or JSON format.

Examples:
  abtest export 1f0c... --format csv > events.csv
  abtest export 1f0c... --format json > events.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	testID := args[0]

	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		// Verify test exists
		if _, err := s.GetTest(ctx, testID); err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("test '%s' not found", testID)
			}
			return fmt.Errorf("failed to get test: %w", err)
		}

		events, err := s.GetEvents(ctx, testID)
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(events)
		}
		return exportJSON(events)
	})
}

func exportCSV(events []*store.Event) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	// Write header
	if err := w.Write([]string{"timestamp", "event_id", "participant_id", "event_type"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write rows
	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.CreatedAt.Unix(), 10),
			e.ID,
			e.ParticipantID,
			e.Type,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

type jsonExport struct {
	Events []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Timestamp     int64             `json:"timestamp"`
	EventID       string            `json:"event_id"`
	ParticipantID string            `json:"participant_id"`
	EventType     string            `json:"event_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func exportJSON(events []*store.Event) error {
	export := jsonExport{
		Events: make([]jsonEvent, len(events)),
	}

	for i, e := range events {
		export.Events[i] = jsonEvent{
			Timestamp:     e.CreatedAt.Unix(),
			EventID:       e.ID,
			ParticipantID: e.ParticipantID,
			EventType:     e.Type,
			Metadata:      e.Metadata,
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
