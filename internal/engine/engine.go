// Package engine is the public surface of the experiment evaluation
// engine: test lifecycle, sticky variant assignment, event recording,
// and on-demand analytics. It is wrapped by the HTTP server and the CLI
// and holds no state of its own beyond the injected store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bujinwang/agentops-abtest/internal/allocator"
	"github.com/bujinwang/agentops-abtest/internal/stats"
	"github.com/bujinwang/agentops-abtest/internal/store"
)

// ErrInvalidConfig is the configuration-error sentinel shared with the
// allocator: empty variant sets, negative weights, zero total weight.
var ErrInvalidConfig = allocator.ErrInvalidConfig

// ErrTestNotActive is returned when a new participant requests
// assignment on a concluded test. Existing assignments stay readable.
var ErrTestNotActive = errors.New("test is not active")

// ErrInvalidEventType is returned for event types outside the closed
// open/click/reply/conversion set.
var ErrInvalidEventType = errors.New("invalid event type")

// VariantDef describes one variant at test creation. A nil Weight
// defaults to 1; an explicit 0 keeps the variant out of new assignments.
type VariantDef struct {
	ID     string   `json:"id,omitempty"`
	Name   string   `json:"name,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
}

type Engine struct {
	store store.Store
	alloc *allocator.Allocator
}

func New(s store.Store) *Engine {
	return &Engine{
		store: s,
		alloc: allocator.New(s),
	}
}

// NewSeeded returns an engine whose allocator draws from a
// deterministic random source.
func NewSeeded(s store.Store, seed int64) *Engine {
	return &Engine{
		store: s,
		alloc: allocator.NewSeeded(s, seed),
	}
}

// CreateTest validates the variant definitions and creates an active
// test. Configuration problems are fatal to the call and never
// silently corrected.
func (e *Engine) CreateTest(ctx context.Context, templateID string, defs []VariantDef, criteria store.Criteria, tags []string) (*store.Test, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("no variants: %w", ErrInvalidConfig)
	}

	now := time.Now()
	variants := make([]store.Variant, len(defs))
	total := 0.0
	for i, def := range defs {
		w := 1.0
		if def.Weight != nil {
			w = *def.Weight
		}
		if w < 0 {
			return nil, fmt.Errorf("negative weight for variant %d: %w", i, ErrInvalidConfig)
		}
		total += w

		id := def.ID
		if id == "" {
			id = uuid.NewString()
		}
		variants[i] = store.Variant{
			ID:        id,
			Name:      def.Name,
			Weight:    w,
			CreatedAt: now,
		}
	}
	if total <= 0 {
		return nil, fmt.Errorf("total weight is zero: %w", ErrInvalidConfig)
	}

	test := &store.Test{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Tags:       tags,
		Variants:   variants,
		Criteria:   criteria,
		Status:     store.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.CreateTest(ctx, test); err != nil {
		return nil, err
	}

	return test, nil
}

func (e *Engine) GetTest(ctx context.Context, testID string) (*store.Test, error) {
	return e.store.GetTest(ctx, testID)
}

func (e *Engine) ListTests(ctx context.Context) ([]*store.Test, error) {
	return e.store.ListTests(ctx)
}

// Assign returns the participant's variant, assigning one on first
// contact. On a concluded test existing participants keep their sticky
// variant but new participants are refused with ErrTestNotActive.
func (e *Engine) Assign(ctx context.Context, testID, participantID string) (string, error) {
	test, err := e.store.GetTest(ctx, testID)
	if err != nil {
		return "", err
	}

	if test.Status != store.StatusActive {
		existing, err := e.store.GetAssignment(ctx, testID, participantID)
		if err == nil {
			return existing.VariantID, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrTestNotActive
		}
		return "", err
	}

	return e.alloc.Assign(ctx, testID, participantID, test.Variants)
}

// Record appends a conversion-relevant event for the participant.
// Returns false without error when the test is unknown or the
// participant has no assignment in it; those are routine at scale and
// must not surface as failures. Repeated events are appended as-is.
func (e *Engine) Record(ctx context.Context, testID, participantID, eventType string, metadata map[string]string) (bool, error) {
	if !store.ValidEventType(eventType) {
		return false, fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}

	if _, err := e.store.GetAssignment(ctx, testID, participantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	err := e.store.AppendEvent(ctx, &store.Event{
		ID:            uuid.NewString(),
		TestID:        testID,
		ParticipantID: participantID,
		Type:          eventType,
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// Analyze recomputes analytics from current counts. Returns nil for an
// unknown test or one with no assignments yet. A concluded test always
// returns its frozen snapshot.
func (e *Engine) Analyze(ctx context.Context, testID string) (*stats.Analytics, error) {
	test, err := e.store.GetTest(ctx, testID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if test.Status == store.StatusConcluded && len(test.Results) > 0 {
		return decodeResults(test.Results)
	}

	total, err := e.store.TotalAssignments(ctx, testID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	counts, err := e.store.GetVariantCounts(ctx, testID)
	if err != nil {
		return nil, err
	}

	return stats.Analyze(test, counts), nil
}

// Conclude freezes final analytics as the test's results and marks it
// concluded. Returns nil for an unknown test; concluding an already
// concluded test returns the frozen results unchanged. Force-concluding
// with insufficient data is allowed, and the snapshot keeps the honest
// significance rather than pretending a winner.
func (e *Engine) Conclude(ctx context.Context, testID string) (*stats.Analytics, error) {
	test, err := e.store.GetTest(ctx, testID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if test.Status == store.StatusConcluded {
		if len(test.Results) == 0 {
			return nil, nil
		}
		return decodeResults(test.Results)
	}

	counts, err := e.store.GetVariantCounts(ctx, testID)
	if err != nil {
		return nil, err
	}
	analytics := stats.Analyze(test, counts)

	results, err := json.Marshal(analytics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := e.store.ConcludeTest(ctx, testID, results); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with a concurrent conclude; its snapshot wins.
			return e.Analyze(ctx, testID)
		}
		return nil, err
	}

	return analytics, nil
}

// Cleanup removes assignments and events for tests whose most recent
// assignment is older than maxAgeDays, dropping those tests entirely.
// Active tests with recent activity are untouched.
func (e *Engine) Cleanup(ctx context.Context, maxAgeDays int) (int, error) {
	if maxAgeDays < 0 {
		return 0, fmt.Errorf("negative retention: %w", ErrInvalidConfig)
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	return e.store.PurgeStale(ctx, cutoff)
}

func decodeResults(raw json.RawMessage) (*stats.Analytics, error) {
	var analytics stats.Analytics
	if err := json.Unmarshal(raw, &analytics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results: %w", err)
	}
	return &analytics, nil
}
