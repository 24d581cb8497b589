package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/stats"
	"github.com/bujinwang/agentops-abtest/internal/store"
)

func setupEngine(t *testing.T) (*engine.Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return engine.NewSeeded(s, 11), s
}

func floatPtr(f float64) *float64 { return &f }

func createTest(t *testing.T, eng *engine.Engine) *store.Test {
	t.Helper()
	test, err := eng.CreateTest(context.Background(), "welcome-email", []engine.VariantDef{
		{Name: "Control"},
		{Name: "Challenger"},
	}, store.Criteria{}, nil)
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	return test
}

func TestCreateTest_DefaultWeights(t *testing.T) {
	eng, _ := setupEngine(t)

	test := createTest(t, eng)

	if len(test.Variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(test.Variants))
	}
	for i, v := range test.Variants {
		if v.Weight != 1 {
			t.Errorf("variant %d: got weight %g, want default 1", i, v.Weight)
		}
		if v.ID == "" {
			t.Errorf("variant %d: expected generated id", i)
		}
	}
	if test.Status != store.StatusActive {
		t.Errorf("got status %s, want active", test.Status)
	}
}

func TestCreateTest_Validation(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		defs []engine.VariantDef
	}{
		{"empty variant set", nil},
		{"negative weight", []engine.VariantDef{
			{Name: "A", Weight: floatPtr(-1)},
			{Name: "B"},
		}},
		{"all weights zero", []engine.VariantDef{
			{Name: "A", Weight: floatPtr(0)},
			{Name: "B", Weight: floatPtr(0)},
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := eng.CreateTest(ctx, "tmpl", c.defs, store.Criteria{}, nil)
			if !errors.Is(err, engine.ErrInvalidConfig) {
				t.Errorf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestAssign_Sticky(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	first, err := eng.Assign(ctx, test.ID, "p1")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		got, err := eng.Assign(ctx, test.ID, "p1")
		if err != nil {
			t.Fatalf("assign failed: %v", err)
		}
		if got != first {
			t.Fatalf("got %s, want sticky %s", got, first)
		}
	}
}

func TestAssign_UnknownTest(t *testing.T) {
	eng, _ := setupEngine(t)

	_, err := eng.Assign(context.Background(), "missing", "p1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRecord_RequiresAssignment(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	// Unassigned participant: no event, no error.
	recorded, err := eng.Record(ctx, test.ID, "ghost", store.EventConversion, nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if recorded {
		t.Error("recorded event for unassigned participant")
	}

	events, err := s.GetEvents(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestRecord_UnknownTest(t *testing.T) {
	eng, _ := setupEngine(t)

	recorded, err := eng.Record(context.Background(), "missing", "p1", store.EventClick, nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if recorded {
		t.Error("recorded event for unknown test")
	}
}

func TestRecord_InvalidEventType(t *testing.T) {
	eng, _ := setupEngine(t)
	test := createTest(t, eng)

	_, err := eng.Record(context.Background(), test.ID, "p1", "purchase", nil)
	if !errors.Is(err, engine.ErrInvalidEventType) {
		t.Errorf("got %v, want ErrInvalidEventType", err)
	}
}

func TestRecord_AppendsRepeatedEvents(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	if _, err := eng.Assign(ctx, test.ID, "p1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		recorded, err := eng.Record(ctx, test.ID, "p1", store.EventClick, map[string]string{"n": fmt.Sprint(i)})
		if err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
		if !recorded {
			t.Fatalf("record %d returned false", i)
		}
	}

	events, err := s.GetEvents(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestAnalyze_NilCases(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	// Unknown test.
	a, err := eng.Analyze(ctx, "missing")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if a != nil {
		t.Error("expected nil analytics for unknown test")
	}

	// Known test with no assignments.
	test := createTest(t, eng)
	a, err = eng.Analyze(ctx, test.ID)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if a != nil {
		t.Error("expected nil analytics before any assignment")
	}
}

func TestAnalyze_CountsConversionsOncePerParticipant(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	if _, err := eng.Assign(ctx, test.ID, "p1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := eng.Record(ctx, test.ID, "p1", store.EventConversion, nil); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	a, err := eng.Analyze(ctx, test.ID)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if a == nil {
		t.Fatal("expected analytics")
	}

	total := 0
	for _, v := range a.Variants {
		total += v.Conversions
	}
	if total != 1 {
		t.Errorf("got %d conversions for one participant, want 1", total)
	}
}

func TestConclude_FreezesResults(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("p%d", i)
		if _, err := eng.Assign(ctx, test.ID, p); err != nil {
			t.Fatalf("assign failed: %v", err)
		}
		if i%4 == 0 {
			if _, err := eng.Record(ctx, test.ID, p, store.EventConversion, nil); err != nil {
				t.Fatalf("record failed: %v", err)
			}
		}
	}

	results, err := eng.Conclude(ctx, test.ID)
	if err != nil {
		t.Fatalf("conclude failed: %v", err)
	}
	if results == nil {
		t.Fatal("expected results")
	}
	// Forced conclusion with 20 participants keeps the honest flags.
	if results.Recommendation != stats.RecommendInsufficientData {
		t.Errorf("got recommendation %s, want insufficient_data", results.Recommendation)
	}
	if results.IsSignificant {
		t.Error("forced conclusion must not claim significance")
	}

	// New data after conclusion must not change the snapshot.
	if _, err := eng.Record(ctx, test.ID, "p0", store.EventConversion, nil); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	after, err := eng.Analyze(ctx, test.ID)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if after == nil {
		t.Fatal("expected frozen analytics")
	}
	if !after.GeneratedAt.Equal(results.GeneratedAt) {
		t.Error("analytics recomputed after conclusion")
	}

	got, err := eng.GetTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Status != store.StatusConcluded {
		t.Errorf("got status %s, want concluded", got.Status)
	}
}

func TestConclude_UnknownTest(t *testing.T) {
	eng, _ := setupEngine(t)

	results, err := eng.Conclude(context.Background(), "missing")
	if err != nil {
		t.Fatalf("conclude failed: %v", err)
	}
	if results != nil {
		t.Error("expected nil results for unknown test")
	}
}

func TestConclude_Idempotent(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	if _, err := eng.Assign(ctx, test.ID, "p1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	first, err := eng.Conclude(ctx, test.ID)
	if err != nil {
		t.Fatalf("conclude failed: %v", err)
	}
	second, err := eng.Conclude(ctx, test.ID)
	if err != nil {
		t.Fatalf("second conclude failed: %v", err)
	}
	if second == nil || !second.GeneratedAt.Equal(first.GeneratedAt) {
		t.Error("second conclude did not return the frozen snapshot")
	}
}

func TestAssign_ConcludedTest(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	sticky, err := eng.Assign(ctx, test.ID, "p1")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	if _, err := eng.Conclude(ctx, test.ID); err != nil {
		t.Fatalf("conclude failed: %v", err)
	}

	// Existing participants keep their variant.
	got, err := eng.Assign(ctx, test.ID, "p1")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if got != sticky {
		t.Errorf("got %s, want sticky %s", got, sticky)
	}

	// New participants are refused.
	_, err = eng.Assign(ctx, test.ID, "p2")
	if !errors.Is(err, engine.ErrTestNotActive) {
		t.Errorf("got %v, want ErrTestNotActive", err)
	}
}

func TestCleanup(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()
	test := createTest(t, eng)

	if _, err := eng.Assign(ctx, test.ID, "p1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	// Recent activity: nothing removed.
	removed, err := eng.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("got %d removed, want 0", removed)
	}

	// Add a stale test directly to the store.
	staleTest := &store.Test{
		ID:         "stale",
		TemplateID: "tmpl",
		Variants:   []store.Variant{{ID: "va", Weight: 1}},
		Status:     store.StatusActive,
		CreatedAt:  time.Now().AddDate(0, 0, -120),
	}
	if err := s.CreateTest(ctx, staleTest); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	if _, err := s.PutAssignment(ctx, &store.Assignment{
		TestID: "stale", ParticipantID: "p9", VariantID: "va",
		AssignedAt: time.Now().AddDate(0, 0, -120),
	}); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}

	removed, err = eng.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("got %d removed, want 1", removed)
	}
	if _, err := eng.GetTest(ctx, test.ID); err != nil {
		t.Errorf("active test removed: %v", err)
	}
}

func TestCleanup_NegativeRetention(t *testing.T) {
	eng, _ := setupEngine(t)

	_, err := eng.Cleanup(context.Background(), -1)
	if !errors.Is(err, engine.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}
