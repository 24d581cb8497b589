package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bujinwang/agentops-abtest/internal/store"
)

func TestMemoryStore_BasicLifecycle(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateTest(ctx, newTest("t1")); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	test, err := s.GetTest(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if test.Status != store.StatusActive {
		t.Errorf("got status %s, want active", test.Status)
	}

	if err := s.ConcludeTest(ctx, "t1", []byte(`{"confidence_level":12.5}`)); err != nil {
		t.Fatalf("failed to conclude: %v", err)
	}
	if err := s.ConcludeTest(ctx, "t1", []byte(`{}`)); err != store.ErrNotFound {
		t.Errorf("got %v for double conclude, want ErrNotFound", err)
	}
}

func TestMemoryStore_ConcurrentPutAssignment(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateTest(ctx, newTest("t1")); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	// Many goroutines race to assign the same participant to different
	// variants; exactly one roll may win.
	variants := []string{"va", "vb"}
	results := make([]string, 50)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.PutAssignment(ctx, &store.Assignment{
				TestID:        "t1",
				ParticipantID: "p1",
				VariantID:     variants[i%2],
				AssignedAt:    time.Now(),
			})
			if err != nil {
				t.Errorf("put assignment failed: %v", err)
				return
			}
			results[i] = a.VariantID
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("participant saw two variants: %s and %s", results[0], results[i])
		}
	}

	total, err := s.TotalAssignments(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if total != 1 {
		t.Errorf("got %d assignments, want 1", total)
	}
}

func TestMemoryStore_VariantCounts(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateTest(ctx, newTest("t1")); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	if _, err := s.PutAssignment(ctx, &store.Assignment{
		TestID: "t1", ParticipantID: "p1", VariantID: "va", AssignedAt: time.Now(),
	}); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}

	// Two conversion events from one participant count once.
	for _, id := range []string{"e1", "e2"} {
		if err := s.AppendEvent(ctx, &store.Event{
			ID: id, TestID: "t1", ParticipantID: "p1",
			Type: store.EventConversion, CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}

	counts, err := s.GetVariantCounts(ctx, "t1")
	if err != nil {
		t.Fatalf("failed to get counts: %v", err)
	}
	if len(counts) != 1 {
		t.Fatalf("got %d variants, want 1", len(counts))
	}
	if counts[0].Assignments != 1 || counts[0].Conversions != 1 {
		t.Errorf("got %d/%d, want assignments 1 conversions 1", counts[0].Assignments, counts[0].Conversions)
	}
}

func TestMemoryStore_PurgeStale(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateTest(ctx, newTest("stale")); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	if _, err := s.PutAssignment(ctx, &store.Assignment{
		TestID: "stale", ParticipantID: "p1", VariantID: "va",
		AssignedAt: time.Now().AddDate(0, 0, -120),
	}); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}

	removed, err := s.PurgeStale(ctx, time.Now().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("got %d removed, want 1", removed)
	}
	if _, err := s.GetTest(ctx, "stale"); err != store.ErrNotFound {
		t.Errorf("stale test still present: %v", err)
	}
}
