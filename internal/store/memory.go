package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and embedded use. All
// operations take the mutex, so PutAssignment's check-then-insert is
// atomic and readers never see a half-written record.
type MemoryStore struct {
	mu          sync.RWMutex
	tests       map[string]*Test
	assignments map[string]map[string]*Assignment // testID -> participantID
	events      map[string][]*Event               // testID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tests:       make(map[string]*Test),
		assignments: make(map[string]map[string]*Assignment),
		events:      make(map[string][]*Event),
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateTest(_ context.Context, test *Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *test
	c.Variants = append([]Variant(nil), test.Variants...)
	c.Tags = append([]string(nil), test.Tags...)
	s.tests[test.ID] = &c
	s.assignments[test.ID] = make(map[string]*Assignment)
	return nil
}

func (s *MemoryStore) GetTest(_ context.Context, id string) (*Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	test, ok := s.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *test
	c.Variants = append([]Variant(nil), test.Variants...)
	c.Tags = append([]string(nil), test.Tags...)
	return &c, nil
}

func (s *MemoryStore) ListTests(_ context.Context) ([]*Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tests := make([]*Test, 0, len(s.tests))
	for _, test := range s.tests {
		c := *test
		c.Variants = append([]Variant(nil), test.Variants...)
		tests = append(tests, &c)
	}
	return tests, nil
}

func (s *MemoryStore) ConcludeTest(_ context.Context, id string, results json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	test, ok := s.tests[id]
	if !ok || test.Status != StatusActive {
		return ErrNotFound
	}
	test.Status = StatusConcluded
	test.Results = append(json.RawMessage(nil), results...)
	test.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, testID, participantID string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[testID][participantID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *MemoryStore) PutAssignment(_ context.Context, a *Assignment) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byParticipant, ok := s.assignments[a.TestID]
	if !ok {
		byParticipant = make(map[string]*Assignment)
		s.assignments[a.TestID] = byParticipant
	}

	if existing, ok := byParticipant[a.ParticipantID]; ok {
		c := *existing
		return &c, nil
	}

	c := *a
	byParticipant[a.ParticipantID] = &c
	out := c
	return &out, nil
}

func (s *MemoryStore) TotalAssignments(_ context.Context, testID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assignments[testID]), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *e
	if len(e.Metadata) > 0 {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	s.events[e.TestID] = append(s.events[e.TestID], &c)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, testID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*Event, 0, len(s.events[testID]))
	for _, e := range s.events[testID] {
		c := *e
		events = append(events, &c)
	}
	return events, nil
}

func (s *MemoryStore) GetVariantCounts(_ context.Context, testID string) ([]VariantCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byVariant := make(map[string]*VariantCounts)
	for _, a := range s.assignments[testID] {
		c, ok := byVariant[a.VariantID]
		if !ok {
			c = &VariantCounts{VariantID: a.VariantID}
			byVariant[a.VariantID] = c
		}
		c.Assignments++
	}

	converted := make(map[string]bool)
	for _, e := range s.events[testID] {
		if e.Type != EventConversion || converted[e.ParticipantID] {
			continue
		}
		converted[e.ParticipantID] = true
		if a, ok := s.assignments[testID][e.ParticipantID]; ok {
			byVariant[a.VariantID].Conversions++
		}
	}

	counts := make([]VariantCounts, 0, len(byVariant))
	for _, c := range byVariant {
		counts = append(counts, *c)
	}
	return counts, nil
}

func (s *MemoryStore) PurgeStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for testID, byParticipant := range s.assignments {
		if len(byParticipant) == 0 {
			continue
		}
		var newest time.Time
		for _, a := range byParticipant {
			if a.AssignedAt.After(newest) {
				newest = a.AssignedAt
			}
		}
		if !newest.Before(cutoff) {
			continue
		}
		delete(s.assignments, testID)
		delete(s.events, testID)
		delete(s.tests, testID)
		removed++
	}
	return removed, nil
}
