// Package allocator implements weighted-random variant assignment.
// Assignment is sticky: a participant keeps the variant from their first
// request for as long as the test's data lives.
package allocator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/bujinwang/agentops-abtest/internal/store"
)

// ErrInvalidConfig is returned when a variant set cannot be assigned
// from: empty, or every weight is zero.
var ErrInvalidConfig = errors.New("invalid test configuration")

type Allocator struct {
	store store.Store

	mu  sync.Mutex // rand.Rand is not safe for concurrent use
	rng *rand.Rand
}

func New(s store.Store) *Allocator {
	return &Allocator{
		store: s,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeeded returns an allocator with a deterministic random source.
func NewSeeded(s store.Store, seed int64) *Allocator {
	return &Allocator{
		store: s,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Assign returns the participant's variant for the test, rolling a new
// weighted assignment on first contact. Repeated calls for the same
// (test, participant) always return the first result; the store's
// insert-if-absent resolves concurrent first calls to a single winner.
func (a *Allocator) Assign(ctx context.Context, testID, participantID string, variants []store.Variant) (string, error) {
	existing, err := a.store.GetAssignment(ctx, testID, participantID)
	if err == nil {
		return existing.VariantID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	variantID, err := a.pick(variants)
	if err != nil {
		return "", err
	}

	assigned, err := a.store.PutAssignment(ctx, &store.Assignment{
		TestID:        testID,
		ParticipantID: participantID,
		VariantID:     variantID,
		AssignedAt:    time.Now(),
	})
	if err != nil {
		return "", err
	}

	return assigned.VariantID, nil
}

// pick draws a variant proportionally to weight. Weight-0 variants are
// never picked; they only exist for participants assigned before the
// weight was zeroed in a successor test.
func (a *Allocator) pick(variants []store.Variant) (string, error) {
	if len(variants) == 0 {
		return "", ErrInvalidConfig
	}

	cumulative := make([]float64, len(variants))
	total := 0.0
	for i, v := range variants {
		w := v.Weight
		if w < 0 {
			return "", ErrInvalidConfig
		}
		total += w
		cumulative[i] = total
	}
	if total <= 0 {
		return "", ErrInvalidConfig
	}

	a.mu.Lock()
	draw := a.rng.Float64() * total
	a.mu.Unlock()

	for i, c := range cumulative {
		if draw < c {
			return variants[i].ID, nil
		}
	}
	// Float64 returns values in [0, 1), so draw < total always matches
	// above; this is only reachable through rounding at the boundary.
	return variants[len(variants)-1].ID, nil
}
