package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store defines the interface for experiment storage operations.
// Implementations must be safe for concurrent use: PutAssignment in
// particular is the atomic insert-if-absent primitive the allocator
// relies on to keep one assignment per (test, participant).
type Store interface {
	// Test operations
	CreateTest(ctx context.Context, test *Test) error
	GetTest(ctx context.Context, id string) (*Test, error)
	ListTests(ctx context.Context) ([]*Test, error)
	ConcludeTest(ctx context.Context, id string, results json.RawMessage) error

	// Assignment operations
	GetAssignment(ctx context.Context, testID, participantID string) (*Assignment, error)
	PutAssignment(ctx context.Context, a *Assignment) (*Assignment, error)
	TotalAssignments(ctx context.Context, testID string) (int, error)

	// Event operations
	AppendEvent(ctx context.Context, e *Event) error
	GetEvents(ctx context.Context, testID string) ([]*Event, error)
	GetVariantCounts(ctx context.Context, testID string) ([]VariantCounts, error)

	// PurgeStale removes assignments and events for tests whose most
	// recent assignment predates cutoff, dropping the test records along
	// with them. Returns the number of tests removed.
	PurgeStale(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Close() error
}
