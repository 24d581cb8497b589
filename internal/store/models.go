package store

import (
	"encoding/json"
	"time"
)

type TestStatus string

const (
	StatusActive    TestStatus = "active"
	StatusConcluded TestStatus = "concluded"
)

// Event types form a closed set. Anything else is rejected at the API
// boundary before it reaches the store.
const (
	EventOpen       = "open"
	EventClick      = "click"
	EventReply      = "reply"
	EventConversion = "conversion"
)

// ValidEventType reports whether t is one of the recognized event types.
func ValidEventType(t string) bool {
	switch t {
	case EventOpen, EventClick, EventReply, EventConversion:
		return true
	}
	return false
}

// Variant is one treatment arm of a test. Variants are fixed once the
// test is created; weight 0 excludes a variant from new assignments.
type Variant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// Criteria are the stopping criteria recorded at test creation. They are
// informational for callers; the analyzer's decision thresholds are fixed.
type Criteria struct {
	MinSampleSize       int     `json:"min_sample_size,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	MaxDurationDays     int     `json:"max_duration_days,omitempty"`
}

type Test struct {
	ID         string
	TemplateID string
	Tags       []string // Decoded from JSON
	Variants   []Variant
	Criteria   Criteria
	Status     TestStatus
	Results    json.RawMessage // Frozen analytics snapshot, set on conclude
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Assignment is the sticky (test, participant) -> variant mapping.
// At most one exists per pair; it is never mutated once written.
type Assignment struct {
	TestID        string
	ParticipantID string
	VariantID     string
	AssignedAt    time.Time
}

type Event struct {
	ID            string
	TestID        string
	ParticipantID string
	Type          string
	Metadata      map[string]string // Opaque pass-through, decoded from JSON
	CreatedAt     time.Time
}

// VariantCounts is the raw aggregate the analyzer works from: how many
// participants a variant holds and how many of them converted at least once.
type VariantCounts struct {
	VariantID   string
	Assignments int
	Conversions int
}
