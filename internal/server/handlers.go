package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tests, err := s.store.ListTests(r.Context())
	if err != nil {
		s.log.Error("health check failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, HealthResponse{
		Status:        "ok",
		TestsCount:    len(tests),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// AssignRequest asks for the participant's variant in a test,
// assigning one on first contact.
type AssignRequest struct {
	TestID        string `json:"t"`
	ParticipantID string `json:"p"`
}

type AssignResponse struct {
	VariantID string `json:"variant_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" || req.ParticipantID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	variantID, err := s.engine.Assign(r.Context(), req.TestID, req.ParticipantID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Test not found", http.StatusNotFound)
		case errors.Is(err, engine.ErrTestNotActive):
			http.Error(w, "Test is concluded", http.StatusConflict)
		case errors.Is(err, engine.ErrInvalidConfig):
			http.Error(w, "Invalid test configuration", http.StatusBadRequest)
		default:
			s.log.Error("assign failed", "test", req.TestID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, AssignResponse{VariantID: variantID})
}

// BeaconRequest reports an observed event for an assigned participant.
type BeaconRequest struct {
	TestID        string            `json:"t"`
	ParticipantID string            `json:"p"`
	EventType     string            `json:"e"`
	Metadata      map[string]string `json:"m,omitempty"`
}

type BeaconResponse struct {
	Recorded bool `json:"recorded"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" || req.ParticipantID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	recorded, err := s.engine.Record(r.Context(), req.TestID, req.ParticipantID, req.EventType, req.Metadata)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidEventType) {
			http.Error(w, "Invalid event type", http.StatusBadRequest)
			return
		}
		s.log.Error("record failed", "test", req.TestID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, BeaconResponse{Recorded: recorded})
}

// CreateTestRequest is the admin payload for creating a test.
type CreateTestRequest struct {
	TemplateID string              `json:"template_id"`
	Variants   []engine.VariantDef `json:"variants"`
	Criteria   store.Criteria      `json:"criteria"`
	Tags       []string            `json:"tags,omitempty"`
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tests, err := s.engine.ListTests(r.Context())
		if err != nil {
			s.log.Error("list tests failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, testSummaries(tests))

	case http.MethodPost:
		var req CreateTestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		test, err := s.engine.CreateTest(r.Context(), req.TemplateID, req.Variants, req.Criteria, req.Tags)
		if err != nil {
			if errors.Is(err, engine.ErrInvalidConfig) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.log.Error("create test failed", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.log.Info("test created", "test", test.ID, "variants", len(test.Variants))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(testSummary(test))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTestDetail routes /api/tests/{id}, /api/tests/{id}/analytics
// and /api/tests/{id}/conclude.
func (s *Server) handleTestDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tests/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Test id required", http.StatusBadRequest)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		test, err := s.engine.GetTest(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "Test not found", http.StatusNotFound)
				return
			}
			s.log.Error("get test failed", "test", id, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, testSummary(test))

	case "analytics":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		analytics, err := s.engine.Analyze(r.Context(), id)
		if err != nil {
			s.log.Error("analyze failed", "test", id, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if analytics == nil {
			http.Error(w, "No analytics available", http.StatusNotFound)
			return
		}
		writeJSON(w, analytics)

	case "conclude":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		results, err := s.engine.Conclude(r.Context(), id)
		if err != nil {
			s.log.Error("conclude failed", "test", id, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if results == nil {
			http.Error(w, "Test not found", http.StatusNotFound)
			return
		}
		s.log.Info("test concluded", "test", id, "winner", results.WinnerVariantID)
		writeJSON(w, results)

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

type CleanupRequest struct {
	MaxAgeDays int `json:"max_age_days"`
}

type CleanupResponse struct {
	TestsRemoved int `json:"tests_removed"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	removed, err := s.engine.Cleanup(r.Context(), req.MaxAgeDays)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidConfig) {
			http.Error(w, "Invalid retention", http.StatusBadRequest)
			return
		}
		s.log.Error("cleanup failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.log.Info("cleanup done", "tests_removed", removed, "max_age_days", req.MaxAgeDays)
	writeJSON(w, CleanupResponse{TestsRemoved: removed})
}

// TestSummary is the admin view of a test.
type TestSummary struct {
	ID         string           `json:"id"`
	TemplateID string           `json:"template_id"`
	Tags       []string         `json:"tags,omitempty"`
	Status     store.TestStatus `json:"status"`
	Variants   []store.Variant  `json:"variants"`
	Results    json.RawMessage  `json:"results,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func testSummary(t *store.Test) TestSummary {
	return TestSummary{
		ID:         t.ID,
		TemplateID: t.TemplateID,
		Tags:       t.Tags,
		Status:     t.Status,
		Variants:   t.Variants,
		Results:    t.Results,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func testSummaries(tests []*store.Test) []TestSummary {
	out := make([]TestSummary, 0, len(tests))
	for _, t := range tests {
		out = append(out, testSummary(t))
	}
	return out
}

func setCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
