package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    template_id TEXT NOT NULL,
    tags TEXT,
    variants TEXT NOT NULL,
    criteria TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    results TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);

CREATE TABLE IF NOT EXISTS assignments (
    test_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    assigned_at INTEGER NOT NULL DEFAULT (unixepoch()),
    PRIMARY KEY (test_id, participant_id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_variant ON assignments(test_id, variant_id);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_test ON events(test_id);
CREATE INDEX IF NOT EXISTS idx_events_conversion ON events(test_id, event_type, participant_id);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so concurrent readers don't block the writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTest(ctx context.Context, test *Test) error {
	variantsJSON, err := json.Marshal(test.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}

	var tagsJSON []byte
	if len(test.Tags) > 0 {
		tagsJSON, err = json.Marshal(test.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	criteriaJSON, err := json.Marshal(test.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}

	now := test.CreatedAt.Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tests (id, template_id, tags, variants, criteria, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		test.ID, test.TemplateID, nullableString(tagsJSON), string(variantsJSON), string(criteriaJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetTest(ctx context.Context, id string) (*Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_id, tags, variants, criteria, status, results, created_at, updated_at
		 FROM tests WHERE id = ?`, id,
	)
	return scanTest(row)
}

func (s *SQLiteStore) ListTests(ctx context.Context) ([]*Test, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template_id, tags, variants, criteria, status, results, created_at, updated_at
		 FROM tests ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}

	return tests, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTest(row scanner) (*Test, error) {
	var test Test
	var tagsJSON, criteriaJSON, resultsJSON sql.NullString
	var variantsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&test.ID, &test.TemplateID, &tagsJSON, &variantsJSON, &criteriaJSON,
		&test.Status, &resultsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan test: %w", err)
	}

	if err := json.Unmarshal([]byte(variantsJSON), &test.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &test.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	if criteriaJSON.Valid && criteriaJSON.String != "" {
		if err := json.Unmarshal([]byte(criteriaJSON.String), &test.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal criteria: %w", err)
		}
	}

	if resultsJSON.Valid && resultsJSON.String != "" {
		test.Results = json.RawMessage(resultsJSON.String)
	}

	test.CreatedAt = time.Unix(createdAt, 0)
	test.UpdatedAt = time.Unix(updatedAt, 0)

	return &test, nil
}

func (s *SQLiteStore) ConcludeTest(ctx context.Context, id string, results json.RawMessage) error {
	now := time.Now().Unix()

	result, err := s.db.ExecContext(ctx,
		`UPDATE tests SET status = 'concluded', results = ?, updated_at = ?
		 WHERE id = ? AND status = 'active'`,
		nullableString(results), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to conclude test: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, testID, participantID string) (*Assignment, error) {
	var a Assignment
	var assignedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT test_id, participant_id, variant_id, assigned_at
		 FROM assignments WHERE test_id = ? AND participant_id = ?`,
		testID, participantID,
	).Scan(&a.TestID, &a.ParticipantID, &a.VariantID, &assignedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	a.AssignedAt = time.Unix(assignedAt, 0)
	return &a, nil
}

// PutAssignment inserts the assignment unless one already exists for the
// (test, participant) pair, then returns whichever row is durable. The
// INSERT OR IGNORE against the primary key makes the check-then-act race
// between concurrent assigners resolve to a single winner.
func (s *SQLiteStore) PutAssignment(ctx context.Context, a *Assignment) (*Assignment, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (test_id, participant_id, variant_id, assigned_at)
		 VALUES (?, ?, ?, ?)`,
		a.TestID, a.ParticipantID, a.VariantID, a.AssignedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to put assignment: %w", err)
	}

	return s.GetAssignment(ctx, a.TestID, a.ParticipantID)
}

func (s *SQLiteStore) TotalAssignments(ctx context.Context, testID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE test_id = ?`, testID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) error {
	var metadataJSON []byte
	if len(e.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, test_id, participant_id, event_type, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.TestID, e.ParticipantID, e.Type, nullableString(metadataJSON), e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, testID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, participant_id, event_type, metadata, created_at
		 FROM events WHERE test_id = ? ORDER BY created_at DESC`,
		testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var metadataJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TestID, &e.ParticipantID, &e.Type, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}

	return events, rows.Err()
}

// GetVariantCounts aggregates participants and distinct converters per
// variant. A participant with multiple conversion events counts once.
func (s *SQLiteStore) GetVariantCounts(ctx context.Context, testID string) ([]VariantCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			a.variant_id,
			COUNT(DISTINCT a.participant_id) as assignments,
			COUNT(DISTINCT e.participant_id) as conversions
		FROM assignments a
		LEFT JOIN events e
			ON e.test_id = a.test_id
			AND e.participant_id = a.participant_id
			AND e.event_type = 'conversion'
		WHERE a.test_id = ?
		GROUP BY a.variant_id
		ORDER BY a.variant_id
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant counts: %w", err)
	}
	defer rows.Close()

	var counts []VariantCounts
	for rows.Next() {
		var c VariantCounts
		if err := rows.Scan(&c.VariantID, &c.Assignments, &c.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func (s *SQLiteStore) PurgeStale(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT test_id FROM assignments GROUP BY test_id HAVING MAX(assigned_at) < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale tests: %w", err)
	}

	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan test id: %w", err)
		}
		stale = append(stale, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE test_id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE test_id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete assignments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete test: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	return len(stale), nil
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
