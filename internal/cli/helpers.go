package cli

import (
	"fmt"

	"github.com/bujinwang/agentops-abtest/internal/engine"
	"github.com/bujinwang/agentops-abtest/internal/store"
)

// withEngine opens the database, wraps it in an engine, executes the
// function, and handles cleanup.
func withEngine(fn func(*engine.Engine) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(engine.New(s))
}

// withStore is like withEngine for commands that need raw store access.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}
