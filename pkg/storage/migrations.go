package storage

import (
	"database/sql"
	"fmt"
)

// MigrationVersion tracks the current database schema version.
const MigrationVersion = 1

// InitializeDatabase creates the SQLite schema for the execution audit trail,
// with migration version tracking to support future schema updates.
func InitializeDatabase(db *sql.DB) error {
	migrationsTable := `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL UNIQUE,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to check migration version: %w", err)
	}

	if currentVersion < 1 {
		if err := applyMigration1(db); err != nil {
			return fmt.Errorf("failed to apply migration 1: %w", err)
		}
	}

	return nil
}

// applyMigration1 creates the initial schema: one row per run, one row per
// terminal node result.
func applyMigration1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runsTable := `
	CREATE TABLE runs (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		execution_time_ms INTEGER,
		execution_order TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := tx.Exec(runsTable); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	runsIndexes := []string{
		"CREATE INDEX idx_runs_workflow_id ON runs(workflow_id, started_at DESC);",
		"CREATE INDEX idx_runs_status ON runs(status, started_at DESC);",
	}
	for _, idx := range runsIndexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create runs index: %w", err)
		}
	}

	nodeResultsTable := `
	CREATE TABLE node_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		node_type TEXT NOT NULL,
		success INTEGER NOT NULL,
		execution_time_ms INTEGER,
		outputs TEXT,
		error_category TEXT,
		error_message TEXT,
		attempt_number INTEGER DEFAULT 0,
		recorded_at TIMESTAMP NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);`

	if _, err := tx.Exec(nodeResultsTable); err != nil {
		return fmt.Errorf("failed to create node_results table: %w", err)
	}

	nodeResultsIndexes := []string{
		"CREATE INDEX idx_node_results_run_id ON node_results(run_id, recorded_at);",
		"CREATE INDEX idx_node_results_node_id ON node_results(node_id);",
	}
	for _, idx := range nodeResultsIndexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create node_results index: %w", err)
		}
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}
