// Package storage persists the execution audit trail to SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/flowforge/flowforge/pkg/domain/types"
	"github.com/flowforge/flowforge/pkg/execution"
)

// RunRecord is one persisted run summary.
type RunRecord struct {
	ExecutionID    types.ExecutionID `json:"execution_id"`
	WorkflowID     types.WorkflowID  `json:"workflow_id"`
	Status         string            `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	ExecutionTime  time.Duration     `json:"execution_time"`
	ExecutionOrder [][]string        `json:"execution_order,omitempty"`
}

// NodeRecord is one persisted node outcome.
type NodeRecord struct {
	NodeID        string        `json:"node_id"`
	NodeType      string        `json:"node_type"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"execution_time"`
	ErrorCategory string        `json:"error_category,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	AttemptNumber int           `json:"attempt_number,omitempty"`
}

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SQLiteAuditRepository implements execution.Repository over SQLite, giving
// the engine a durable execution history.
type SQLiteAuditRepository struct {
	db *sql.DB
}

var _ execution.Repository = (*SQLiteAuditRepository)(nil)

// NewSQLiteAuditRepository creates a repository at the default location,
// ~/.flowforge/flowforge.db.
func NewSQLiteAuditRepository() (*SQLiteAuditRepository, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return NewSQLiteAuditRepositoryWithPath(filepath.Join(homeDir, ".flowforge", "flowforge.db"))
}

// NewSQLiteAuditRepositoryWithPath creates a repository with a custom
// database path. Useful for testing.
func NewSQLiteAuditRepositoryWithPath(dbPath string) (*SQLiteAuditRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := InitializeDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &SQLiteAuditRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteAuditRepository) Close() error {
	return r.db.Close()
}

// SaveRunStart records a run in status running.
func (r *SQLiteAuditRepository) SaveRunStart(rctx *execution.Context) error {
	if rctx == nil {
		return fmt.Errorf("cannot save nil run context")
	}
	_, err := r.db.Exec(`
		INSERT INTO runs (id, workflow_id, status, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rctx.ExecutionID.String(), rctx.WorkflowID.String(), StatusRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save run start: %w", err)
	}
	return nil
}

// SaveNodeResult appends one node's terminal outcome.
func (r *SQLiteAuditRepository) SaveNodeResult(executionID types.ExecutionID, nodeType string, result *execution.NodeResult) error {
	if result == nil {
		return fmt.Errorf("cannot save nil node result")
	}

	var outputs sql.NullString
	if len(result.Outputs) > 0 {
		raw, err := json.Marshal(result.Outputs)
		if err == nil {
			outputs.Valid = true
			outputs.String = string(raw)
		}
	}

	var errorCategory, errorMessage sql.NullString
	var attemptNumber int
	if result.Error != nil {
		errorCategory.Valid = true
		errorCategory.String = string(result.Error.Category)
		errorMessage.Valid = true
		errorMessage.String = result.Error.Message
		attemptNumber = result.Error.AttemptNumber
	}

	_, err := r.db.Exec(`
		INSERT INTO node_results
			(run_id, node_id, node_type, success, execution_time_ms, outputs,
			 error_category, error_message, attempt_number, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID.String(), result.NodeID, nodeType, boolToInt(result.Success),
		result.ExecutionTime.Milliseconds(), outputs,
		errorCategory, errorMessage, attemptNumber, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save node result: %w", err)
	}
	return nil
}

// SaveRun finalizes the run summary.
func (r *SQLiteAuditRepository) SaveRun(result *execution.Result) error {
	if result == nil {
		return fmt.Errorf("cannot save nil result")
	}

	status := StatusCompleted
	if !result.Success {
		status = StatusFailed
	}

	var order sql.NullString
	if len(result.ExecutionOrder) > 0 {
		raw, err := json.Marshal(result.ExecutionOrder)
		if err == nil {
			order.Valid = true
			order.String = string(raw)
		}
	}

	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO runs (id, workflow_id, status, started_at, completed_at, execution_time_ms, execution_order)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			execution_time_ms = excluded.execution_time_ms,
			execution_order = excluded.execution_order`,
		result.ExecutionID.String(), result.WorkflowID.String(), status,
		now.Add(-result.ExecutionTime), now, result.ExecutionTime.Milliseconds(), order)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun returns one run summary by execution ID.
func (r *SQLiteAuditRepository) LoadRun(executionID types.ExecutionID) (*RunRecord, error) {
	row := r.db.QueryRow(`
		SELECT id, workflow_id, status, started_at, completed_at, execution_time_ms, execution_order
		FROM runs WHERE id = ?`, executionID.String())

	record, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", executionID)
	}
	return record, err
}

// ListRunsByWorkflow returns the run summaries for a workflow, newest first.
func (r *SQLiteAuditRepository) ListRunsByWorkflow(workflowID types.WorkflowID) ([]*RunRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, workflow_id, status, started_at, completed_at, execution_time_ms, execution_order
		FROM runs WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListNodeResults returns the node outcomes recorded for one run, in record
// order.
func (r *SQLiteAuditRepository) ListNodeResults(executionID types.ExecutionID) ([]*NodeRecord, error) {
	rows, err := r.db.Query(`
		SELECT node_id, node_type, success, execution_time_ms, error_category, error_message, attempt_number
		FROM node_results WHERE run_id = ? ORDER BY id`, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list node results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*NodeRecord
	for rows.Next() {
		var record NodeRecord
		var success int
		var ms int64
		var errorCategory, errorMessage sql.NullString
		if err := rows.Scan(&record.NodeID, &record.NodeType, &success, &ms,
			&errorCategory, &errorMessage, &record.AttemptNumber); err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		record.Success = success != 0
		record.ExecutionTime = time.Duration(ms) * time.Millisecond
		record.ErrorCategory = errorCategory.String
		record.ErrorMessage = errorMessage.String
		records = append(records, &record)
	}
	return records, rows.Err()
}

// DeleteRun removes a run and its node results.
func (r *SQLiteAuditRepository) DeleteRun(executionID types.ExecutionID) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM node_results WHERE run_id = ?", executionID.String()); err != nil {
		return fmt.Errorf("failed to delete node results: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", executionID.String()); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var id, workflowID string
	var completedAt sql.NullTime
	var ms sql.NullInt64
	var order sql.NullString

	if err := row.Scan(&id, &workflowID, &record.Status, &record.StartedAt,
		&completedAt, &ms, &order); err != nil {
		return nil, err
	}

	record.ExecutionID = types.ExecutionID(id)
	record.WorkflowID = types.WorkflowID(workflowID)
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}
	if ms.Valid {
		record.ExecutionTime = time.Duration(ms.Int64) * time.Millisecond
	}
	if order.Valid {
		if err := json.Unmarshal([]byte(order.String), &record.ExecutionOrder); err != nil {
			return nil, fmt.Errorf("failed to decode execution order: %w", err)
		}
	}
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
