package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/domain/types"
	"github.com/flowforge/flowforge/pkg/execution"
)

func testRepository(t *testing.T) *SQLiteAuditRepository {
	t.Helper()
	repo, err := NewSQLiteAuditRepositoryWithPath(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositorySaveAndLoadRun(t *testing.T) {
	repo := testRepository(t)

	rctx := execution.NewContext("wf-orders", nil)
	require.NoError(t, repo.SaveRunStart(rctx))

	loaded, err := repo.LoadRun(rctx.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, types.WorkflowID("wf-orders"), loaded.WorkflowID)
	assert.Nil(t, loaded.CompletedAt)

	require.NoError(t, repo.SaveRun(&execution.Result{
		Success:        true,
		ExecutionID:    rctx.ExecutionID,
		WorkflowID:     rctx.WorkflowID,
		ExecutionTime:  125 * time.Millisecond,
		ExecutionOrder: [][]string{{"a"}, {"b", "c"}},
	}))

	loaded, err = repo.LoadRun(rctx.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, 125*time.Millisecond, loaded.ExecutionTime)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, loaded.ExecutionOrder)
}

func TestRepositoryFailedRunStatus(t *testing.T) {
	repo := testRepository(t)

	rctx := execution.NewContext("wf-orders", nil)
	require.NoError(t, repo.SaveRunStart(rctx))
	require.NoError(t, repo.SaveRun(&execution.Result{
		Success:     false,
		ExecutionID: rctx.ExecutionID,
		WorkflowID:  rctx.WorkflowID,
	}))

	loaded, err := repo.LoadRun(rctx.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Status)
}

func TestRepositorySaveRunWithoutStart(t *testing.T) {
	repo := testRepository(t)

	// A run summary can arrive without a prior start row, e.g. when the
	// repository was attached mid-run.
	result := &execution.Result{
		Success:     true,
		ExecutionID: types.NewExecutionID(),
		WorkflowID:  "wf-late",
	}
	require.NoError(t, repo.SaveRun(result))

	loaded, err := repo.LoadRun(result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
}

func TestRepositoryNodeResults(t *testing.T) {
	repo := testRepository(t)

	rctx := execution.NewContext("wf-orders", nil)
	require.NoError(t, repo.SaveRunStart(rctx))

	require.NoError(t, repo.SaveNodeResult(rctx.ExecutionID, "source", &execution.NodeResult{
		NodeID:        "src",
		Success:       true,
		Outputs:       map[string]interface{}{"rows": []interface{}{1.0, 2.0}},
		ExecutionTime: 40 * time.Millisecond,
	}))
	require.NoError(t, repo.SaveNodeResult(rctx.ExecutionID, "filter", &execution.NodeResult{
		NodeID:  "flt",
		Success: false,
		Error: &execution.ExecutionError{
			NodeID:        "flt",
			Category:      execution.CategoryNetwork,
			Message:       "connection refused",
			AttemptNumber: 3,
		},
		ExecutionTime: 15 * time.Millisecond,
	}))

	records, err := repo.ListNodeResults(rctx.ExecutionID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "src", records[0].NodeID)
	assert.Equal(t, "source", records[0].NodeType)
	assert.True(t, records[0].Success)
	assert.Equal(t, 40*time.Millisecond, records[0].ExecutionTime)

	assert.Equal(t, "flt", records[1].NodeID)
	assert.False(t, records[1].Success)
	assert.Equal(t, string(execution.CategoryNetwork), records[1].ErrorCategory)
	assert.Equal(t, "connection refused", records[1].ErrorMessage)
	assert.Equal(t, 3, records[1].AttemptNumber)
}

func TestRepositoryListRunsByWorkflow(t *testing.T) {
	repo := testRepository(t)

	for i := 0; i < 3; i++ {
		rctx := execution.NewContext("wf-orders", nil)
		require.NoError(t, repo.SaveRunStart(rctx))
	}
	other := execution.NewContext("wf-other", nil)
	require.NoError(t, repo.SaveRunStart(other))

	records, err := repo.ListRunsByWorkflow("wf-orders")
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = repo.ListRunsByWorkflow("wf-missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRepositoryDeleteRun(t *testing.T) {
	repo := testRepository(t)

	rctx := execution.NewContext("wf-orders", nil)
	require.NoError(t, repo.SaveRunStart(rctx))
	require.NoError(t, repo.SaveNodeResult(rctx.ExecutionID, "source", &execution.NodeResult{
		NodeID: "src", Success: true,
	}))

	require.NoError(t, repo.DeleteRun(rctx.ExecutionID))

	_, err := repo.LoadRun(rctx.ExecutionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	records, err := repo.ListNodeResults(rctx.ExecutionID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRepositoryPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	repo, err := NewSQLiteAuditRepositoryWithPath(dbPath)
	require.NoError(t, err)
	rctx := execution.NewContext("wf-orders", nil)
	require.NoError(t, repo.SaveRunStart(rctx))
	require.NoError(t, repo.Close())

	reopened, err := NewSQLiteAuditRepositoryWithPath(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.LoadRun(rctx.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowID("wf-orders"), loaded.WorkflowID)
}

func TestRepositoryAsEngineAuditSink(t *testing.T) {
	repo := testRepository(t)
	logger := execution.NewAuditLogger(repo)

	rctx := execution.NewContext("wf-orders", nil)
	logger.LogRunStart(rctx)
	logger.LogNodeResult(rctx.ExecutionID, "source", &execution.NodeResult{NodeID: "src", Success: true})
	logger.LogRunComplete(&execution.Result{
		Success:     true,
		ExecutionID: rctx.ExecutionID,
		WorkflowID:  rctx.WorkflowID,
	})

	loaded, err := repo.LoadRun(rctx.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)

	records, err := repo.ListNodeResults(rctx.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
