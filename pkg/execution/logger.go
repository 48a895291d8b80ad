package execution

import (
	"log"

	"github.com/flowforge/flowforge/pkg/domain/types"
)

// Repository persists execution audit records. A nil repository disables
// persistence; the engine behaves identically either way.
type Repository interface {
	// SaveRunStart records that a run began.
	SaveRunStart(rctx *Context) error
	// SaveNodeResult records one node's terminal outcome.
	SaveNodeResult(executionID types.ExecutionID, nodeType string, result *NodeResult) error
	// SaveRun records the finished run summary.
	SaveRun(result *Result) error
}

// AuditLogger writes the execution audit trail to the configured repository.
// Persistence failures are logged as warnings and never fail the run.
type AuditLogger struct {
	repository Repository
}

// NewAuditLogger creates an audit logger. repo may be nil.
func NewAuditLogger(repo Repository) *AuditLogger {
	return &AuditLogger{repository: repo}
}

// LogRunStart records the beginning of a run.
func (l *AuditLogger) LogRunStart(rctx *Context) {
	if l.repository == nil {
		return
	}
	if err := l.repository.SaveRunStart(rctx); err != nil {
		log.Printf("Warning: failed to log run start: %v", err)
	}
}

// LogNodeResult records a node's terminal outcome.
func (l *AuditLogger) LogNodeResult(executionID types.ExecutionID, nodeType string, result *NodeResult) {
	if l.repository == nil {
		return
	}
	if err := l.repository.SaveNodeResult(executionID, nodeType, result); err != nil {
		log.Printf("Warning: failed to log result of node %s: %v", result.NodeID, err)
	}
}

// LogRunComplete records the finished run summary.
func (l *AuditLogger) LogRunComplete(result *Result) {
	if l.repository == nil {
		return
	}
	if err := l.repository.SaveRun(result); err != nil {
		log.Printf("Warning: failed to log run completion: %v", err)
	}
}
