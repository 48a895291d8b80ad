// Package types defines core domain type aliases and identifiers for flowforge.
package types

import "github.com/google/uuid"

// WorkflowID is a unique identifier for a workflow graph.
type WorkflowID string

// ExecutionID is a unique identifier for a single workflow run.
type ExecutionID string

// NewWorkflowID generates a new unique workflow ID.
func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.NewString())
}

// String returns the string representation of a WorkflowID.
func (id WorkflowID) String() string {
	return string(id)
}

// NewExecutionID generates a new unique execution ID.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.NewString())
}

// String returns the string representation of an ExecutionID.
func (id ExecutionID) String() string {
	return string(id)
}

// IsZero returns true if the ExecutionID is the zero value.
func (id ExecutionID) IsZero() bool {
	return id == ""
}
