// Package execution implements the DAG runtime: handler registry, data-flow
// wiring, level-by-level execution, lifecycle events and failure recovery.
package execution

import (
	"time"

	"github.com/flowforge/flowforge/pkg/domain/types"
)

// Default engine limits.
const (
	DefaultNodeTimeout    = 300 * time.Second
	DefaultMaxConcurrency = 8
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 1 * time.Second
)

// Options configures one engine instance.
type Options struct {
	// NodeTimeout bounds a single node invocation, retries excluded.
	NodeTimeout time.Duration
	// MaxConcurrency caps how many nodes of one level run at once.
	MaxConcurrency int
	// MaxAttempts is the per-node attempt budget (first try included).
	MaxAttempts int
	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration
}

// SetDefaults fills unset fields with the package defaults.
func (o *Options) SetDefaults() {
	if o.NodeTimeout <= 0 {
		o.NodeTimeout = DefaultNodeTimeout
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
}

// NodeContext is the per-invocation context handed to a node handler.
type NodeContext struct {
	WorkflowID  types.WorkflowID
	ExecutionID types.ExecutionID
	NodeID      string
	NodeType    string
	// Global is the caller-supplied context shared by every node in the run.
	Global map[string]interface{}
	// Attempt is 1-based; retries increment it.
	Attempt int
}

// NodeResult records the outcome of one node, terminal across all attempts.
type NodeResult struct {
	NodeID        string                 `json:"node_id"`
	Success       bool                   `json:"success"`
	Outputs       map[string]interface{} `json:"outputs,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Error         *ExecutionError        `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Context is the mutable state of one run, owned by exactly one execution.
type Context struct {
	WorkflowID  types.WorkflowID
	ExecutionID types.ExecutionID
	// Global is caller-supplied and read-only from the engine's perspective.
	Global map[string]interface{}
	// NodeResults accumulates terminal per-node outcomes.
	NodeResults map[string]*NodeResult
	// DataFlow accumulates each node's gathered input map.
	DataFlow map[string]map[string]interface{}
}

// NewContext creates the run state for one execution.
func NewContext(workflowID types.WorkflowID, global map[string]interface{}) *Context {
	if global == nil {
		global = make(map[string]interface{})
	}
	return &Context{
		WorkflowID:  workflowID,
		ExecutionID: types.NewExecutionID(),
		Global:      global,
		NodeResults: make(map[string]*NodeResult),
		DataFlow:    make(map[string]map[string]interface{}),
	}
}

// Result is the aggregate outcome of one run. Success is the AND over every
// recorded node result; a partial run is returned, never thrown away.
type Result struct {
	Success        bool                   `json:"success"`
	ExecutionID    types.ExecutionID      `json:"execution_id"`
	WorkflowID     types.WorkflowID       `json:"workflow_id"`
	ExecutionTime  time.Duration          `json:"execution_time"`
	ExecutionOrder [][]string             `json:"execution_order"`
	Results        map[string]*NodeResult `json:"results"`
}
