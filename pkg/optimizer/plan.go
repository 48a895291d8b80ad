package optimizer

import (
	"github.com/flowforge/flowforge/pkg/graph"
	"github.com/flowforge/flowforge/pkg/validation"
)

// Level selects how aggressively the optimizer rewrites and reorders a graph.
type Level string

const (
	// LevelBasic applies constant folding and dead-code elimination only.
	LevelBasic Level = "basic"
	// LevelStandard adds filter pushdown and within-level cost ordering.
	LevelStandard Level = "standard"
	// LevelAdvanced adds projection pushdown and join reordering.
	LevelAdvanced Level = "advanced"
	// LevelAggressive currently matches advanced; it is a separate level so
	// future rules can opt in without changing callers.
	LevelAggressive Level = "aggressive"
)

// Elevated reports whether the level enables cost-based reordering within
// execution levels. Basic keeps the plain Kahn order.
func (l Level) Elevated() bool {
	return l == LevelStandard || l == LevelAdvanced || l == LevelAggressive
}

// Valid reports whether the level is one of the defined constants.
func (l Level) Valid() bool {
	switch l {
	case LevelBasic, LevelStandard, LevelAdvanced, LevelAggressive:
		return true
	}
	return false
}

// ExecutionPlan is the product of optimization: a rewritten graph, its leveled
// execution order and the cost analysis backing the ordering decisions.
//
// ExecutionOrder partitions the node IDs of OptimizedGraph: each ID appears in
// exactly one level, and never in a level earlier than any of its predecessors.
type ExecutionPlan struct {
	OriginalGraph  *graph.Graph        `json:"original_graph"`
	OptimizedGraph *graph.Graph        `json:"optimized_graph"`
	ExecutionOrder [][]string          `json:"execution_order"`
	CostAnalysis   map[string]NodeCost `json:"cost_analysis"`
	AppliedRules   []string            `json:"applied_rules"`
	EstimatedTime  float64             `json:"estimated_total_time"`
	EstimatedCost  float64             `json:"estimated_total_cost"`
	Validation     validation.Result   `json:"validation"`
	Bottlenecks    []string            `json:"bottlenecks"`
	CacheHit       bool                `json:"cache_hit"`
}
