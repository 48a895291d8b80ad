// Package optimizer implements cost estimation, rule-based graph rewriting,
// plan caching and cost-based execution ordering for workflow graphs.
package optimizer

import (
	"github.com/flowforge/flowforge/pkg/graph"
)

// NodeCost is the estimated execution cost of a single node, split into the
// four resource components. All fields are non-negative; TotalCost is their sum.
type NodeCost struct {
	NodeID        string  `json:"node_id"`
	NodeType      string  `json:"node_type"`
	EstimatedTime float64 `json:"estimated_time"`
	CPUCost       float64 `json:"cpu_cost"`
	MemoryCost    float64 `json:"memory_cost"`
	IOCost        float64 `json:"io_cost"`
	TotalCost     float64 `json:"total_cost"`
}

type baseCost struct {
	time   float64
	cpu    float64
	memory float64
	io     float64
}

// baseCosts is the per-node-type base cost table. Values are unitless
// relative weights; the estimator scales them by config heuristics.
var baseCosts = map[string]baseCost{
	graph.TypeSource:    {time: 2.0, cpu: 0.5, memory: 1.0, io: 3.0},
	graph.TypeFilter:    {time: 0.5, cpu: 1.0, memory: 0.5, io: 0.2},
	graph.TypeTransform: {time: 1.0, cpu: 2.0, memory: 1.0, io: 0.3},
	graph.TypeJoin:      {time: 3.0, cpu: 2.5, memory: 3.0, io: 1.0},
	graph.TypeAggregate: {time: 2.5, cpu: 3.0, memory: 2.0, io: 0.5},
	graph.TypeBranch:    {time: 0.3, cpu: 0.5, memory: 0.2, io: 0.1},
	graph.TypeExport:    {time: 1.5, cpu: 0.5, memory: 0.5, io: 2.5},
	graph.TypeOutput:    {time: 0.5, cpu: 0.2, memory: 0.2, io: 1.0},
}

var defaultBaseCost = baseCost{time: 1.0, cpu: 1.0, memory: 1.0, io: 1.0}

// Size thresholds and multipliers for the row-count heuristic.
const (
	largeRowThreshold  = 1_000_000
	mediumRowThreshold = 10_000
)

// Estimator computes per-node execution costs from the base table adjusted by
// deterministic config heuristics.
type Estimator struct{}

// NewEstimator creates a cost estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// EstimateNode estimates the cost of a single node.
func (e *Estimator) EstimateNode(node *graph.NodeSpec) NodeCost {
	base, ok := baseCosts[node.Type]
	if !ok {
		base = defaultBaseCost
	}

	cost := NodeCost{
		NodeID:        node.ID,
		NodeType:      node.Type,
		EstimatedTime: base.time,
		CPUCost:       base.cpu,
		MemoryCost:    base.memory,
		IOCost:        base.io,
	}

	e.applySizeHint(node, &cost)
	e.applyComplexityHint(node, &cost)
	e.applyTypeRules(node, &cost)

	cost.TotalCost = cost.EstimatedTime + cost.CPUCost + cost.MemoryCost + cost.IOCost
	return cost
}

// EstimateGraph estimates every node in the graph, keyed by node ID.
func (e *Estimator) EstimateGraph(g *graph.Graph) map[string]NodeCost {
	costs := make(map[string]NodeCost, len(g.Nodes))
	for i := range g.Nodes {
		costs[g.Nodes[i].ID] = e.EstimateNode(&g.Nodes[i])
	}
	return costs
}

// applySizeHint scales time, memory and IO upward when the config declares an
// expected input size.
func (e *Estimator) applySizeHint(node *graph.NodeSpec, cost *NodeCost) {
	rows, ok := hintFloat(node.Config, "estimated_rows")
	if !ok {
		return
	}
	switch {
	case rows >= largeRowThreshold:
		cost.EstimatedTime *= 3.0
		cost.MemoryCost *= 2.5
		cost.IOCost *= 2.0
	case rows >= mediumRowThreshold:
		cost.EstimatedTime *= 1.8
		cost.MemoryCost *= 1.5
		cost.IOCost *= 1.3
	}
}

// applyComplexityHint scales time and CPU by the declared complexity tier.
func (e *Estimator) applyComplexityHint(node *graph.NodeSpec, cost *NodeCost) {
	switch hintString(node.Config, "complexity") {
	case "high":
		cost.EstimatedTime *= 2.0
		cost.CPUCost *= 2.0
	case "medium":
		cost.EstimatedTime *= 1.4
		cost.CPUCost *= 1.4
	}
}

// applyTypeRules applies the join- and aggregate-specific multiplier rules.
func (e *Estimator) applyTypeRules(node *graph.NodeSpec, cost *NodeCost) {
	switch node.Type {
	case graph.TypeJoin:
		cfg := graph.JoinConfigOf(node)
		if cfg.Condition != "" {
			cost.CPUCost *= 1.3
		}
		if cfg.JoinType == "full" || cfg.JoinType == "cross" {
			cost.MemoryCost *= 2.0
			cost.EstimatedTime *= 1.5
		}
	case graph.TypeAggregate:
		cfg := graph.AggregateConfigOf(node)
		cost.CPUCost *= 1.0 + 0.2*float64(len(cfg.Functions))
		cost.MemoryCost *= 1.0 + 0.1*float64(len(cfg.GroupBy))
	}
}

func hintFloat(config map[string]interface{}, key string) (float64, bool) {
	if config == nil {
		return 0, false
	}
	switch v := config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func hintString(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}
