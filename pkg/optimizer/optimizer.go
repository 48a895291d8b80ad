package optimizer

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/flowforge/flowforge/pkg/graph"
	"github.com/flowforge/flowforge/pkg/validation"
)

// ErrValidationFailed is returned by Optimize when the graph fails validation.
// The returned plan still carries the full validation result.
var ErrValidationFailed = errors.New("graph validation failed")

// CostOptimizer produces a leveled execution order for a graph, optionally
// reordering nodes within each level by ascending estimated cost. Ordering
// across levels is fixed by the dependency structure and never altered.
type CostOptimizer struct {
	estimator *Estimator
	analyzer  *graph.Analyzer
}

// NewCostOptimizer creates a cost-based ordering optimizer.
func NewCostOptimizer() *CostOptimizer {
	return &CostOptimizer{
		estimator: NewEstimator(),
		analyzer:  graph.NewAnalyzer(),
	}
}

// Order computes the leveled execution order and per-node cost analysis.
//
// Cyclic graphs cannot be leveled: the order falls back to a single flat level
// containing every node ID, with a logged warning, and no cost-based
// reordering is attempted.
func (o *CostOptimizer) Order(g *graph.Graph, level Level) ([][]string, map[string]NodeCost) {
	costs := o.estimator.EstimateGraph(g)

	if o.analyzer.HasCycle(g) {
		log.Printf("Warning: graph %s contains a cycle, falling back to flat execution order", g.ID)
		return [][]string{g.NodeIDs()}, costs
	}

	levels := KahnLevels(g)

	if level.Elevated() {
		for _, ids := range levels {
			sort.SliceStable(ids, func(i, j int) bool {
				return costs[ids[i]].TotalCost < costs[ids[j]].TotalCost
			})
		}
	}

	return levels, costs
}

// KahnLevels runs Kahn's algorithm breadth-first, grouping nodes into levels:
// every node lands in the first level after all of its predecessors.
func KahnLevels(g *graph.Graph) [][]string {
	inDegree := g.InDegrees()
	adj := g.Adjacency()

	var queue []string
	// Iterate nodes in graph order so level contents are deterministic.
	for i := range g.Nodes {
		if inDegree[g.Nodes[i].ID] == 0 {
			queue = append(queue, g.Nodes[i].ID)
		}
	}

	var levels [][]string
	for len(queue) > 0 {
		current := queue
		queue = nil
		levels = append(levels, current)

		for _, id := range current {
			for _, next := range adj[id] {
				inDegree[next]--
				if inDegree[next] == 0 {
					queue = append(queue, next)
				}
			}
		}
	}

	return levels
}

// Options configures one Optimize call.
type Options struct {
	Level          Level
	Schema         *validation.Schema
	BusinessRules  *validation.BusinessRules
	KnownTypes     []string
	CachingEnabled bool
}

// DefaultOptions returns the options used when callers pass the zero value.
func DefaultOptions() Options {
	return Options{Level: LevelStandard, CachingEnabled: true}
}

// Optimizer is the front door of the optimization pipeline: validation gates
// everything, the plan cache short-circuits repeat work, and the rewriter and
// cost optimizer together produce the ExecutionPlan.
type Optimizer struct {
	validator *validation.Validator
	rewriter  *Rewriter
	costOpt   *CostOptimizer
	cache     *PlanCache
}

// New creates an optimizer with a fresh plan cache.
func New() *Optimizer {
	return NewWithCache(NewPlanCache())
}

// NewWithCache creates an optimizer sharing the given plan cache. Multiple
// optimizers may share one cache; its operations are concurrency-safe.
func NewWithCache(cache *PlanCache) *Optimizer {
	return &Optimizer{
		validator: validation.NewValidator(),
		rewriter:  NewRewriter(),
		costOpt:   NewCostOptimizer(),
		cache:     cache,
	}
}

// Cache exposes the underlying plan cache, mainly for stats and tests.
func (o *Optimizer) Cache() *PlanCache {
	return o.cache
}

// Optimize validates, rewrites and orders the graph into an ExecutionPlan.
//
// Validation failure returns ErrValidationFailed along with a plan carrying
// the validation result, so callers can surface the individual messages.
// Cache and rewrite failures degrade gracefully: the failing layer is skipped
// and optimization continues from its prior state.
func (o *Optimizer) Optimize(g *graph.Graph, opts Options) (*ExecutionPlan, error) {
	if opts.Level == "" {
		opts.Level = LevelStandard
	}
	if !opts.Level.Valid() {
		return nil, fmt.Errorf("unknown optimization level: %s", opts.Level)
	}

	valRes := o.validator.Validate(g, validation.Options{
		Schema:        opts.Schema,
		BusinessRules: opts.BusinessRules,
		KnownTypes:    opts.KnownTypes,
	})
	if !valRes.Valid {
		return &ExecutionPlan{OriginalGraph: g, Validation: valRes}, ErrValidationFailed
	}

	var cacheKey string
	if opts.CachingEnabled {
		key, err := o.cache.Key(g)
		if err != nil {
			// A graph that cannot be fingerprinted is still optimizable.
			log.Printf("Warning: plan cache key failed, skipping cache: %v", err)
		} else {
			cacheKey = key
			if cached := o.cache.Get(cacheKey); cached != nil {
				hit := *cached
				hit.CacheHit = true
				return &hit, nil
			}
		}
	}

	optimized, applied := o.rewriter.Rewrite(g, opts.Level)
	order, costs := o.costOpt.Order(optimized, opts.Level)

	plan := &ExecutionPlan{
		OriginalGraph:  g,
		OptimizedGraph: optimized,
		ExecutionOrder: order,
		CostAnalysis:   costs,
		AppliedRules:   applied,
		Validation:     valRes,
		Bottlenecks:    findBottlenecks(costs),
	}
	plan.EstimatedTime, plan.EstimatedCost = estimateTotals(order, costs)

	if opts.CachingEnabled && cacheKey != "" {
		o.cache.Put(cacheKey, plan)
	}

	return plan, nil
}

// estimateTotals sums cost over all nodes, and time as the sum over levels of
// the slowest node in each level (levels may run in parallel internally).
func estimateTotals(order [][]string, costs map[string]NodeCost) (totalTime, totalCost float64) {
	for _, cost := range costs {
		totalCost += cost.TotalCost
	}
	for _, level := range order {
		levelMax := 0.0
		for _, id := range level {
			if t := costs[id].EstimatedTime; t > levelMax {
				levelMax = t
			}
		}
		totalTime += levelMax
	}
	return totalTime, totalCost
}

// findBottlenecks flags nodes whose total cost exceeds twice the mean.
func findBottlenecks(costs map[string]NodeCost) []string {
	if len(costs) == 0 {
		return nil
	}
	sum := 0.0
	for _, c := range costs {
		sum += c.TotalCost
	}
	mean := sum / float64(len(costs))

	var out []string
	for id, c := range costs {
		if c.TotalCost > 2*mean {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
