package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/flowforge/flowforge/pkg/domain/types"
	"github.com/flowforge/flowforge/pkg/graph"
	"github.com/flowforge/flowforge/pkg/optimizer"
)

// Engine is the DAG runtime. It owns its handler registry, recovery manager
// and event bus; two engines share nothing, so tests and embedded uses can
// run isolated side by side.
type Engine struct {
	registry *Registry
	recovery *RecoveryManager
	events   *EventBus
	audit    *AuditLogger
	opts     Options
}

// NewEngine creates an engine around the given handler registry.
func NewEngine(registry *Registry, opts Options) *Engine {
	opts.SetDefaults()
	return &Engine{
		registry: registry,
		recovery: NewRecoveryManager(opts.RetryBaseDelay),
		events:   NewEventBus(),
		audit:    NewAuditLogger(nil),
		opts:     opts,
	}
}

// Events exposes the engine's event bus for listener registration.
func (e *Engine) Events() *EventBus {
	return e.events
}

// Recovery exposes the engine's recovery manager for history and breaker
// inspection.
func (e *Engine) Recovery() *RecoveryManager {
	return e.recovery
}

// SetAuditRepository wires run persistence. A nil repository disables it.
func (e *Engine) SetAuditRepository(repo Repository) {
	e.audit = NewAuditLogger(repo)
}

// connection is one derived data-flow edge: absent handles, all of the
// source's outputs merge into the target's inputs.
type connection struct {
	source       string
	sourceHandle string
	targetHandle string
}

// builtNode pairs a node spec with its constructed handler.
type builtNode struct {
	spec    *graph.NodeSpec
	handler Handler
}

// run is the mutable state of one execution in flight.
type run struct {
	mu       sync.Mutex
	rctx     *Context
	nodes    map[string]*builtNode
	incoming map[string][]connection
	g        *graph.Graph
}

func (r *run) result(nodeID string) (*NodeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.rctx.NodeResults[nodeID]
	return res, ok
}

func (r *run) record(res *NodeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rctx.NodeResults[res.NodeID] = res
}

// Execute runs the graph to completion and returns the aggregate result.
// Node failures never escape as an error: they are recorded per node and
// reflected in Result.Success. The returned error covers pre-run problems
// only, such as unknown node types or dangling edges.
func (e *Engine) Execute(ctx context.Context, g *graph.Graph, global map[string]interface{}) (*Result, error) {
	order, cyclic := e.order(g)
	if cyclic {
		log.Printf("Warning: graph %s contains a cycle, executing all nodes in one flat level", g.ID)
	}
	return e.execute(ctx, g, order, global)
}

// ExecutePlan runs an optimized plan, reusing its precomputed order.
func (e *Engine) ExecutePlan(ctx context.Context, plan *optimizer.ExecutionPlan, global map[string]interface{}) (*Result, error) {
	return e.execute(ctx, plan.OptimizedGraph, plan.ExecutionOrder, global)
}

// order levels the graph with Kahn's algorithm. When fewer ids come out than
// nodes went in, a cycle exists and the order degrades to one flat level.
func (e *Engine) order(g *graph.Graph) ([][]string, bool) {
	levels := optimizer.KahnLevels(g)
	ordered := 0
	for _, level := range levels {
		ordered += len(level)
	}
	if ordered < len(g.Nodes) {
		return [][]string{g.NodeIDs()}, true
	}
	return levels, false
}

func (e *Engine) execute(ctx context.Context, g *graph.Graph, order [][]string, global map[string]interface{}) (*Result, error) {
	r, err := e.buildRun(g, global)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	e.audit.LogRunStart(r.rctx)

	for _, level := range order {
		// Cancellation is observed between levels; nodes already dispatched
		// in the current level finish on their own terms.
		if ctx.Err() != nil {
			log.Printf("Warning: execution %s cancelled, skipping remaining levels", r.rctx.ExecutionID)
			break
		}

		var eg errgroup.Group
		eg.SetLimit(e.opts.MaxConcurrency)

		for _, nodeID := range level {
			if _, done := r.result(nodeID); done {
				continue
			}
			node := r.nodes[nodeID]
			eg.Go(func() error {
				e.runNode(ctx, r, node)
				return nil
			})
		}
		_ = eg.Wait()

		e.propagateFailures(r, level)
	}

	result := &Result{
		Success:        true,
		ExecutionID:    r.rctx.ExecutionID,
		WorkflowID:     r.rctx.WorkflowID,
		ExecutionTime:  time.Since(started),
		ExecutionOrder: order,
		Results:        r.rctx.NodeResults,
	}
	for _, res := range result.Results {
		result.Success = result.Success && res.Success
	}

	e.audit.LogRunComplete(result)
	return result, nil
}

// buildRun instantiates every handler and derives the data-flow connections.
// Unknown node types and dangling edge endpoints fail the run before any node
// executes.
func (e *Engine) buildRun(g *graph.Graph, global map[string]interface{}) (*run, error) {
	r := &run{
		rctx:     NewContext(types.WorkflowID(g.ID), global),
		nodes:    make(map[string]*builtNode, len(g.Nodes)),
		incoming: make(map[string][]connection),
		g:        g,
	}

	for i := range g.Nodes {
		spec := &g.Nodes[i]
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		handler, err := e.registry.Build(spec.Type, spec.Config)
		if err != nil {
			return nil, err
		}
		r.nodes[spec.ID] = &builtNode{spec: spec, handler: handler}
	}

	for _, edge := range g.Edges {
		if _, ok := r.nodes[edge.Source]; !ok {
			return nil, fmt.Errorf("edge source %q not found in nodes", edge.Source)
		}
		if _, ok := r.nodes[edge.Target]; !ok {
			return nil, fmt.Errorf("edge target %q not found in nodes", edge.Target)
		}
		r.incoming[edge.Target] = append(r.incoming[edge.Target], connection{
			source:       edge.Source,
			sourceHandle: edge.SourceHandle,
			targetHandle: edge.TargetHandle,
		})
	}

	return r, nil
}

// runNode drives one node through its attempt loop to a terminal result.
// Retries are strictly sequential.
func (e *Engine) runNode(ctx context.Context, r *run, node *builtNode) {
	nodeID := node.spec.ID
	nodeType := node.spec.Type
	maxAttempts := nodeMaxAttempts(node.spec, e.opts.MaxAttempts)
	timeout := nodeTimeout(node.spec, e.opts.NodeTimeout)

	inputs := e.gatherInputs(r, nodeID)

	for attempt := 1; ; attempt++ {
		if allowed, category := e.recovery.AllowExecution(nodeType); !allowed {
			execErr := &ExecutionError{
				NodeID:           nodeID,
				NodeType:         nodeType,
				Category:         category,
				Severity:         SeverityHigh,
				Message:          fmt.Sprintf("circuit open for node type %s", nodeType),
				AttemptNumber:    attempt,
				MaxAttempts:      maxAttempts,
				Recoverable:      false,
				RecoveryStrategy: StrategyCircuitBreaker,
				Timestamp:        time.Now(),
			}
			e.recovery.RecordBlocked(execErr)
			e.finishNode(r, node, &NodeResult{
				NodeID:  nodeID,
				Success: false,
				Error:   execErr,
			})
			return
		}

		e.events.Emit(Event{
			Type:        EventNodeStarted,
			ExecutionID: r.rctx.ExecutionID,
			WorkflowID:  r.rctx.WorkflowID,
			NodeID:      nodeID,
			NodeType:    nodeType,
			Attempt:     attempt,
		})

		started := time.Now()
		outputs, err := e.invoke(ctx, node, inputs, NodeContext{
			WorkflowID:  r.rctx.WorkflowID,
			ExecutionID: r.rctx.ExecutionID,
			NodeID:      nodeID,
			NodeType:    nodeType,
			Global:      r.rctx.Global,
			Attempt:     attempt,
		}, timeout)
		elapsed := time.Since(started)

		if err == nil {
			e.recovery.OnSuccess(nodeType)
			e.finishNode(r, node, &NodeResult{
				NodeID:        nodeID,
				Success:       true,
				Outputs:       outputs,
				ExecutionTime: elapsed,
			})
			return
		}

		execErr, decision := e.recovery.Recover(err, FailedNode{
			ID:       nodeID,
			Type:     nodeType,
			Config:   node.spec.Config,
			Attempt:  attempt,
			MaxTries: maxAttempts,
		})

		switch {
		case decision.Skip:
			e.finishNode(r, node, &NodeResult{
				NodeID:        nodeID,
				Success:       true,
				Outputs:       map[string]interface{}{},
				ExecutionTime: elapsed,
				Metadata: map[string]interface{}{
					"skipped": true,
					"caveat":  execErr.Message,
				},
			})
			return
		case decision.FallbackOutputs != nil:
			e.finishNode(r, node, &NodeResult{
				NodeID:        nodeID,
				Success:       true,
				Outputs:       decision.FallbackOutputs,
				ExecutionTime: elapsed,
				Metadata:      map[string]interface{}{"fallback": true},
			})
			return
		case decision.Retry:
			if !sleepContext(ctx, decision.Delay) {
				e.finishNode(r, node, &NodeResult{
					NodeID:        nodeID,
					Success:       false,
					ExecutionTime: elapsed,
					Error:         execErr,
				})
				return
			}
			continue
		default:
			e.finishNode(r, node, &NodeResult{
				NodeID:        nodeID,
				Success:       false,
				ExecutionTime: elapsed,
				Error:         execErr,
			})
			return
		}
	}
}

// invoke calls the handler under the per-node timeout. Run cancellation is
// observed between levels, not here, so the call context carries the timeout
// only. Handlers that ignore it are abandoned at the deadline; the buffered
// channel lets the goroutine finish on its own.
func (e *Engine) invoke(ctx context.Context, node *builtNode, inputs map[string]interface{}, nc NodeContext, timeout time.Duration) (map[string]interface{}, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type outcome struct {
		outputs map[string]interface{}
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic in handler: %v", rec)}
			}
		}()
		outputs, err := node.handler.Execute(callCtx, inputs, nc)
		done <- outcome{outputs: outputs, err: err}
	}()

	select {
	case out := <-done:
		return out.outputs, out.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// finishNode records the terminal result and emits nodeFinished.
func (e *Engine) finishNode(r *run, node *builtNode, res *NodeResult) {
	r.record(res)
	e.audit.LogNodeResult(r.rctx.ExecutionID, node.spec.Type, res)
	e.events.Emit(Event{
		Type:        EventNodeFinished,
		ExecutionID: r.rctx.ExecutionID,
		WorkflowID:  r.rctx.WorkflowID,
		NodeID:      res.NodeID,
		NodeType:    node.spec.Type,
		Success:     res.Success,
		Error:       res.Error,
	})
}

// propagateFailures marks every direct successor of a node that failed in the
// given level as failed without invoking it. Propagation is deliberately
// non-transitive: successors of a marked node still run.
func (e *Engine) propagateFailures(r *run, level []string) {
	for _, nodeID := range level {
		res, ok := r.result(nodeID)
		if !ok || res.Success {
			continue
		}
		for _, edge := range r.g.OutgoingEdges(nodeID) {
			if _, done := r.result(edge.Target); done {
				continue
			}
			target := r.nodes[edge.Target]
			e.finishNode(r, target, &NodeResult{
				NodeID:  edge.Target,
				Success: false,
				Error: &ExecutionError{
					NodeID:      edge.Target,
					NodeType:    target.spec.Type,
					Category:    CategoryUnknown,
					Severity:    SeverityMedium,
					Message:     fmt.Sprintf("upstream node %s failed", nodeID),
					Recoverable: false,
					Timestamp:   time.Now(),
				},
			})
		}
	}
}

// gatherInputs merges the recorded outputs of every successful direct
// upstream connection. Connections without handles merge whole output maps,
// later connections winning on key conflicts; a source handle extracts one
// path from the source's outputs, landing under the target handle (or the
// same path when none is given).
func (e *Engine) gatherInputs(r *run, nodeID string) map[string]interface{} {
	inputs := make(map[string]interface{})

	for _, conn := range r.incoming[nodeID] {
		res, ok := r.result(conn.source)
		if !ok || !res.Success || res.Outputs == nil {
			continue
		}

		if conn.sourceHandle == "" {
			if err := mergo.Merge(&inputs, res.Outputs, mergo.WithOverride); err != nil {
				log.Printf("Warning: failed to merge outputs of %s into %s: %v", conn.source, nodeID, err)
			}
			continue
		}

		raw, err := json.Marshal(res.Outputs)
		if err != nil {
			log.Printf("Warning: failed to serialize outputs of %s: %v", conn.source, err)
			continue
		}
		value := gjson.GetBytes(raw, conn.sourceHandle)
		if !value.Exists() {
			continue
		}
		key := conn.targetHandle
		if key == "" {
			key = conn.sourceHandle
		}
		inputs[key] = value.Value()
	}

	r.mu.Lock()
	r.rctx.DataFlow[nodeID] = inputs
	r.mu.Unlock()
	return inputs
}

// sleepContext waits for the delay, returning false if ctx is cancelled
// first.
func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nodeMaxAttempts(spec *graph.NodeSpec, fallback int) int {
	if spec.Config == nil {
		return fallback
	}
	switch v := spec.Config["max_attempts"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func nodeTimeout(spec *graph.NodeSpec, fallback time.Duration) time.Duration {
	if spec.Config == nil {
		return fallback
	}
	switch v := spec.Config["timeout_seconds"].(type) {
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	}
	return fallback
}
