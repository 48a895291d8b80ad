package optimizer

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/flowforge/flowforge/pkg/graph"
)

// Rule names reported in ExecutionPlan.AppliedRules.
const (
	RuleConstantFolding    = "constant_folding"
	RuleDeadCodeElim       = "dead_code_elimination"
	RuleFilterPushdown     = "filter_pushdown"
	RuleProjectionPushdown = "projection_pushdown"
	RuleJoinReordering     = "join_reordering"
)

// pushdownSourceTypes is the allow-list of source types that can absorb
// pushed-down filters and projections without changing semantics.
var pushdownSourceTypes = map[string]bool{
	"database":  true,
	"warehouse": true,
	"sql":       true,
}

// Rewriter applies rule-based graph transformations gated by the optimization
// level. Each rule runs independently: a failing rule is logged and skipped
// without aborting the others, and the graph keeps its pre-rule state.
//
// Rewriting is idempotent: running the rewriter on its own output applies no
// further rule.
type Rewriter struct{}

// NewRewriter creates a graph rewriter.
func NewRewriter() *Rewriter {
	return &Rewriter{}
}

type rewriteRule struct {
	name string
	fn   func(*graph.Graph) (bool, error)
}

// Rewrite returns a transformed copy of the graph together with the names of
// the rules that changed it. The input graph is never mutated.
func (r *Rewriter) Rewrite(g *graph.Graph, level Level) (*graph.Graph, []string) {
	working := g.Clone()
	applied := []string{}

	for _, rule := range r.rulesForLevel(level) {
		changed, err := r.applyRule(rule, working)
		if err != nil {
			log.Printf("Warning: rewrite rule %s failed, skipping: %v", rule.name, err)
			continue
		}
		if changed {
			applied = append(applied, rule.name)
		}
	}

	return working, applied
}

func (r *Rewriter) rulesForLevel(level Level) []rewriteRule {
	rules := []rewriteRule{
		{RuleConstantFolding, r.foldConstants},
	}
	if level == LevelStandard || level == LevelAdvanced || level == LevelAggressive {
		rules = append(rules, rewriteRule{RuleFilterPushdown, r.pushDownFilters})
	}
	if level == LevelAdvanced || level == LevelAggressive {
		rules = append(rules,
			rewriteRule{RuleProjectionPushdown, r.pushDownProjections},
			rewriteRule{RuleJoinReordering, r.reorderJoins},
		)
	}
	// Elimination runs last so nodes orphaned by pushdown are swept too.
	rules = append(rules, rewriteRule{RuleDeadCodeElim, r.eliminateDeadCode})
	return rules
}

// applyRule runs one rule on a scratch copy so a failing rule cannot leave the
// working graph half-rewritten.
func (r *Rewriter) applyRule(rule rewriteRule, working *graph.Graph) (changed bool, err error) {
	scratch := working.Clone()

	defer func() {
		if rec := recover(); rec != nil {
			changed = false
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	changed, err = rule.fn(scratch)
	if err != nil || !changed {
		return changed, err
	}

	*working = *scratch
	return true, nil
}

// literalArithmetic matches a parenthesized arithmetic expression made only of
// numeric literals, e.g. "(2 + 3 * 4)".
var literalArithmetic = regexp.MustCompile(`\(\s*\d+(?:\.\d+)?(?:\s*[-+*/]\s*\d+(?:\.\d+)?)+\s*\)`)

// foldConstants evaluates literal arithmetic sub-expressions inside transform
// operations and replaces them with their precomputed value.
func (r *Rewriter) foldConstants(g *graph.Graph) (bool, error) {
	changed := false
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Type != graph.TypeTransform {
			continue
		}
		op := graph.TransformConfigOf(node).Operation
		if op == "" {
			continue
		}

		folded := literalArithmetic.ReplaceAllStringFunc(op, func(match string) string {
			value, err := evalLiteral(match)
			if err != nil {
				return match
			}
			return value
		})

		if folded != op {
			node.SetConfig("operation", folded)
			changed = true
		}
	}
	return changed, nil
}

func evalLiteral(expression string) (string, error) {
	out, err := expr.Eval(expression, nil)
	if err != nil {
		return "", err
	}
	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("non-numeric fold result %T", out)
	}
}

// pushDownFilters relocates filter conditions into upstream sources that can
// apply them natively, then removes the now-redundant filter nodes. Only
// filters with exactly one upstream edge are moved, which guarantees the edge
// count never increases when the node is bridged out.
func (r *Rewriter) pushDownFilters(g *graph.Graph) (bool, error) {
	var pushed []string

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Type != graph.TypeFilter {
			continue
		}
		cfg := graph.FilterConfigOf(node)
		if cfg.PushedDown || cfg.Condition == "" {
			continue
		}

		source := r.upstreamSource(g, node.ID)
		if source == nil {
			continue
		}
		srcCfg := graph.SourceConfigOf(source)
		if !srcCfg.SupportsFilter && !pushdownSourceTypes[srcCfg.SourceType] {
			continue
		}

		source.SetConfig("pushed_filters", appendString(srcCfg.PushedFilters, cfg.Condition))
		node.SetConfig("pushed_down", true)
		pushed = append(pushed, node.ID)
	}

	for _, id := range pushed {
		bridgeOut(g, id)
	}

	return len(pushed) > 0, nil
}

// pushDownProjections relocates pure field-selection transforms into upstream
// sources, mirroring filter pushdown.
func (r *Rewriter) pushDownProjections(g *graph.Graph) (bool, error) {
	var pushed []string

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Type != graph.TypeTransform {
			continue
		}
		cfg := graph.TransformConfigOf(node)
		if !isPureProjection(cfg) {
			continue
		}

		source := r.upstreamSource(g, node.ID)
		if source == nil {
			continue
		}
		srcCfg := graph.SourceConfigOf(source)
		if !srcCfg.SupportsFilter && !pushdownSourceTypes[srcCfg.SourceType] {
			continue
		}

		fields := srcCfg.PushedProjection
		for _, f := range cfg.Fields {
			fields = appendString(fields, f)
		}
		source.SetConfig("pushed_projection", fields)
		pushed = append(pushed, node.ID)
	}

	for _, id := range pushed {
		bridgeOut(g, id)
	}

	return len(pushed) > 0, nil
}

// isPureProjection reports whether a transform does nothing but select fields.
func isPureProjection(cfg graph.TransformConfig) bool {
	if len(cfg.Fields) == 0 {
		return false
	}
	op := strings.TrimSpace(cfg.Operation)
	return op == "" || op == "select" || strings.HasPrefix(op, "select(")
}

// reorderJoins tags joins whose config hints at large inputs with a higher
// execution priority. Informational only: edges are never changed.
func (r *Rewriter) reorderJoins(g *graph.Graph) (bool, error) {
	changed := false
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Type != graph.TypeJoin {
			continue
		}
		cfg := graph.JoinConfigOf(node)
		if cfg.Priority != 0 {
			continue
		}

		rows, _ := hintFloat(node.Config, "estimated_rows")
		largeHint := strings.Contains(strings.ToLower(cfg.Condition), "large")
		if rows >= largeRowThreshold || largeHint {
			node.SetConfig("priority", 10)
			changed = true
		}
	}
	return changed, nil
}

// eliminateDeadCode drops every node that cannot reach a terminal node. The
// reachable set is computed by walking edges backward from all terminals with
// an explicit stack. Graphs with no terminal node are left untouched.
func (r *Rewriter) eliminateDeadCode(g *graph.Graph) (bool, error) {
	var terminals []string
	for i := range g.Nodes {
		if g.Nodes[i].IsTerminal() {
			terminals = append(terminals, g.Nodes[i].ID)
		}
	}
	if len(terminals) == 0 {
		return false, nil
	}

	rev := g.ReverseAdjacency()
	reachable := make(map[string]bool, len(g.Nodes))
	stack := append([]string(nil), terminals...)
	for _, t := range terminals {
		reachable[t] = true
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, parent := range rev[current] {
			if !reachable[parent] {
				reachable[parent] = true
				stack = append(stack, parent)
			}
		}
	}

	if len(reachable) == len(g.Nodes) {
		return false, nil
	}

	kept := g.Nodes[:0]
	for i := range g.Nodes {
		if reachable[g.Nodes[i].ID] {
			kept = append(kept, g.Nodes[i])
		}
	}
	g.Nodes = kept

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if reachable[e.Source] && reachable[e.Target] {
			edges = append(edges, e)
		}
	}
	g.Edges = edges

	return true, nil
}

// upstreamSource walks backward from the node looking for its single upstream
// source. The walk only crosses already-pushed-down filters; anything else
// between the node and the source makes the pushdown unsafe.
func (r *Rewriter) upstreamSource(g *graph.Graph, nodeID string) *graph.NodeSpec {
	current := nodeID
	for {
		incoming := g.IncomingEdges(current)
		if len(incoming) != 1 {
			return nil
		}
		parent := g.NodeByID(incoming[0].Source)
		if parent == nil {
			return nil
		}
		switch parent.Type {
		case graph.TypeSource:
			return parent
		case graph.TypeFilter:
			if graph.FilterConfigOf(parent).PushedDown {
				current = parent.ID
				continue
			}
			return nil
		default:
			return nil
		}
	}
}

// bridgeOut removes a node from the graph, connecting its single upstream
// directly to each of its consumers.
func bridgeOut(g *graph.Graph, nodeID string) {
	incoming := g.IncomingEdges(nodeID)
	outgoing := g.OutgoingEdges(nodeID)
	if len(incoming) != 1 {
		return
	}
	upstream := incoming[0].Source

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if e.Source != nodeID && e.Target != nodeID {
			edges = append(edges, e)
		}
	}
	g.Edges = edges

	for _, out := range outgoing {
		if !hasEdge(g, upstream, out.Target) {
			g.Edges = append(g.Edges, graph.EdgeSpec{Source: upstream, Target: out.Target})
		}
	}

	nodes := g.Nodes[:0]
	for i := range g.Nodes {
		if g.Nodes[i].ID != nodeID {
			nodes = append(nodes, g.Nodes[i])
		}
	}
	g.Nodes = nodes
}

func hasEdge(g *graph.Graph, source, target string) bool {
	for _, e := range g.Edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}

func appendString(list []string, s string) []string {
	for _, item := range list {
		if item == s {
			return list
		}
	}
	return append(list, s)
}
