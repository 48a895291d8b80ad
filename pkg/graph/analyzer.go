package graph

// Complexity classifies a graph's overall structural complexity.
type Complexity string

const (
	// ComplexitySimple indicates a small, mostly linear graph.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate indicates a graph with some branching.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex indicates heavy branching or many transformations.
	ComplexityComplex Complexity = "complex"
	// ComplexityVeryComplex indicates a graph beyond the complex threshold.
	ComplexityVeryComplex Complexity = "very_complex"
)

// FlowPattern names a structural pattern detected in a graph.
type FlowPattern string

const (
	// PatternLinear means every node has at most one in-edge and one out-edge.
	PatternLinear FlowPattern = "linear"
	// PatternFanOut means some node feeds more than one downstream node.
	PatternFanOut FlowPattern = "fan_out"
	// PatternFanIn means some node consumes more than one upstream node.
	PatternFanIn FlowPattern = "fan_in"
	// PatternConditional means the graph contains a branch node.
	PatternConditional FlowPattern = "conditional_branching"
)

// Analysis is the result of structural analysis over a graph.
type Analysis struct {
	NodeCount         int
	EdgeCount         int
	ConnectivityRatio float64
	HasCycle          bool
	IndependentNodes  []string
	BranchingFactor   float64
	ComplexityScore   float64
	Complexity        Complexity
	Patterns          []FlowPattern
	Adjacency         map[string][]string
	ReverseAdjacency  map[string][]string
}

// transformationWeights assigns a fixed complexity weight per node type.
// Unknown types contribute the default weight.
var transformationWeights = map[string]float64{
	TypeSource:    0.5,
	TypeFilter:    1.0,
	TypeTransform: 1.5,
	TypeJoin:      3.0,
	TypeAggregate: 2.5,
	TypeBranch:    2.0,
	TypeExport:    0.5,
	TypeOutput:    0.5,
}

const defaultTransformationWeight = 1.0

// Analyzer performs structural analysis of workflow graphs: connectivity,
// cycle detection, parallelism opportunities and complexity scoring.
type Analyzer struct{}

// NewAnalyzer creates a graph analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze computes the full structural analysis for a graph.
func (a *Analyzer) Analyze(g *Graph) *Analysis {
	adj := g.Adjacency()
	rev := g.ReverseAdjacency()

	analysis := &Analysis{
		NodeCount:        len(g.Nodes),
		EdgeCount:        len(g.Edges),
		Adjacency:        adj,
		ReverseAdjacency: rev,
	}

	// Connectivity ratio: nodes touched by at least one edge over total.
	connected := make(map[string]bool)
	for _, e := range g.Edges {
		connected[e.Source] = true
		connected[e.Target] = true
	}
	if len(g.Nodes) > 0 {
		analysis.ConnectivityRatio = float64(len(connected)) / float64(len(g.Nodes))
	}

	analysis.HasCycle = a.HasCycle(g)

	// Zero in-degree nodes are eligible for parallel dispatch.
	for id, deg := range g.InDegrees() {
		if deg == 0 {
			analysis.IndependentNodes = append(analysis.IndependentNodes, id)
		}
	}

	analysis.BranchingFactor = branchingFactor(adj)
	analysis.ComplexityScore = a.complexityScore(g, analysis.BranchingFactor)
	analysis.Complexity = classifyComplexity(analysis.ComplexityScore)
	analysis.Patterns = a.detectPatterns(g, adj, rev)

	return analysis
}

// HasCycle reports whether the graph contains a directed cycle. The walk is
// iterative with an explicit stack so deep graphs cannot blow the call stack.
func (a *Analyzer) HasCycle(g *Graph) bool {
	adj := g.Adjacency()

	const (
		unvisited  = 0
		inProgress = 1
		done       = 2
	)
	state := make(map[string]int, len(g.Nodes))

	type frame struct {
		id   string
		next int
	}

	for i := range g.Nodes {
		start := g.Nodes[i].ID
		if state[start] != unvisited {
			continue
		}

		stack := []frame{{id: start}}
		state[start] = inProgress

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := adj[top.id]
			if top.next < len(children) {
				child := children[top.next]
				top.next++
				switch state[child] {
				case inProgress:
					// Revisiting a node still on the walk: cycle.
					return true
				case unvisited:
					state[child] = inProgress
					stack = append(stack, frame{id: child})
				}
				continue
			}
			state[top.id] = done
			stack = stack[:len(stack)-1]
		}
	}

	return false
}

// complexityScore implements
// 0.1*nodes + 0.2*edges + branchingFactor + transformationComplexity.
func (a *Analyzer) complexityScore(g *Graph, branching float64) float64 {
	score := 0.1*float64(len(g.Nodes)) + 0.2*float64(len(g.Edges)) + branching
	for i := range g.Nodes {
		weight, ok := transformationWeights[g.Nodes[i].Type]
		if !ok {
			weight = defaultTransformationWeight
		}
		score += weight
	}
	return score
}

func branchingFactor(adj map[string][]string) float64 {
	total := 0
	withOut := 0
	for _, targets := range adj {
		if len(targets) > 0 {
			withOut++
			total += len(targets)
		}
	}
	if withOut == 0 {
		return 0
	}
	return float64(total) / float64(withOut)
}

func classifyComplexity(score float64) Complexity {
	switch {
	case score < 5:
		return ComplexitySimple
	case score < 15:
		return ComplexityModerate
	case score < 30:
		return ComplexityComplex
	default:
		return ComplexityVeryComplex
	}
}

func (a *Analyzer) detectPatterns(g *Graph, adj, rev map[string][]string) []FlowPattern {
	var patterns []FlowPattern

	linear := true
	fanOut := false
	fanIn := false
	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if len(adj[id]) > 1 {
			fanOut = true
			linear = false
		}
		if len(rev[id]) > 1 {
			fanIn = true
			linear = false
		}
	}

	if linear {
		patterns = append(patterns, PatternLinear)
	}
	if fanOut {
		patterns = append(patterns, PatternFanOut)
	}
	if fanIn {
		patterns = append(patterns, PatternFanIn)
	}
	for i := range g.Nodes {
		if g.Nodes[i].Type == TypeBranch {
			patterns = append(patterns, PatternConditional)
			break
		}
	}

	return patterns
}
