package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() *Graph {
	return &Graph{
		Nodes: []NodeSpec{
			{ID: "a", Type: TypeSource},
			{ID: "b", Type: TypeFilter, Config: map[string]interface{}{"condition": "x > 1"}},
			{ID: "c", Type: TypeExport},
		},
		Edges: []EdgeSpec{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		},
	}
}

func TestAnalyzeLinearGraph(t *testing.T) {
	analyzer := NewAnalyzer()
	analysis := analyzer.Analyze(linearGraph())

	assert.Equal(t, 3, analysis.NodeCount)
	assert.Equal(t, 2, analysis.EdgeCount)
	assert.Equal(t, 1.0, analysis.ConnectivityRatio)
	assert.False(t, analysis.HasCycle)
	assert.Equal(t, []string{"a"}, analysis.IndependentNodes)
	assert.Contains(t, analysis.Patterns, PatternLinear)
	assert.NotContains(t, analysis.Patterns, PatternFanOut)
	assert.NotContains(t, analysis.Patterns, PatternFanIn)
}

func TestAnalyzeComplexityScore(t *testing.T) {
	analyzer := NewAnalyzer()
	g := linearGraph()
	analysis := analyzer.Analyze(g)

	// 0.1*3 nodes + 0.2*2 edges + branching 1.0 + weights (0.5 + 1.0 + 0.5)
	assert.InDelta(t, 3.7, analysis.ComplexityScore, 0.0001)
	assert.Equal(t, ComplexitySimple, analysis.Complexity)
}

func TestComplexityClassification(t *testing.T) {
	tests := []struct {
		score float64
		want  Complexity
	}{
		{4.9, ComplexitySimple},
		{5.0, ComplexityModerate},
		{14.9, ComplexityModerate},
		{15.0, ComplexityComplex},
		{29.9, ComplexityComplex},
		{30.0, ComplexityVeryComplex},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyComplexity(tt.score), "score %v", tt.score)
	}
}

func TestCycleDetection(t *testing.T) {
	g := &Graph{
		Nodes: []NodeSpec{
			{ID: "a", Type: TypeSource},
			{ID: "b", Type: TypeTransform},
			{ID: "c", Type: TypeTransform},
		},
		Edges: []EdgeSpec{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "a"},
		},
	}

	analyzer := NewAnalyzer()
	assert.True(t, analyzer.HasCycle(g))

	// Breaking the back edge removes the cycle.
	g.Edges = g.Edges[:2]
	assert.False(t, analyzer.HasCycle(g))
}

func TestCycleDetectionSelfLoop(t *testing.T) {
	g := &Graph{
		Nodes: []NodeSpec{{ID: "a", Type: TypeTransform}},
		Edges: []EdgeSpec{{Source: "a", Target: "a"}},
	}

	assert.True(t, NewAnalyzer().HasCycle(g))
}

func TestCycleDetectionDeepChain(t *testing.T) {
	// A long chain exercises the iterative walk; a recursive DFS would risk
	// stack exhaustion at this depth.
	const depth = 50000
	g := &Graph{}
	for i := 0; i < depth; i++ {
		g.Nodes = append(g.Nodes, NodeSpec{ID: nodeName(i), Type: TypeTransform})
		if i > 0 {
			g.Edges = append(g.Edges, EdgeSpec{Source: nodeName(i - 1), Target: nodeName(i)})
		}
	}

	assert.False(t, NewAnalyzer().HasCycle(g))

	g.Edges = append(g.Edges, EdgeSpec{Source: nodeName(depth - 1), Target: nodeName(0)})
	assert.True(t, NewAnalyzer().HasCycle(g))
}

func nodeName(i int) string {
	return fmt.Sprintf("n%d", i)
}

func TestDetectFanPatterns(t *testing.T) {
	g := &Graph{
		Nodes: []NodeSpec{
			{ID: "src", Type: TypeSource},
			{ID: "left", Type: TypeFilter},
			{ID: "right", Type: TypeFilter},
			{ID: "join", Type: TypeJoin},
		},
		Edges: []EdgeSpec{
			{Source: "src", Target: "left"},
			{Source: "src", Target: "right"},
			{Source: "left", Target: "join"},
			{Source: "right", Target: "join"},
		},
	}

	analysis := NewAnalyzer().Analyze(g)
	assert.Contains(t, analysis.Patterns, PatternFanOut)
	assert.Contains(t, analysis.Patterns, PatternFanIn)
	assert.NotContains(t, analysis.Patterns, PatternLinear)
}

func TestDetectConditionalPattern(t *testing.T) {
	g := &Graph{
		Nodes: []NodeSpec{
			{ID: "a", Type: TypeSource},
			{ID: "b", Type: TypeBranch},
		},
		Edges: []EdgeSpec{{Source: "a", Target: "b"}},
	}

	analysis := NewAnalyzer().Analyze(g)
	assert.Contains(t, analysis.Patterns, PatternConditional)
}

func TestAnalyzeDisconnectedNodes(t *testing.T) {
	g := &Graph{
		Nodes: []NodeSpec{
			{ID: "a", Type: TypeSource},
			{ID: "b", Type: TypeExport},
			{ID: "isolated", Type: TypeTransform},
		},
		Edges: []EdgeSpec{{Source: "a", Target: "b"}},
	}

	analysis := NewAnalyzer().Analyze(g)
	assert.InDelta(t, 2.0/3.0, analysis.ConnectivityRatio, 0.0001)
	require.Len(t, analysis.IndependentNodes, 2)
	assert.ElementsMatch(t, []string{"a", "isolated"}, analysis.IndependentNodes)
}

func TestAnalyzeEmptyGraph(t *testing.T) {
	analysis := NewAnalyzer().Analyze(&Graph{})

	assert.Equal(t, 0, analysis.NodeCount)
	assert.Equal(t, 0.0, analysis.ConnectivityRatio)
	assert.False(t, analysis.HasCycle)
	assert.Equal(t, ComplexitySimple, analysis.Complexity)
}
