package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/graph"
)

func runHandler(t *testing.T, nodeType string, config, inputs map[string]interface{}) map[string]interface{} {
	t.Helper()
	r := NewRegistry()
	RegisterBuiltins(r)
	handler, err := r.Build(nodeType, config)
	require.NoError(t, err)
	outputs, err := handler.Execute(context.Background(), inputs, NodeContext{NodeID: "n", NodeType: nodeType})
	require.NoError(t, err)
	return outputs
}

func sampleRows() []interface{} {
	return []interface{}{
		map[string]interface{}{"id": 1, "region": "east", "amount": 50.0},
		map[string]interface{}{"id": 2, "region": "west", "amount": 150.0},
		map[string]interface{}{"id": 3, "region": "east", "amount": 250.0},
	}
}

func TestSourceHandlerEmitsRows(t *testing.T) {
	outputs := runHandler(t, "source", map[string]interface{}{"rows": sampleRows()}, nil)
	assert.Len(t, outputs["rows"], 3)
}

func TestSourceHandlerAppliesPushedFilters(t *testing.T) {
	outputs := runHandler(t, "source", map[string]interface{}{
		"rows":           sampleRows(),
		"pushed_filters": []interface{}{"amount > 100"},
	}, nil)

	rows := outputs["rows"].([]interface{})
	require.Len(t, rows, 2)
}

func TestSourceHandlerAppliesPushedProjection(t *testing.T) {
	outputs := runHandler(t, "source", map[string]interface{}{
		"rows":              sampleRows(),
		"pushed_projection": []interface{}{"id"},
	}, nil)

	rows := outputs["rows"].([]interface{})
	require.Len(t, rows, 3)
	first := rows[0].(map[string]interface{})
	assert.Contains(t, first, "id")
	assert.NotContains(t, first, "amount")
}

func TestSourceHandlerRejectsBadPushedFilter(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	_, err := r.Build("source", map[string]interface{}{
		"pushed_filters": []interface{}{"amount >"},
	})

	require.Error(t, err)
}

func TestFilterHandler(t *testing.T) {
	outputs := runHandler(t, "filter",
		map[string]interface{}{"condition": `region == "east"`},
		map[string]interface{}{"rows": sampleRows()})

	rows := outputs["rows"].([]interface{})
	require.Len(t, rows, 2)
}

func TestFilterHandlerRequiresCondition(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	_, err := r.Build("filter", map[string]interface{}{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required condition")
}

func TestTransformHandlerProjection(t *testing.T) {
	outputs := runHandler(t, "transform",
		map[string]interface{}{"fields": []interface{}{"id", "region"}},
		map[string]interface{}{"rows": sampleRows()})

	rows := outputs["rows"].([]interface{})
	first := rows[0].(map[string]interface{})
	assert.Len(t, first, 2)
}

func TestTransformHandlerOperation(t *testing.T) {
	outputs := runHandler(t, "transform",
		map[string]interface{}{"operation": "amount * 2", "target_field": "doubled"},
		map[string]interface{}{"rows": sampleRows()})

	rows := outputs["rows"].([]interface{})
	first := rows[0].(map[string]interface{})
	assert.Equal(t, 100.0, first["doubled"])
	assert.Equal(t, "east", first["region"])
}

func TestJoinHandlerConcatenatesHandles(t *testing.T) {
	outputs := runHandler(t, "join", nil, map[string]interface{}{
		"left":  []interface{}{map[string]interface{}{"id": 1}},
		"right": []interface{}{map[string]interface{}{"id": 2}, map[string]interface{}{"id": 3}},
	})

	assert.Len(t, outputs["rows"], 3)
}

func TestAggregateHandlerGroupedSum(t *testing.T) {
	outputs := runHandler(t, "aggregate",
		map[string]interface{}{
			"group_by":  []interface{}{"region"},
			"functions": []interface{}{"count", "sum:amount"},
		},
		map[string]interface{}{"rows": sampleRows()})

	rows := outputs["rows"].([]interface{})
	require.Len(t, rows, 2)

	byRegion := map[string]map[string]interface{}{}
	for _, row := range rows {
		record := row.(map[string]interface{})
		byRegion[record["region"].(string)] = record
	}
	assert.Equal(t, 2, byRegion["east"]["count"])
	assert.Equal(t, 300.0, byRegion["east"]["sum_amount"])
	assert.Equal(t, 150.0, byRegion["west"]["sum_amount"])
}

func TestAggregateHandlerUngroupedCount(t *testing.T) {
	outputs := runHandler(t, "aggregate", nil,
		map[string]interface{}{"rows": sampleRows()})

	rows := outputs["rows"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].(map[string]interface{})["count"])
}

func TestBranchHandler(t *testing.T) {
	outputs := runHandler(t, "branch",
		map[string]interface{}{"condition": "len(rows) > 2"},
		map[string]interface{}{"rows": sampleRows()})

	assert.Equal(t, true, outputs["branch"])
	assert.Len(t, outputs["rows"], 3)
}

func TestPassthroughHandlers(t *testing.T) {
	for _, nodeType := range []string{"export", "output"} {
		outputs := runHandler(t, nodeType, nil, map[string]interface{}{"rows": sampleRows(), "meta": "x"})
		assert.Len(t, outputs["rows"], 3)
		assert.Equal(t, "x", outputs["meta"])
	}
}

func TestBuiltinsRunOptimizedPipelineEndToEnd(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	engine := NewEngine(r, testOptions())

	g := &graph.Graph{
		ID: "wf-pipeline",
		Nodes: []graph.NodeSpec{
			{ID: "src", Type: "source", Config: map[string]interface{}{
				"source_type": "database",
				"rows":        sampleRows(),
			}},
			{ID: "flt", Type: "filter", Config: map[string]interface{}{"condition": "amount > 100"}},
			{ID: "agg", Type: "aggregate", Config: map[string]interface{}{
				"group_by":  []interface{}{"region"},
				"functions": []interface{}{"count"},
			}},
			{ID: "out", Type: "output"},
		},
		Edges: []graph.EdgeSpec{
			{Source: "src", Target: "flt"},
			{Source: "flt", Target: "agg"},
			{Source: "agg", Target: "out"},
		},
	}

	result, err := engine.Execute(context.Background(), g, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	rows := result.Results["out"].Outputs["rows"].([]interface{})
	assert.Len(t, rows, 2)
}
