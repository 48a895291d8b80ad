package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/pkg/domain/types"
)

func profiledResult(total time.Duration, nodeTimes map[string]time.Duration, levels int) *Result {
	result := &Result{
		Success:       true,
		ExecutionID:   types.NewExecutionID(),
		ExecutionTime: total,
		Results:       make(map[string]*NodeResult, len(nodeTimes)),
	}
	for i := 0; i < levels; i++ {
		result.ExecutionOrder = append(result.ExecutionOrder, nil)
	}
	for id, t := range nodeTimes {
		result.Results[id] = &NodeResult{NodeID: id, Success: true, ExecutionTime: t}
	}
	return result
}

func TestProfilerFlagsBottlenecks(t *testing.T) {
	p := NewProfiler()

	profile := p.Analyze(profiledResult(400*time.Millisecond, map[string]time.Duration{
		"fast1": 10 * time.Millisecond,
		"fast2": 10 * time.Millisecond,
		"fast3": 10 * time.Millisecond,
		"slow":  300 * time.Millisecond,
	}, 4))

	assert.Equal(t, []string{"slow"}, profile.Bottlenecks)
}

func TestProfilerSuccessRate(t *testing.T) {
	p := NewProfiler()
	result := profiledResult(time.Second, map[string]time.Duration{
		"a": time.Millisecond, "b": time.Millisecond,
	}, 2)
	result.Results["b"].Success = false

	profile := p.Analyze(result)

	assert.InDelta(t, 0.5, profile.SuccessRate, 1e-9)
}

func TestProfilerEfficiencyScore(t *testing.T) {
	p := NewProfiler()

	// Two nodes in one level, both 100ms, wall time 100ms: perfect overlap.
	parallel := p.Analyze(profiledResult(100*time.Millisecond, map[string]time.Duration{
		"a": 100 * time.Millisecond,
		"b": 100 * time.Millisecond,
	}, 1))
	assert.InDelta(t, 1.0, parallel.EfficiencyScore, 0.01)

	// Same nodes run back to back: half the ideal speedup.
	sequential := p.Analyze(profiledResult(200*time.Millisecond, map[string]time.Duration{
		"a": 100 * time.Millisecond,
		"b": 100 * time.Millisecond,
	}, 1))
	assert.InDelta(t, 0.5, sequential.EfficiencyScore, 0.01)
}

func TestProfilerTrendDirection(t *testing.T) {
	p := NewProfiler()

	for i := 0; i < 4; i++ {
		p.Analyze(profiledResult(time.Second, map[string]time.Duration{"a": time.Second}, 1))
	}
	for i := 0; i < 4; i++ {
		p.Analyze(profiledResult(200*time.Millisecond, map[string]time.Duration{"a": 200 * time.Millisecond}, 1))
	}

	trend := p.Trend()
	assert.Equal(t, 8, trend.Runs)
	assert.Equal(t, TrendImproving, trend.Direction)
}

func TestProfilerTrendStableForFewRuns(t *testing.T) {
	p := NewProfiler()
	p.Analyze(profiledResult(time.Second, map[string]time.Duration{"a": time.Second}, 1))

	trend := p.Trend()
	assert.Equal(t, 1, trend.Runs)
	assert.Equal(t, TrendStable, trend.Direction)
	assert.Equal(t, time.Second, trend.AverageTime)
}

func TestProfilerWindowIsBounded(t *testing.T) {
	p := NewProfiler()
	p.maxSize = 5

	for i := 0; i < 12; i++ {
		p.Analyze(profiledResult(time.Second, map[string]time.Duration{"a": time.Second}, 1))
	}

	require.Equal(t, 5, p.Trend().Runs)
}

func TestProfilerEmptyResult(t *testing.T) {
	p := NewProfiler()

	profile := p.Analyze(&Result{ExecutionID: types.NewExecutionID()})

	assert.Empty(t, profile.Bottlenecks)
	assert.Zero(t, profile.EfficiencyScore)
	assert.Zero(t, profile.SuccessRate)
}
