package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/flowforge/flowforge/pkg/domain/types"
)

// DefaultProfileWindow bounds the rolling window of retained profiles.
const DefaultProfileWindow = 50

// Profile is the post-run analysis of one execution.
type Profile struct {
	ExecutionID types.ExecutionID        `json:"execution_id"`
	TotalTime   time.Duration            `json:"total_time"`
	NodeTimes   map[string]time.Duration `json:"node_times"`
	// Bottlenecks lists nodes whose execution time exceeds twice the mean.
	Bottlenecks []string `json:"bottlenecks"`
	// EfficiencyScore in [0,1] compares the achieved speedup over sequential
	// execution against the ideal speedup the level structure allows.
	EfficiencyScore float64 `json:"efficiency_score"`
	SuccessRate     float64 `json:"success_rate"`
}

// TrendDirection summarizes how recent run times are moving.
type TrendDirection string

// Trend directions.
const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendStable    TrendDirection = "stable"
)

// Trend aggregates the rolling profile window.
type Trend struct {
	Runs              int            `json:"runs"`
	AverageTime       time.Duration  `json:"average_time"`
	AverageEfficiency float64        `json:"average_efficiency"`
	Direction         TrendDirection `json:"direction"`
}

// Profiler analyzes finished runs and keeps a rolling window for trend
// reporting. Safe for concurrent use.
type Profiler struct {
	mu      sync.Mutex
	window  []Profile
	maxSize int
}

// NewProfiler creates a profiler with the default window size.
func NewProfiler() *Profiler {
	return &Profiler{maxSize: DefaultProfileWindow}
}

// Analyze profiles one finished run and appends it to the rolling window.
func (p *Profiler) Analyze(result *Result) Profile {
	profile := Profile{
		ExecutionID: result.ExecutionID,
		TotalTime:   result.ExecutionTime,
		NodeTimes:   make(map[string]time.Duration, len(result.Results)),
	}

	var nodeSum time.Duration
	succeeded := 0
	for id, res := range result.Results {
		profile.NodeTimes[id] = res.ExecutionTime
		nodeSum += res.ExecutionTime
		if res.Success {
			succeeded++
		}
	}
	if len(result.Results) > 0 {
		profile.SuccessRate = float64(succeeded) / float64(len(result.Results))
	}

	profile.Bottlenecks = findSlowNodes(profile.NodeTimes)
	profile.EfficiencyScore = efficiencyScore(nodeSum, result.ExecutionTime, len(result.Results), len(result.ExecutionOrder))

	p.mu.Lock()
	p.window = append(p.window, profile)
	if len(p.window) > p.maxSize {
		p.window = p.window[len(p.window)-p.maxSize:]
	}
	p.mu.Unlock()

	return profile
}

// Trend summarizes the retained window. The direction compares the mean run
// time of the newer half against the older half, with a 10% dead band.
func (p *Profiler) Trend() Trend {
	p.mu.Lock()
	defer p.mu.Unlock()

	trend := Trend{Runs: len(p.window), Direction: TrendStable}
	if len(p.window) == 0 {
		return trend
	}

	var totalTime time.Duration
	var totalEfficiency float64
	for _, profile := range p.window {
		totalTime += profile.TotalTime
		totalEfficiency += profile.EfficiencyScore
	}
	trend.AverageTime = totalTime / time.Duration(len(p.window))
	trend.AverageEfficiency = totalEfficiency / float64(len(p.window))

	if len(p.window) >= 4 {
		mid := len(p.window) / 2
		older := meanTime(p.window[:mid])
		newer := meanTime(p.window[mid:])
		switch {
		case float64(newer) < float64(older)*0.9:
			trend.Direction = TrendImproving
		case float64(newer) > float64(older)*1.1:
			trend.Direction = TrendDegrading
		}
	}

	return trend
}

func meanTime(profiles []Profile) time.Duration {
	if len(profiles) == 0 {
		return 0
	}
	var total time.Duration
	for _, profile := range profiles {
		total += profile.TotalTime
	}
	return total / time.Duration(len(profiles))
}

// findSlowNodes flags nodes slower than twice the mean node time.
func findSlowNodes(times map[string]time.Duration) []string {
	if len(times) == 0 {
		return nil
	}
	var sum time.Duration
	for _, t := range times {
		sum += t
	}
	mean := float64(sum) / float64(len(times))

	var slow []string
	for id, t := range times {
		if float64(t) > 2*mean && t > 0 {
			slow = append(slow, id)
		}
	}
	sort.Strings(slow)
	return slow
}

// efficiencyScore relates achieved speedup (sum of node times over wall time)
// to the ideal speedup the level structure permits (nodes over levels).
func efficiencyScore(nodeSum, wall time.Duration, nodes, levels int) float64 {
	if wall <= 0 || nodes == 0 || levels == 0 {
		return 0
	}
	speedup := float64(nodeSum) / float64(wall)
	ideal := float64(nodes) / float64(levels)
	if ideal <= 0 {
		return 0
	}
	score := speedup / ideal
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
