package execution

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// MaxRetryDelay caps the exponential backoff between attempts.
const MaxRetryDelay = 30 * time.Second

// DefaultHistorySize bounds the recovery manager's error history.
const DefaultHistorySize = 1000

// defaultStrategies is the category -> strategy table used when a node does
// not declare its own recovery strategy.
var defaultStrategies = map[Category]Strategy{
	CategoryNetwork:         StrategyRetry,
	CategoryTimeout:         StrategyRetry,
	CategoryExternalService: StrategyCircuitBreaker,
	CategoryValidation:      StrategyFailFast,
	CategoryConfiguration:   StrategyFailFast,
	CategorySystem:          StrategyFailFast,
	CategoryResource:        StrategyFailFast,
	CategoryBusinessLogic:   StrategyRetry,
	CategoryUnknown:         StrategyRetry,
}

var categorySeverities = map[Category]Severity{
	CategorySystem:          SeverityCritical,
	CategoryResource:        SeverityHigh,
	CategoryNetwork:         SeverityHigh,
	CategoryExternalService: SeverityHigh,
	CategoryTimeout:         SeverityMedium,
	CategoryConfiguration:   SeverityMedium,
	CategoryValidation:      SeverityLow,
	CategoryBusinessLogic:   SeverityLow,
	CategoryUnknown:         SeverityLow,
}

// nonRecoverableCategories are terminal by default regardless of attempts.
var nonRecoverableCategories = map[Category]bool{
	CategorySystem:     true,
	CategoryResource:   true,
	CategoryValidation: true,
}

// Decision tells the engine what to do with a failed node.
type Decision struct {
	Strategy Strategy
	// Retry asks for one more sequential attempt after Delay.
	Retry bool
	Delay time.Duration
	// Skip converts the failure into a successful no-op result with a caveat.
	Skip bool
	// FallbackOutputs, when non-nil, succeed the node with these outputs.
	FallbackOutputs map[string]interface{}
}

// FailedNode describes the failing node to the recovery manager.
type FailedNode struct {
	ID       string
	Type     string
	Config   map[string]interface{}
	Attempt  int // 1-based
	MaxTries int
}

// RecoveryManager classifies node failures and selects recovery behavior.
// One manager is owned by one engine; its breaker map and error history are
// shared by every run on that engine.
type RecoveryManager struct {
	breakers  *BreakerMap
	history   *errorHistory
	baseDelay time.Duration
}

// NewRecoveryManager creates a manager with default breaker settings and
// history bound.
func NewRecoveryManager(baseDelay time.Duration) *RecoveryManager {
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	return &RecoveryManager{
		breakers:  NewBreakerMap(),
		history:   newErrorHistory(DefaultHistorySize),
		baseDelay: baseDelay,
	}
}

// Breakers exposes the circuit breaker map for inspection and tuning.
func (m *RecoveryManager) Breakers() *BreakerMap {
	return m.breakers
}

// Classify converts a raw node error into a categorized ExecutionError.
// Already-classified errors keep their category.
func (m *RecoveryManager) Classify(err error, node FailedNode) *ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) && execErr.Category != "" {
		classified := *execErr
		classified.NodeID = node.ID
		classified.NodeType = node.Type
		classified.AttemptNumber = node.Attempt
		classified.MaxAttempts = node.MaxTries
		if classified.Severity == "" {
			classified.Severity = categorySeverities[classified.Category]
		}
		classified.Recoverable = !nonRecoverableCategories[classified.Category]
		classified.Timestamp = time.Now()
		classified.cause = err
		return &classified
	}

	category := classifyMessage(err)
	return &ExecutionError{
		NodeID:        node.ID,
		NodeType:      node.Type,
		Category:      category,
		Severity:      categorySeverities[category],
		Message:       err.Error(),
		AttemptNumber: node.Attempt,
		MaxAttempts:   node.MaxTries,
		Recoverable:   !nonRecoverableCategories[category],
		Timestamp:     time.Now(),
		cause:         err,
	}
}

// classifyMessage maps an error to a category via type and substring
// heuristics. context.DeadlineExceeded is always a timeout.
func classifyMessage(err error) Category {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return CategoryTimeout
	case containsAny(msg, "connection", "network", "dial", "refused", "dns", "unreachable"):
		return CategoryNetwork
	case containsAny(msg, "memory", "disk", "quota", "too many open files", "resource"):
		return CategoryResource
	case containsAny(msg, "config", "missing required", "unknown node type"):
		return CategoryConfiguration
	case containsAny(msg, "invalid", "validation", "malformed", "schema"):
		return CategoryValidation
	case containsAny(msg, "api", "rate limit", "upstream service", "503", "502", "gateway"):
		return CategoryExternalService
	case containsAny(msg, "panic", "nil pointer", "index out of range"):
		return CategorySystem
	case containsAny(msg, "business", "rule violation", "rejected"):
		return CategoryBusinessLogic
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Recover classifies the failure, records it in the history and returns the
// decision the engine should act on. The classified error is returned too so
// the engine can record it in the node's result.
func (m *RecoveryManager) Recover(err error, node FailedNode) (*ExecutionError, Decision) {
	execErr := m.Classify(err, node)
	execErr.RecoveryStrategy = m.strategyFor(execErr, node)
	m.history.append(execErr)

	// If this invocation was a half-open probe, the failure reopens the
	// circuit even when it classified under a different category than the one
	// that opened it; otherwise the probe slot would stay claimed forever.
	m.breakers.ProbeFailed(node.Type)

	decision := Decision{Strategy: execErr.RecoveryStrategy}

	switch execErr.RecoveryStrategy {
	case StrategyRetry:
		if execErr.Recoverable && node.Attempt < node.MaxTries {
			decision.Retry = true
			decision.Delay = RetryDelay(m.baseDelay, node.Attempt)
		}
	case StrategySkip:
		decision.Skip = true
	case StrategyFallback:
		if fb, ok := node.Config["fallback"].(map[string]interface{}); ok {
			decision.FallbackOutputs = fb
		}
	case StrategyCircuitBreaker:
		m.breakers.RecordFailure(node.Type, execErr.Category)
		if execErr.Recoverable && node.Attempt < node.MaxTries &&
			m.breakers.Allow(node.Type, execErr.Category) {
			decision.Retry = true
			decision.Delay = RetryDelay(m.baseDelay, node.Attempt)
		}
	case StrategyFailFast:
		// terminal, nothing to do
	}

	return execErr, decision
}

// RecordBlocked appends a failure that never reached a handler, such as a
// circuit-open short-circuit, so suppressed errors stay visible to History,
// Stats and exports alongside invoked ones.
func (m *RecoveryManager) RecordBlocked(execErr *ExecutionError) {
	m.history.append(execErr)
}

// OnSuccess reports a successful invocation so half-open circuits for the
// node's type can close.
func (m *RecoveryManager) OnSuccess(nodeType string) {
	m.breakers.CloseForNodeType(nodeType)
}

// AllowExecution reports whether any circuit for the node type blocks the
// invocation. A blocked call returns the offending category.
func (m *RecoveryManager) AllowExecution(nodeType string) (bool, Category) {
	return m.breakers.AllowNode(nodeType)
}

// strategyFor resolves the recovery strategy: per-node override first, then
// the category default table.
func (m *RecoveryManager) strategyFor(execErr *ExecutionError, node FailedNode) Strategy {
	if raw, ok := node.Config["recovery_strategy"].(string); ok {
		switch Strategy(raw) {
		case StrategyRetry, StrategySkip, StrategyFailFast, StrategyFallback, StrategyCircuitBreaker:
			return Strategy(raw)
		}
	}
	if s, ok := defaultStrategies[execErr.Category]; ok {
		return s
	}
	return StrategyRetry
}

// RetryDelay computes the backoff before the next attempt:
// min(base * 2^(attempt-1), 30s). Attempt is 1-based.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	if delay > MaxRetryDelay {
		return MaxRetryDelay
	}
	return delay
}

// HistoryFilter selects error records from the history. Zero fields match
// everything.
type HistoryFilter struct {
	NodeID   string
	Category Category
	Since    time.Time
	Until    time.Time
}

// History returns the recorded errors matching the filter, oldest first.
func (m *RecoveryManager) History(filter HistoryFilter) []*ExecutionError {
	return m.history.query(filter)
}

// Stats returns per-category error counts over the whole retained history.
func (m *RecoveryManager) Stats() map[Category]int {
	return m.history.stats()
}

// ExportNDJSON writes the retained error history to w as one JSON object per
// line, oldest first.
func (m *RecoveryManager) ExportNDJSON(w io.Writer) error {
	return m.history.exportNDJSON(w)
}

// errorHistory is a bounded FIFO of classified errors.
type errorHistory struct {
	mu      sync.Mutex
	records []*ExecutionError
	max     int
}

func newErrorHistory(max int) *errorHistory {
	return &errorHistory{max: max}
}

func (h *errorHistory) append(e *ExecutionError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, e)
	if len(h.records) > h.max {
		h.records = h.records[len(h.records)-h.max:]
	}
}

func (h *errorHistory) query(filter HistoryFilter) []*ExecutionError {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*ExecutionError
	for _, rec := range h.records {
		if filter.NodeID != "" && rec.NodeID != filter.NodeID {
			continue
		}
		if filter.Category != "" && rec.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && rec.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (h *errorHistory) stats() map[Category]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[Category]int)
	for _, rec := range h.records {
		counts[rec.Category]++
	}
	return counts
}

func (h *errorHistory) exportNDJSON(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	enc := json.NewEncoder(w)
	for _, rec := range h.records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
