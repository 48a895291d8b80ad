package execution

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyByMessage(t *testing.T) {
	tests := []struct {
		message  string
		category Category
	}{
		{"dial tcp: connection refused", CategoryNetwork},
		{"request timed out after 30s", CategoryTimeout},
		{"cannot allocate memory", CategoryResource},
		{"missing required field source_type", CategoryConfiguration},
		{"invalid row shape", CategoryValidation},
		{"upstream service returned 502", CategoryExternalService},
		{"runtime error: nil pointer dereference", CategorySystem},
		{"order rejected by policy", CategoryBusinessLogic},
		{"something odd happened", CategoryUnknown},
	}

	m := NewRecoveryManager(time.Millisecond)
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			execErr := m.Classify(errors.New(tt.message), FailedNode{ID: "n", Type: "work", Attempt: 1, MaxTries: 3})
			assert.Equal(t, tt.category, execErr.Category)
		})
	}
}

func TestClassifyDeadlineExceededIsTimeout(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)

	execErr := m.Classify(context.DeadlineExceeded, FailedNode{ID: "n", Type: "work", Attempt: 1, MaxTries: 1})

	assert.Equal(t, CategoryTimeout, execErr.Category)
	assert.True(t, execErr.Recoverable)
}

func TestClassifySeveritiesAndRecoverability(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)

	system := m.Classify(errors.New("panic: boom"), FailedNode{ID: "n", Type: "work"})
	assert.Equal(t, SeverityCritical, system.Severity)
	assert.False(t, system.Recoverable)

	network := m.Classify(errors.New("connection reset"), FailedNode{ID: "n", Type: "work"})
	assert.Equal(t, SeverityHigh, network.Severity)
	assert.True(t, network.Recoverable)

	validation := m.Classify(errors.New("invalid input"), FailedNode{ID: "n", Type: "work"})
	assert.Equal(t, SeverityLow, validation.Severity)
	assert.False(t, validation.Recoverable)
}

func TestClassifyKeepsExistingCategory(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)
	original := &ExecutionError{Category: CategoryBusinessLogic, Message: "rule violation"}

	execErr := m.Classify(original, FailedNode{ID: "n", Type: "work", Attempt: 2, MaxTries: 3})

	assert.Equal(t, CategoryBusinessLogic, execErr.Category)
	assert.Equal(t, 2, execErr.AttemptNumber)
	assert.ErrorIs(t, execErr, original)
}

func TestRecoverDefaultStrategyTable(t *testing.T) {
	tests := []struct {
		message  string
		strategy Strategy
	}{
		{"connection refused", StrategyRetry},
		{"timed out", StrategyRetry},
		{"upstream service returned 503", StrategyCircuitBreaker},
		{"invalid payload", StrategyFailFast},
		{"missing required config", StrategyFailFast},
		{"panic: oops", StrategyFailFast},
		{"out of memory", StrategyFailFast},
		{"order rejected", StrategyRetry},
		{"weird", StrategyRetry},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			m := NewRecoveryManager(time.Millisecond)
			execErr, _ := m.Recover(errors.New(tt.message), FailedNode{ID: "n", Type: "work", Attempt: 1, MaxTries: 3})
			assert.Equal(t, tt.strategy, execErr.RecoveryStrategy)
		})
	}
}

func TestRecoverPerNodeStrategyOverride(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)
	node := FailedNode{
		ID: "n", Type: "work", Attempt: 1, MaxTries: 3,
		Config: map[string]interface{}{"recovery_strategy": "skip"},
	}

	execErr, decision := m.Recover(errors.New("connection refused"), node)

	assert.Equal(t, StrategySkip, execErr.RecoveryStrategy)
	assert.True(t, decision.Skip)
	assert.False(t, decision.Retry)
}

func TestRecoverRetryRespectsAttemptBudget(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)

	_, first := m.Recover(errors.New("connection refused"), FailedNode{ID: "n", Type: "work", Attempt: 1, MaxTries: 3})
	assert.True(t, first.Retry)

	_, last := m.Recover(errors.New("connection refused"), FailedNode{ID: "n", Type: "work", Attempt: 3, MaxTries: 3})
	assert.False(t, last.Retry)
}

func TestRecoverFallbackRequiresDeclaredConfig(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)

	_, without := m.Recover(errors.New("oops"), FailedNode{
		ID: "n", Type: "work", Attempt: 1, MaxTries: 1,
		Config: map[string]interface{}{"recovery_strategy": "fallback"},
	})
	assert.Nil(t, without.FallbackOutputs)

	_, with := m.Recover(errors.New("oops"), FailedNode{
		ID: "n", Type: "work", Attempt: 1, MaxTries: 1,
		Config: map[string]interface{}{
			"recovery_strategy": "fallback",
			"fallback":          map[string]interface{}{"rows": []interface{}{}},
		},
	})
	assert.NotNil(t, with.FallbackOutputs)
}

func TestRecoverProbeFailureAcrossCategories(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)
	b := m.Breakers()
	b.threshold = 1
	b.cooldown = time.Minute

	clock := time.Now()
	b.now = func() time.Time { return clock }

	node := FailedNode{ID: "n1", Type: "svc", Attempt: 3, MaxTries: 3}

	// An external service failure opens the circuit.
	m.Recover(errors.New("upstream service returned 503"), node)
	allowed, _ := m.AllowExecution("svc")
	assert.False(t, allowed)

	// Cooldown elapses; the next invocation is admitted as the probe.
	clock = clock.Add(2 * time.Minute)
	allowed, _ = m.AllowExecution("svc")
	require.True(t, allowed)

	// The probe fails with a timeout, classified under a different category
	// with a retry strategy. The circuit must reopen anyway instead of
	// holding the probe slot forever.
	m.Recover(errors.New("operation timed out"), node)
	allowed, _ = m.AllowExecution("svc")
	assert.False(t, allowed)

	// A later cooldown admits a fresh probe: no permanent lockout.
	clock = clock.Add(2 * time.Minute)
	allowed, _ = m.AllowExecution("svc")
	assert.True(t, allowed)
}

func TestRecordBlockedFeedsHistoryAndStats(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)

	m.RecordBlocked(&ExecutionError{
		NodeID:    "n1",
		NodeType:  "svc",
		Category:  CategoryExternalService,
		Severity:  SeverityHigh,
		Message:   "circuit open for node type svc",
		Timestamp: time.Now(),
	})

	records := m.History(HistoryFilter{NodeID: "n1"})
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Message, "circuit open")
	assert.Equal(t, 1, m.Stats()[CategoryExternalService])
}

func TestRetryDelaysAreNonDecreasingAndCapped(t *testing.T) {
	base := time.Second
	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		delay := RetryDelay(base, attempt)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, MaxRetryDelay, "attempt %d", attempt)
		prev = delay
	}

	assert.Equal(t, time.Second, RetryDelay(base, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(base, 2))
	assert.Equal(t, 4*time.Second, RetryDelay(base, 3))
	assert.Equal(t, MaxRetryDelay, RetryDelay(base, 7))
}

func TestHistoryQueryFilters(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)

	m.Recover(errors.New("connection refused"), FailedNode{ID: "a", Type: "work", Attempt: 1, MaxTries: 1})
	m.Recover(errors.New("invalid payload"), FailedNode{ID: "b", Type: "work", Attempt: 1, MaxTries: 1})
	m.Recover(errors.New("connection refused"), FailedNode{ID: "b", Type: "work", Attempt: 1, MaxTries: 1})

	assert.Len(t, m.History(HistoryFilter{}), 3)
	assert.Len(t, m.History(HistoryFilter{NodeID: "b"}), 2)
	assert.Len(t, m.History(HistoryFilter{Category: CategoryNetwork}), 2)
	assert.Len(t, m.History(HistoryFilter{NodeID: "b", Category: CategoryValidation}), 1)
	assert.Empty(t, m.History(HistoryFilter{Since: time.Now().Add(time.Hour)}))

	stats := m.Stats()
	assert.Equal(t, 2, stats[CategoryNetwork])
	assert.Equal(t, 1, stats[CategoryValidation])
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)
	m.history = newErrorHistory(10)

	for i := 0; i < 25; i++ {
		m.Recover(fmt.Errorf("connection refused #%d", i), FailedNode{ID: "n", Type: "work", Attempt: 1, MaxTries: 1})
	}

	records := m.History(HistoryFilter{})
	require.Len(t, records, 10)
	assert.Contains(t, records[0].Message, "#15")
	assert.Contains(t, records[9].Message, "#24")
}

func TestExportNDJSON(t *testing.T) {
	m := NewRecoveryManager(time.Millisecond)
	m.Recover(errors.New("connection refused"), FailedNode{ID: "a", Type: "work", Attempt: 1, MaxTries: 1})
	m.Recover(errors.New("invalid payload"), FailedNode{ID: "b", Type: "work", Attempt: 1, MaxTries: 1})

	var buf bytes.Buffer
	require.NoError(t, m.ExportNDJSON(&buf))

	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		lines++
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		assert.NotEmpty(t, record["node_id"])
		assert.NotEmpty(t, record["category"])
	}
	assert.Equal(t, 2, lines)
}
