package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreakerMapWithConfig(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure("api_call", CategoryExternalService)
		assert.True(t, b.Allow("api_call", CategoryExternalService))
	}

	b.RecordFailure("api_call", CategoryExternalService)

	snapshot := b.State("api_call", CategoryExternalService)
	assert.Equal(t, BreakerOpen, snapshot.State)
	assert.Equal(t, 3, snapshot.ConsecutiveFailures)
	assert.False(t, b.Allow("api_call", CategoryExternalService))
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)

	b.RecordFailure("api_call", CategoryExternalService)

	assert.False(t, b.Allow("api_call", CategoryExternalService))
	assert.True(t, b.Allow("api_call", CategoryNetwork))
	assert.True(t, b.Allow("db_query", CategoryExternalService))
}

func TestBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)
	assert.False(t, b.Allow("api_call", CategoryExternalService))

	// Move the clock past the cooldown.
	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	assert.True(t, b.Allow("api_call", CategoryExternalService))
	assert.Equal(t, BreakerHalfOpen, b.State("api_call", CategoryExternalService).State)
	// The probe is in flight; concurrent callers stay blocked.
	assert.False(t, b.Allow("api_call", CategoryExternalService))
}

func TestBreakerProbeSuccessClosesCircuit(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)
	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	assert.True(t, b.Allow("api_call", CategoryExternalService))
	b.RecordSuccess("api_call", CategoryExternalService)

	snapshot := b.State("api_call", CategoryExternalService)
	assert.Equal(t, BreakerClosed, snapshot.State)
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)
	assert.True(t, b.Allow("api_call", CategoryExternalService))
}

func TestBreakerProbeFailureReopensCircuit(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)

	probeTime := time.Now().Add(2 * time.Minute)
	b.now = func() time.Time { return probeTime }

	assert.True(t, b.Allow("api_call", CategoryExternalService))
	b.RecordFailure("api_call", CategoryExternalService)

	snapshot := b.State("api_call", CategoryExternalService)
	assert.Equal(t, BreakerOpen, snapshot.State)
	assert.True(t, snapshot.OpenUntil.After(probeTime))
	assert.False(t, b.Allow("api_call", CategoryExternalService))
}

func TestBreakerReset(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)

	b.Reset("api_call", CategoryExternalService)

	assert.True(t, b.Allow("api_call", CategoryExternalService))
	assert.Equal(t, BreakerClosed, b.State("api_call", CategoryExternalService).State)
}

func TestBreakerAllowNodeChecksEveryCategory(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)

	allowed, category := b.AllowNode("api_call")
	assert.False(t, allowed)
	assert.Equal(t, CategoryExternalService, category)

	allowed, _ = b.AllowNode("db_query")
	assert.True(t, allowed)
}

func TestBreakerProbeFailedReopensInFlightProbe(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)

	probeTime := time.Now().Add(2 * time.Minute)
	b.now = func() time.Time { return probeTime }

	allowed, _ := b.AllowNode("api_call")
	assert.True(t, allowed)
	assert.Equal(t, BreakerHalfOpen, b.State("api_call", CategoryExternalService).State)

	// The probe fails, but under a category the circuit never tracked. The
	// circuit must reopen anyway instead of waiting on a probe that will
	// never report under its own category.
	b.ProbeFailed("api_call")

	snapshot := b.State("api_call", CategoryExternalService)
	assert.Equal(t, BreakerOpen, snapshot.State)
	assert.True(t, snapshot.OpenUntil.After(probeTime))

	allowed, _ = b.AllowNode("api_call")
	assert.False(t, allowed)

	// After the fresh cooldown the circuit admits a new probe.
	b.now = func() time.Time { return probeTime.Add(2 * time.Minute) }
	allowed, _ = b.AllowNode("api_call")
	assert.True(t, allowed)
}

func TestBreakerProbeFailedIgnoresSettledCircuits(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)

	// No probe in flight: the open circuit keeps its original deadline.
	before := b.State("api_call", CategoryExternalService).OpenUntil
	b.ProbeFailed("api_call")
	assert.Equal(t, before, b.State("api_call", CategoryExternalService).OpenUntil)
}

func TestBreakerAllowNodeRejectionConsumesNoProbe(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)
	b.RecordFailure("api_call", CategoryNetwork)

	// Only the external_service circuit has cooled down; the network one
	// still blocks the node.
	b.entries[breakerKey{"api_call", CategoryExternalService}].openUntil = time.Now().Add(-time.Minute)

	allowed, category := b.AllowNode("api_call")
	assert.False(t, allowed)
	assert.Equal(t, CategoryNetwork, category)

	// The rejected call must not have claimed the cooled-down circuit's
	// probe slot, or the next eligible call would be locked out.
	entry := b.entries[breakerKey{"api_call", CategoryExternalService}]
	assert.Equal(t, BreakerOpen, entry.state)
	assert.False(t, entry.halfOpenProbe)

	// Once the blocking circuit cools down too, the node is admitted and
	// both circuits take this invocation as their probe.
	b.entries[breakerKey{"api_call", CategoryNetwork}].openUntil = time.Now().Add(-time.Minute)
	allowed, _ = b.AllowNode("api_call")
	assert.True(t, allowed)
	assert.True(t, b.entries[breakerKey{"api_call", CategoryExternalService}].halfOpenProbe)
	assert.True(t, b.entries[breakerKey{"api_call", CategoryNetwork}].halfOpenProbe)
}

func TestBreakerCloseForNodeType(t *testing.T) {
	b := NewBreakerMapWithConfig(1, time.Minute)
	b.RecordFailure("api_call", CategoryExternalService)
	b.RecordFailure("api_call", CategoryNetwork)

	b.CloseForNodeType("api_call")

	allowed, _ := b.AllowNode("api_call")
	assert.True(t, allowed)
	assert.Equal(t, BreakerClosed, b.State("api_call", CategoryNetwork).State)
}
