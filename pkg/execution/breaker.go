package execution

import (
	"sync"
	"time"
)

// BreakerState is the lifecycle state of one circuit.
type BreakerState string

// Circuit breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker defaults.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 60 * time.Second
)

type breakerKey struct {
	nodeType string
	category Category
}

type breakerEntry struct {
	consecutiveFailures int
	state               BreakerState
	openUntil           time.Time
	// halfOpenProbe marks that the single allowed probe is in flight.
	halfOpenProbe bool
}

// BreakerSnapshot is the externally visible state of one circuit.
type BreakerSnapshot struct {
	NodeType            string       `json:"node_type"`
	Category            Category     `json:"category"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	State               BreakerState `json:"state"`
	OpenUntil           time.Time    `json:"open_until,omitempty"`
}

// BreakerMap holds one circuit per (nodeType, category) key. Circuits are
// created lazily on first failure and live for the life of the owning engine.
// All operations serialize on one mutex; contention is per-engine, not global.
type BreakerMap struct {
	mu        sync.Mutex
	entries   map[breakerKey]*breakerEntry
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreakerMap creates a breaker map with the default threshold and cooldown.
func NewBreakerMap() *BreakerMap {
	return NewBreakerMapWithConfig(DefaultBreakerThreshold, DefaultBreakerCooldown)
}

// NewBreakerMapWithConfig creates a breaker map with a custom failure
// threshold and open-state cooldown.
func NewBreakerMapWithConfig(threshold int, cooldown time.Duration) *BreakerMap {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &BreakerMap{
		entries:   make(map[breakerKey]*breakerEntry),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether an invocation for the key may proceed. While open and
// inside the cooldown it returns false. Once the cooldown has elapsed the
// circuit moves to half-open and exactly one probe is admitted; concurrent
// callers are rejected until that probe reports back.
func (b *BreakerMap) Allow(nodeType string, category Category) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[breakerKey{nodeType, category}]
	if !ok {
		return true
	}

	switch entry.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Before(entry.openUntil) {
			return false
		}
		entry.state = BreakerHalfOpen
		entry.halfOpenProbe = true
		return true
	case BreakerHalfOpen:
		if entry.halfOpenProbe {
			return false
		}
		entry.halfOpenProbe = true
		return true
	}
	return false
}

// AllowNode applies the Allow logic across every circuit tracked for the node
// type, since the failure category is unknown before the node runs. The
// verdict is decided before any circuit is touched: a rejected invocation
// consumes no probe slot. The first circuit that rejects names its category.
func (b *BreakerMap) AllowNode(nodeType string) (bool, Category) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, entry := range b.entries {
		if key.nodeType != nodeType {
			continue
		}
		switch entry.state {
		case BreakerOpen:
			if b.now().Before(entry.openUntil) {
				return false, key.category
			}
		case BreakerHalfOpen:
			if entry.halfOpenProbe {
				return false, key.category
			}
		}
	}

	// Every circuit admits the call; the open ones past their cooldown move
	// to half-open and this invocation becomes their probe.
	for key, entry := range b.entries {
		if key.nodeType != nodeType {
			continue
		}
		switch entry.state {
		case BreakerOpen:
			entry.state = BreakerHalfOpen
			entry.halfOpenProbe = true
		case BreakerHalfOpen:
			entry.halfOpenProbe = true
		}
	}
	return true, ""
}

// ProbeFailed reopens every circuit for the node type whose half-open probe
// is in flight. A failed probe reopens its circuit no matter how the failure
// is classified, so a cross-category error can never strand the probe slot.
func (b *BreakerMap) ProbeFailed(nodeType string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, entry := range b.entries {
		if key.nodeType != nodeType {
			continue
		}
		if entry.state == BreakerHalfOpen && entry.halfOpenProbe {
			entry.state = BreakerOpen
			entry.openUntil = b.now().Add(b.cooldown)
			entry.halfOpenProbe = false
		}
	}
}

// CloseForNodeType closes every circuit tracked for the node type. Called on
// a successful invocation so half-open probes settle.
func (b *BreakerMap) CloseForNodeType(nodeType string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, entry := range b.entries {
		if key.nodeType != nodeType {
			continue
		}
		entry.consecutiveFailures = 0
		entry.state = BreakerClosed
		entry.halfOpenProbe = false
		entry.openUntil = time.Time{}
	}
}

// RecordFailure counts a failure for the key, creating the circuit lazily.
// Reaching the threshold, or failing the half-open probe, opens the circuit
// and starts a new cooldown.
func (b *BreakerMap) RecordFailure(nodeType string, category Category) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := breakerKey{nodeType, category}
	entry, ok := b.entries[key]
	if !ok {
		entry = &breakerEntry{state: BreakerClosed}
		b.entries[key] = entry
	}

	entry.consecutiveFailures++
	if entry.state == BreakerHalfOpen || entry.consecutiveFailures >= b.threshold {
		entry.state = BreakerOpen
		entry.openUntil = b.now().Add(b.cooldown)
		entry.halfOpenProbe = false
	}
}

// RecordSuccess closes the circuit for the key and resets its counter.
func (b *BreakerMap) RecordSuccess(nodeType string, category Category) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[breakerKey{nodeType, category}]
	if !ok {
		return
	}
	entry.consecutiveFailures = 0
	entry.state = BreakerClosed
	entry.halfOpenProbe = false
	entry.openUntil = time.Time{}
}

// Reset removes the circuit for the key entirely.
func (b *BreakerMap) Reset(nodeType string, category Category) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, breakerKey{nodeType, category})
}

// State returns the current snapshot for the key. An untracked key reads as a
// closed circuit with zero failures.
func (b *BreakerMap) State(nodeType string, category Category) BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := BreakerSnapshot{NodeType: nodeType, Category: category, State: BreakerClosed}
	if entry, ok := b.entries[breakerKey{nodeType, category}]; ok {
		snapshot.ConsecutiveFailures = entry.consecutiveFailures
		snapshot.State = entry.state
		snapshot.OpenUntil = entry.openUntil
	}
	return snapshot
}
