package optimizer

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/flowforge/flowforge/pkg/graph"
)

// Plan cache defaults.
const (
	DefaultCacheMaxEntries = 1000
	DefaultCacheTTL        = 3600 * time.Second
)

type cacheEntry struct {
	plan       *ExecutionPlan
	timestamp  time.Time
	lastAccess time.Time
}

// CacheStats tracks plan cache performance counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// PlanCache memoizes optimization plans keyed by a normalized graph
// fingerprint. Entries expire after the TTL (checked on Get) and the least
// recently used entry is evicted when Put hits capacity.
//
// The cache is shared across concurrently optimizing graphs; all operations
// are safe for concurrent use.
type PlanCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	ttl        time.Duration
	stats      CacheStats
}

// NewPlanCache creates a plan cache with the default capacity and TTL.
func NewPlanCache() *PlanCache {
	return NewPlanCacheWithConfig(DefaultCacheMaxEntries, DefaultCacheTTL)
}

// NewPlanCacheWithConfig creates a plan cache with custom capacity and TTL.
func NewPlanCacheWithConfig(maxEntries int, ttl time.Duration) *PlanCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &PlanCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Key fingerprints a graph: normalize (strip runtime fields, sort nodes and
// edges), serialize deterministically, hash. Two graphs that differ only in
// declaration order produce the same key.
func (c *PlanCache) Key(g *graph.Graph) (string, error) {
	norm := g.Normalized()
	// The workflow ID is identity, not structure; two structurally identical
	// graphs should share a plan.
	norm.ID = ""
	raw, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("failed to serialize graph for fingerprint: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum), nil
}

// Get returns the cached plan for the key, or nil on a miss. An entry older
// than the TTL is evicted and reported as a miss.
func (c *PlanCache) Get(key string) *ExecutionPlan {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil
	}
	if time.Since(entry.timestamp) > c.ttl {
		delete(c.entries, key)
		c.stats.Misses++
		c.stats.Evictions++
		return nil
	}

	entry.lastAccess = time.Now()
	c.stats.Hits++
	return entry.plan
}

// Put stores a plan under the key, evicting the least recently used entry
// first when at capacity.
func (c *PlanCache) Put(key string, plan *ExecutionPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	now := time.Now()
	c.entries[key] = &cacheEntry{plan: plan, timestamp: now, lastAccess: now}
}

// Clear drops every cached plan.
func (c *PlanCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Stats returns a snapshot of the cache counters.
func (c *PlanCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Size = len(c.entries)
	return stats
}

// evictLRU removes the entry with the oldest last access. Caller holds the lock.
func (c *PlanCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}
