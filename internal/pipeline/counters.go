package pipeline

import "sync"

// RunCounters accumulates rows inserted per entity across all tenants of a
// run. It is safe for concurrent use.
type RunCounters struct {
	mu      sync.Mutex
	counts  map[string]int64
	tenants int
}

// NewRunCounters returns empty counters.
func NewRunCounters() *RunCounters {
	return &RunCounters{counts: make(map[string]int64)}
}

// Add adds n rows to entity.
func (c *RunCounters) Add(entity string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[entity] += n
}

// TenantDone counts a tenant whose entities all completed.
func (c *RunCounters) TenantDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants++
}

// Get returns the rows inserted for entity, 0 if it never ran.
func (c *RunCounters) Get(entity string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[entity]
}

// Tenants returns the number of completed tenants.
func (c *RunCounters) Tenants() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenants
}

// Snapshot copies the per-entity counts.
func (c *RunCounters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
