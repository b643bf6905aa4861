package dispatch

import (
	"slices"
	"sync"
	"time"
)

// FairnessCounter is the rolling count of recent notifications per
// contractor. It is shared by concurrent rounds and reset periodically.
type FairnessCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewFairnessCounter returns an empty counter.
func NewFairnessCounter() *FairnessCounter {
	return &FairnessCounter{counts: make(map[string]int)}
}

// Increment adds one for each id.
func (f *FairnessCounter) Increment(ids ...string) {
	f.mu.Lock()
	for _, id := range ids {
		f.counts[id]++
	}
	f.mu.Unlock()
}

// Count returns the current count for id.
func (f *FairnessCounter) Count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[id]
}

// Snapshot returns a copy of all counts.
func (f *FairnessCounter) Snapshot() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out
}

// Len is the number of contractors tracked.
func (f *FairnessCounter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.counts)
}

// Reset clears all counts and returns how many entries were dropped.
func (f *FairnessCounter) Reset() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.counts)
	f.counts = make(map[string]int)
	return n
}

// ActiveDistribution is an open round known to this process.
type ActiveDistribution struct {
	LeadID        string    `json:"lead_id"`
	ContractorIDs []string  `json:"contractor_ids"`
	Round         int       `json:"round"`
	StartedAt     time.Time `json:"started_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ActiveRegistry tracks leads currently in distribution.
type ActiveRegistry struct {
	mu     sync.RWMutex
	active map[string]ActiveDistribution
}

// NewActiveRegistry returns an empty registry.
func NewActiveRegistry() *ActiveRegistry {
	return &ActiveRegistry{active: make(map[string]ActiveDistribution)}
}

// Put records a round. Contractors of earlier rounds of the same lead are kept.
func (r *ActiveRegistry) Put(d ActiveDistribution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.active[d.LeadID]; ok {
		ids := slices.Clone(prev.ContractorIDs)
		for _, id := range d.ContractorIDs {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		d.ContractorIDs = ids
	} else {
		d.ContractorIDs = slices.Clone(d.ContractorIDs)
	}
	r.active[d.LeadID] = d
}

// Get returns the active round for leadID.
func (r *ActiveRegistry) Get(leadID string) (ActiveDistribution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.active[leadID]
	return d, ok
}

// Remove forgets leadID.
func (r *ActiveRegistry) Remove(leadID string) {
	r.mu.Lock()
	delete(r.active, leadID)
	r.mu.Unlock()
}

// Len is the number of active leads.
func (r *ActiveRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
