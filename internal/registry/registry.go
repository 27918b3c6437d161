// Package registry tracks which instruments the application currently wants
// from the upstream feed, by reference count. It issues subscribe/unsubscribe
// commands only on 0->1 and 1->0 transitions; the feed adapter translates
// those into vendor wire messages. The registry itself performs no I/O.
package registry

import (
	"sort"
	"sync"

	"niftyPulse/internal/domain"
)

// Registry maintains per-instrument reference counts. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{counts: make(map[string]int)}
}

// AddInterest increments the instrument's reference count. It returns a
// SubscribeCommand only when the count transitions from zero to one;
// otherwise nil.
func (r *Registry) AddInterest(instrumentID string) *domain.SubscribeCommand {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[instrumentID]++
	if r.counts[instrumentID] == 1 {
		return &domain.SubscribeCommand{InstrumentID: instrumentID}
	}
	return nil
}

// RemoveInterest decrements the instrument's reference count. It returns an
// UnsubscribeCommand only when the count transitions from one to zero.
// Removing interest that was never added is a no-op: the count never goes
// negative.
func (r *Registry) RemoveInterest(instrumentID string) *domain.UnsubscribeCommand {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, ok := r.counts[instrumentID]
	if !ok || count == 0 {
		return nil
	}
	if count == 1 {
		delete(r.counts, instrumentID)
		return &domain.UnsubscribeCommand{InstrumentID: instrumentID}
	}
	r.counts[instrumentID] = count - 1
	return nil
}

// Count returns the current reference count for an instrument.
func (r *Registry) Count(instrumentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[instrumentID]
}

// ActiveInstruments returns every instrument with a nonzero reference count,
// sorted for deterministic subscription batches.
func (r *Registry) ActiveInstruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
