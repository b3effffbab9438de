// Package strategy defines the Strategy capability consumed by the backtest
// engine and the adaptive learning system, and provides a Registry for
// managing live strategy instances.
package strategy

import (
	"sort"
	"sync"

	"neural/internal/domain"
)

// Strategy is the single required capability: given the bars observed so far
// (oldest first, never including future data), produce a directional signal.
type Strategy interface {
	// ID returns the unique identifier for this strategy instance.
	ID() string

	// GenerateSignal returns 1 (long), -1 (short), or 0 (flat/close) for the
	// given price history prefix.
	GenerateSignal(history []domain.Bar) int
}

// ConfidenceProvider is an optional capability: strategies that can estimate
// the confidence of their latest signal implement it. Strategies without it
// are treated as confidence 1.0.
type ConfidenceProvider interface {
	Confidence() float64
}

// ConfidenceOf returns the strategy's reported confidence, or 1.0 when the
// strategy does not implement ConfidenceProvider.
func ConfidenceOf(s Strategy) float64 {
	if cp, ok := s.(ConfidenceProvider); ok {
		return cp.Confidence()
	}
	return 1.0
}

// Params holds named numeric construction parameters for a strategy.
type Params map[string]float64

// Constructor builds a strategy instance with the given id and parameters.
// Invalid parameters are a configuration error and must be returned, not
// defaulted away.
type Constructor func(id string, params Params) (Strategy, error)

// Registry holds the live strategy instances keyed by id. The adaptive
// learning system is the only writer; reads may come from any goroutine.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its ID().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID()] = s
}

// Get retrieves a strategy by id. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(id string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	return s, ok
}

// Remove deletes a strategy from the registry. It reports whether the
// strategy was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.strategies[id]
	delete(r.strategies, id)
	return ok
}

// List returns a sorted slice of all registered strategy ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}
