// Package portfolio converts qualifying strategy scores into normalized
// capital weights and tracks the allocation history of the strategy pool.
package portfolio

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"neural/internal/evaluate"
	"neural/internal/store"
)

// varianceFloor avoids division by zero for strategies with no recorded
// drawdown.
const varianceFloor = 1e-8

// Allocation is the capital assignment for one strategy. It is replaced
// wholesale on every Update.
type Allocation struct {
	StrategyID        string
	Weight            float64
	MaxAllocation     float64
	CurrentAllocation float64
	Metrics           map[string]float64
	LastUpdate        time.Time
}

// Snapshot captures the full portfolio state at one instant. Snapshots are
// appended on every mutation and never modified.
type Snapshot struct {
	Timestamp        time.Time
	TotalCapital     float64
	AllocatedCapital float64
	StrategyCount    int
	Allocations      map[string]Allocation
}

// Metrics aggregates weight-weighted performance across all current
// allocations.
type Metrics struct {
	SharpeRatio       float64
	MaxDrawdown       float64
	WinRate           float64
	ProfitFactor      float64
	StrategyCount     int
	TotalAllocation   float64
	MaxStrategyWeight float64
}

// Ranked pairs a strategy id with its portfolio weight.
type Ranked struct {
	StrategyID string
	Weight     float64
}

// Portfolio allocates capital across qualifying strategies using an
// equal-risk-contribution approximation. The optional SnapshotStore
// receives a write-through copy of every snapshot for audit.
type Portfolio struct {
	snapshots store.SnapshotStore // may be nil
	log       *slog.Logger
	now       func() time.Time

	minScore  float64
	maxWeight float64

	mu             sync.Mutex
	initialCapital float64
	currentCapital float64
	allocations    map[string]*Allocation
	history        []Snapshot
}

// Config holds portfolio limits. Zero fields fall back to the defaults:
// 1,000,000 initial capital, 0.4 minimum score, 0.25 weight ceiling.
type Config struct {
	InitialCapital float64
	MinScore       float64
	MaxWeight      float64
}

// New creates an empty Portfolio. snapshots may be nil to disable
// persistence.
func New(cfg Config, snapshots store.SnapshotStore, log *slog.Logger) *Portfolio {
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = 1000000
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.4
	}
	if cfg.MaxWeight == 0 {
		cfg.MaxWeight = 0.25
	}
	return &Portfolio{
		snapshots:      snapshots,
		log:            log,
		now:            time.Now,
		minScore:       cfg.MinScore,
		maxWeight:      cfg.MaxWeight,
		initialCapital: cfg.InitialCapital,
		currentCapital: cfg.InitialCapital,
		allocations:    make(map[string]*Allocation),
	}
}

// Update replaces the allocation set from the given scores. Scores below the
// minimum threshold are dropped; if nothing qualifies the call is a strict
// no-op and existing allocations are preserved. Strategies that leave the
// set return their capital to the uncommitted pool (closing their positions
// is delegated to the execution layer).
func (p *Portfolio) Update(scores []*evaluate.Score) {
	valid := make([]*evaluate.Score, 0, len(scores))
	for _, s := range scores {
		if s != nil && s.Overall >= p.minScore {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return
	}

	weights := riskWeights(valid)

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	next := make(map[string]*Allocation, len(valid))
	for _, s := range valid {
		w := weights[s.StrategyID]
		next[s.StrategyID] = &Allocation{
			StrategyID:        s.StrategyID,
			Weight:            w,
			MaxAllocation:     math.Min(p.maxWeight, w*1.5),
			CurrentAllocation: p.currentCapital * w,
			Metrics:           copyMetrics(s.Metrics),
			LastUpdate:        now,
		}
	}

	for id, alloc := range p.allocations {
		if _, kept := next[id]; !kept {
			p.handleRemovalLocked(id, alloc)
		}
	}

	p.allocations = next
	p.recordSnapshotLocked()
}

// riskWeights computes equal-risk-contribution weights: each strategy's
// variance proxy is its squared max drawdown (floored), and weights are
// proportional to inverse volatility, normalized to sum to 1. A flat 0.2
// pairwise correlation is assumed between all strategies, which leaves the
// diagonal and therefore the weights unchanged.
func riskWeights(scores []*evaluate.Score) map[string]float64 {
	raw := make([]float64, len(scores))
	var total float64
	for i, s := range scores {
		dd := s.Metrics[evaluate.MetricMaxDrawdown]
		variance := dd * dd
		if variance < varianceFloor {
			variance = varianceFloor
		}
		raw[i] = 1 / math.Sqrt(variance)
		total += raw[i]
	}

	weights := make(map[string]float64, len(scores))
	for i, s := range scores {
		weights[s.StrategyID] = raw[i] / total
	}
	return weights
}

// handleRemovalLocked returns a removed strategy's capital to the
// uncommitted pool. Must be called with mu held.
func (p *Portfolio) handleRemovalLocked(id string, alloc *Allocation) {
	p.currentCapital += alloc.CurrentAllocation
	p.log.Info("strategy removed from portfolio",
		"strategy", id, "returnedCapital", alloc.CurrentAllocation)
}

// Adjust sets a single strategy's weight, clamped to the ceiling, and
// rescales every other weight so the total remains 1. Unknown ids are a
// no-op.
func (p *Portfolio) Adjust(strategyID string, newWeight float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	target, ok := p.allocations[strategyID]
	if !ok {
		return
	}

	newWeight = math.Min(newWeight, p.maxWeight)

	var otherTotal float64
	for id, alloc := range p.allocations {
		if id != strategyID {
			otherTotal += alloc.Weight
		}
	}
	if otherTotal > 0 {
		scale := (1 - newWeight) / otherTotal
		for id, alloc := range p.allocations {
			if id != strategyID {
				alloc.Weight *= scale
				alloc.CurrentAllocation = p.currentCapital * alloc.Weight
			}
		}
	}

	target.Weight = newWeight
	target.CurrentAllocation = p.currentCapital * newWeight
	p.log.Info("allocation adjusted", "strategy", strategyID, "weight", newWeight)
	p.recordSnapshotLocked()
}

// AllocationFor returns a copy of the current allocation for a strategy id.
func (p *Portfolio) AllocationFor(strategyID string) (Allocation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	alloc, ok := p.allocations[strategyID]
	if !ok {
		return Allocation{}, false
	}
	return cloneAllocation(alloc), true
}

// Allocations returns a copy of the full allocation map.
func (p *Portfolio) Allocations() map[string]Allocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cloneAllocationsLocked()
}

// PortfolioMetrics returns the weight-weighted performance of the current
// allocation set. An empty portfolio yields zero metrics.
func (p *Portfolio) PortfolioMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{StrategyCount: len(p.allocations)}
	for _, alloc := range p.allocations {
		m.SharpeRatio += alloc.Metrics[evaluate.MetricSharpe] * alloc.Weight
		m.MaxDrawdown += alloc.Metrics[evaluate.MetricMaxDrawdown] * alloc.Weight
		m.WinRate += alloc.Metrics[evaluate.MetricWinRate] * alloc.Weight
		m.ProfitFactor += alloc.Metrics[evaluate.MetricProfitFactor] * alloc.Weight
		m.TotalAllocation += alloc.CurrentAllocation
		if alloc.Weight > m.MaxStrategyWeight {
			m.MaxStrategyWeight = alloc.Weight
		}
	}
	return m
}

// Ranking returns (id, weight) pairs sorted descending by weight, ties
// broken by strategy id.
func (p *Portfolio) Ranking() []Ranked {
	p.mu.Lock()
	defer p.mu.Unlock()

	ranked := make([]Ranked, 0, len(p.allocations))
	for id, alloc := range p.allocations {
		ranked = append(ranked, Ranked{StrategyID: id, Weight: alloc.Weight})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Weight != ranked[j].Weight {
			return ranked[i].Weight > ranked[j].Weight
		}
		return ranked[i].StrategyID < ranked[j].StrategyID
	})
	return ranked
}

// History returns a copy of the snapshot history, oldest first.
func (p *Portfolio) History() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, len(p.history))
	copy(out, p.history)
	return out
}

// CurrentCapital returns the total capital including the uncommitted pool.
func (p *Portfolio) CurrentCapital() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentCapital
}

// recordSnapshotLocked appends a snapshot of the current state and writes it
// through to the snapshot store. Must be called with mu held.
func (p *Portfolio) recordSnapshotLocked() {
	var allocated float64
	for _, alloc := range p.allocations {
		allocated += alloc.CurrentAllocation
	}

	snap := Snapshot{
		Timestamp:        p.now(),
		TotalCapital:     p.currentCapital,
		AllocatedCapital: allocated,
		StrategyCount:    len(p.allocations),
		Allocations:      p.cloneAllocationsLocked(),
	}
	p.history = append(p.history, snap)

	if p.snapshots == nil {
		return
	}
	allocationsJSON, err := json.Marshal(snap.Allocations)
	if err != nil {
		p.log.Warn("marshalling portfolio snapshot", "error", err)
		return
	}
	rec := &store.SnapshotRecord{
		Timestamp:        snap.Timestamp,
		TotalCapital:     snap.TotalCapital,
		AllocatedCapital: snap.AllocatedCapital,
		StrategyCount:    snap.StrategyCount,
		AllocationsJSON:  string(allocationsJSON),
	}
	if err := p.snapshots.SaveSnapshot(context.Background(), rec); err != nil {
		p.log.Warn("persisting portfolio snapshot", "error", err)
	}
}

func (p *Portfolio) cloneAllocationsLocked() map[string]Allocation {
	out := make(map[string]Allocation, len(p.allocations))
	for id, alloc := range p.allocations {
		out[id] = cloneAllocation(alloc)
	}
	return out
}

func cloneAllocation(alloc *Allocation) Allocation {
	c := *alloc
	c.Metrics = copyMetrics(alloc.Metrics)
	return c
}

func copyMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
