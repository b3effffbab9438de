package builtins

import (
	"fmt"
	"math"
	"sync"

	"neural/internal/domain"
	"neural/internal/evaluate"
	"neural/internal/strategy"
)

// Lookback bounds for parameter adaptation.
const (
	minLookback = 5
	maxLookback = 60
)

// Compile-time interface checks.
var _ strategy.Strategy = (*Momentum)(nil)
var _ strategy.ConfidenceProvider = (*Momentum)(nil)

// Momentum is a rate-of-change strategy: long when the lookback return
// exceeds the threshold, short when it falls below the negative threshold,
// flat in between. It reports confidence from the strength of the latest
// signal and adapts its lookback from recent evaluation scores.
type Momentum struct {
	id        string
	threshold float64

	mu       sync.Mutex
	lookback int
	lastROC  float64
}

// NewMomentum creates a Momentum strategy. lookback must be within
// [5, 60] and threshold must be positive.
func NewMomentum(id string, lookback int, threshold float64) (*Momentum, error) {
	if lookback < minLookback || lookback > maxLookback {
		return nil, fmt.Errorf("momentum %s: lookback %d out of range [%d, %d]", id, lookback, minLookback, maxLookback)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("momentum %s: threshold must be positive, got %v", id, threshold)
	}
	return &Momentum{
		id:        id,
		lookback:  lookback,
		threshold: threshold,
	}, nil
}

// ID returns the strategy instance identifier.
func (m *Momentum) ID() string { return m.id }

// GenerateSignal computes the rate of change over the lookback window.
func (m *Momentum) GenerateSignal(history []domain.Bar) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(history) <= m.lookback {
		return 0
	}
	base := history[len(history)-1-m.lookback].Close
	if base == 0 {
		return 0
	}
	roc := history[len(history)-1].Close/base - 1
	m.lastROC = roc

	switch {
	case roc > m.threshold:
		return 1
	case roc < -m.threshold:
		return -1
	default:
		return 0
	}
}

// Confidence scales the latest rate of change against the threshold,
// saturating at 1.
func (m *Momentum) Confidence() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Min(1, math.Abs(m.lastROC)/(3*m.threshold))
}

// OptimizeParameters tunes the lookback from recent evaluation scores:
// weak scores lengthen the window to smooth out noise, strong scores
// shorten it to react faster.
func (m *Momentum) OptimizeParameters(recent []*evaluate.Score) {
	if len(recent) == 0 {
		return
	}
	var sum float64
	for _, s := range recent {
		sum += s.Overall
	}
	avg := sum / float64(len(recent))

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case avg < 0.4 && m.lookback+2 <= maxLookback:
		m.lookback += 2
	case avg > 0.6 && m.lookback-1 >= minLookback:
		m.lookback--
	}
}

// Lookback returns the current lookback window.
func (m *Momentum) Lookback() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookback
}
