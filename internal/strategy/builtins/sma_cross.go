// Package builtins provides built-in strategy implementations that ship with
// the neural engine.
package builtins

import (
	"fmt"

	"neural/internal/domain"
	"neural/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross is a simple moving average crossover strategy. It signals long
// while the short-period SMA is above the long-period SMA by more than the
// neutral band, short while below by more than the band, and flat inside
// the band.
type SMACross struct {
	id          string
	shortPeriod int
	longPeriod  int
	band        float64
}

// NewSMACross creates an SMACross strategy. short must be positive and
// strictly less than long.
func NewSMACross(id string, short, long int, band float64) (*SMACross, error) {
	if short <= 0 || long <= 0 {
		return nil, fmt.Errorf("sma-cross %s: periods must be positive (short=%d long=%d)", id, short, long)
	}
	if short >= long {
		return nil, fmt.Errorf("sma-cross %s: short period %d must be less than long period %d", id, short, long)
	}
	if band < 0 {
		return nil, fmt.Errorf("sma-cross %s: band must be non-negative, got %v", id, band)
	}
	if band == 0 {
		band = 0.001
	}
	return &SMACross{
		id:          id,
		shortPeriod: short,
		longPeriod:  long,
		band:        band,
	}, nil
}

// ID returns the strategy instance identifier.
func (s *SMACross) ID() string { return s.id }

// GenerateSignal compares the short and long SMAs of the observed closes.
func (s *SMACross) GenerateSignal(history []domain.Bar) int {
	if len(history) < s.longPeriod {
		return 0
	}

	shortSMA := smaOf(history, s.shortPeriod)
	longSMA := smaOf(history, s.longPeriod)
	if longSMA == 0 {
		return 0
	}

	diff := (shortSMA - longSMA) / longSMA
	switch {
	case diff > s.band:
		return 1
	case diff < -s.band:
		return -1
	default:
		return 0
	}
}

// smaOf returns the simple moving average of the last period closes.
func smaOf(bars []domain.Bar, period int) float64 {
	var sum float64
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}
