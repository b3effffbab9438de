package backtest

import (
	"math"
	"testing"

	"neural/internal/domain"
)

func TestZeroTradeMetricDefaults(t *testing.T) {
	if got := SharpeRatio(nil, 0.02); got != 0 {
		t.Errorf("SharpeRatio = %v, want 0", got)
	}
	if got := MaxDrawdown(nil); got != 0 {
		t.Errorf("MaxDrawdown = %v, want 0", got)
	}
	if got := WinRate(nil); got != 0 {
		t.Errorf("WinRate = %v, want 0", got)
	}
	if got := ProfitFactor(nil); got != 0 {
		t.Errorf("ProfitFactor = %v, want 0", got)
	}
	if got := RiskAdjustedReturn(nil); got != 0 {
		t.Errorf("RiskAdjustedReturn = %v, want 0", got)
	}
}

func TestSharpeRatioKnownSeries(t *testing.T) {
	// mean 0.02, sample stddev 0.01, no risk-free adjustment.
	got := SharpeRatio([]float64{0.01, 0.02, 0.03}, 0)
	want := 0.02 / 0.01 * math.Sqrt(252)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("SharpeRatio = %v, want %v", got, want)
	}
}

func TestSharpeRatioZeroVariance(t *testing.T) {
	if got := SharpeRatio([]float64{0.01, 0.01, 0.01}, 0); got != 0 {
		t.Errorf("SharpeRatio = %v, want 0 for zero variance", got)
	}
}

func TestSharpeRatioSingleReturn(t *testing.T) {
	if got := SharpeRatio([]float64{0.05}, 0.02); got != 0 {
		t.Errorf("SharpeRatio = %v, want 0 for fewer than two returns", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	// Equity: 1.1, 0.88, 0.924. Trough is 20% below the 1.1 peak.
	got := MaxDrawdown([]float64{0.1, -0.2, 0.05})
	if math.Abs(got-0.2) > 1e-9 {
		t.Errorf("MaxDrawdown = %v, want 0.2", got)
	}
}

func TestMaxDrawdownMonotonicGains(t *testing.T) {
	if got := MaxDrawdown([]float64{0.01, 0.02, 0.03}); got != 0 {
		t.Errorf("MaxDrawdown = %v, want 0 when equity only rises", got)
	}
}

func TestWinRate(t *testing.T) {
	trades := []domain.Trade{{PnL: 5}, {PnL: -3}, {PnL: 2}}
	got := WinRate(trades)
	if math.Abs(got-2.0/3) > 1e-9 {
		t.Errorf("WinRate = %v, want 2/3", got)
	}
}

func TestProfitFactor(t *testing.T) {
	trades := []domain.Trade{{PnL: 20}, {PnL: 10}, {PnL: -10}}
	if got := ProfitFactor(trades); math.Abs(got-3) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want 3", got)
	}
}

func TestProfitFactorUnboundedWithoutLosses(t *testing.T) {
	trades := []domain.Trade{{PnL: 20}, {PnL: 10}}
	if got := ProfitFactor(trades); !math.IsInf(got, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf when there are no losses", got)
	}
}

func TestCapProfitFactor(t *testing.T) {
	if got := CapProfitFactor(math.Inf(1)); got != 3.0 {
		t.Errorf("CapProfitFactor(+Inf) = %v, want 3.0", got)
	}
	if got := CapProfitFactor(2.5); got != 2.5 {
		t.Errorf("CapProfitFactor(2.5) = %v, want passthrough", got)
	}
}

func TestRiskAdjustedReturnZeroVariance(t *testing.T) {
	got := RiskAdjustedReturn([]float64{0.02, 0.02})
	if math.Abs(got-0.02) > 1e-9 {
		t.Errorf("RiskAdjustedReturn = %v, want the undivided mean", got)
	}
}
