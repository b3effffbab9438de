package backtest

import (
	"math"

	"neural/internal/domain"
)

// tradingDaysPerYear is the annualization base for the Sharpe ratio.
const tradingDaysPerYear = 252

// mean returns the arithmetic mean of xs, or 0 for an empty slice.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev returns the population standard deviation of xs.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// sampleStddev returns the sample standard deviation (n-1 denominator) of xs.
func sampleStddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// SharpeRatio computes the annualized Sharpe ratio from per-trade returns.
// The annual risk-free rate is converted to a per-trade rate assuming daily
// returns. Fewer than two returns, or zero return variance, yields 0.
func SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	perTrade := riskFreeRate / tradingDaysPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - perTrade
	}
	sd := sampleStddev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown computes the largest peak-to-trough decline of the cumulative
// product of (1 + return) against its running maximum. The result is
// reported as a positive fraction.
func MaxDrawdown(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cumulative := 1.0
	runningMax := 1.0
	worst := 0.0
	for _, r := range returns {
		cumulative *= 1 + r
		if cumulative > runningMax {
			runningMax = cumulative
		}
		if dd := cumulative/runningMax - 1; dd < worst {
			worst = dd
		}
	}
	return math.Abs(worst)
}

// WinRate returns the fraction of trades with positive realized PnL, or 0
// when there are no trades.
func WinRate(trades []domain.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// ProfitFactor returns gross profit divided by gross loss. With no losing
// trades and positive gross profit the result is +Inf: the raw metric is
// intentionally unbounded here, and consumers that feed it into normalized
// scores must cap it first. Zero trades yield 0.
func ProfitFactor(trades []domain.Trade) float64 {
	var profits, losses float64
	for _, t := range trades {
		if t.PnL > 0 {
			profits += t.PnL
		} else if t.PnL < 0 {
			losses += -t.PnL
		}
	}
	if losses == 0 {
		if profits > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return profits / losses
}

// RiskAdjustedReturn returns mean(returns) divided by the population standard
// deviation of returns, unannualized. Zero variance leaves the mean
// undivided; no trades yield 0.
func RiskAdjustedReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sd := stddev(returns)
	if sd == 0 {
		return mean(returns)
	}
	return mean(returns) / sd
}

// CapProfitFactor bounds a raw profit factor for use inside normalized
// scores. The cap is applied once, at the point the metric enters scoring.
func CapProfitFactor(pf float64) float64 {
	return math.Min(pf, profitFactorCap)
}

// profitFactorCap bounds the profit factor wherever it enters a normalized
// score.
const profitFactorCap = 3.0
