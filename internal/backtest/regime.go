package backtest

import (
	"neural/internal/domain"
)

// Volatility and trend thresholds for regime classification. Volatility
// checks take priority over trend.
const (
	volatileRatio = 1.5
	lowVolRatio   = 0.5
	trendUp       = 0.05
	trendDown     = -0.05
)

// DetectRegime classifies the market condition of an analysis window from
// rolling return volatility and the relative change of a rolling price mean.
// The rolling sub-window is window/4 bars (minimum 2). Windows too short for
// a single rolling measurement classify as sideways.
func DetectRegime(bars []domain.Bar, window int) domain.Regime {
	sub := window / 4
	if sub < 2 {
		sub = 2
	}
	// Need sub+1 closes for sub returns plus one full rolling window.
	if len(bars) < sub+1 {
		return domain.RegimeSideways
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, bars[i].Close/prev-1)
	}

	// Rolling volatility of returns.
	var vols []float64
	for i := sub; i <= len(returns); i++ {
		vols = append(vols, stddev(returns[i-sub:i]))
	}
	if len(vols) == 0 {
		return domain.RegimeSideways
	}
	currentVol := vols[len(vols)-1]
	avgVol := mean(vols)

	// Rolling mean of closes; trend is the relative change from the first
	// defined rolling mean to the last.
	var smas []float64
	for i := sub; i <= len(bars); i++ {
		var sum float64
		for _, b := range bars[i-sub : i] {
			sum += b.Close
		}
		smas = append(smas, sum/float64(sub))
	}
	trend := 0.0
	if len(smas) > 1 && smas[0] != 0 {
		trend = (smas[len(smas)-1] - smas[0]) / smas[0]
	}

	switch {
	case avgVol > 0 && currentVol > avgVol*volatileRatio:
		return domain.RegimeVolatile
	case avgVol > 0 && currentVol < avgVol*lowVolRatio:
		return domain.RegimeLowVolatility
	case trend > trendUp:
		return domain.RegimeBull
	case trend < trendDown:
		return domain.RegimeBear
	default:
		return domain.RegimeSideways
	}
}
