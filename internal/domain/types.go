// Package domain holds the core data types shared across the neural engine:
// OHLCV bars, market regimes, and trade records produced by simulation.
package domain

import "time"

// Bar is a single OHLCV bar for a symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Regime is a qualitative market-condition label derived from rolling
// volatility and trend over an analysis window.
type Regime string

// Market regime labels. Volatility classifications take priority over trend.
const (
	RegimeBull          Regime = "bull"
	RegimeBear          Regime = "bear"
	RegimeSideways      Regime = "sideways"
	RegimeVolatile      Regime = "volatile"
	RegimeLowVolatility Regime = "low_volatility"
)

// AllRegimes lists every regime bucket in a fixed order, used when
// aggregating per-regime statistics.
var AllRegimes = []Regime{
	RegimeBull,
	RegimeBear,
	RegimeSideways,
	RegimeVolatile,
	RegimeLowVolatility,
}

// TradeSide is the direction of a simulated position.
type TradeSide string

const (
	TradeSideLong  TradeSide = "long"
	TradeSideShort TradeSide = "short"
)

// Trade records a closed simulated position. It is immutable once created.
type Trade struct {
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Side       TradeSide
	Size       float64
	PnL        float64
}

// RecommendationAction is the combined trading action derived from the
// weighted signals of all allocated strategies.
type RecommendationAction string

const (
	ActionBuy  RecommendationAction = "BUY"
	ActionSell RecommendationAction = "SELL"
	ActionHold RecommendationAction = "HOLD"
)
