// Package backtest replays trading strategies over historical bar data and
// computes per-run performance metrics together with a market-regime
// snapshot of the simulated period.
package backtest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"neural/internal/domain"
	"neural/internal/strategy"
)

// Regime sample points within a backtest period.
const (
	SampleStart  = "start"
	SampleMiddle = "middle"
	SampleEnd    = "end"
)

// Period is a [Start, End] historical window for a single backtest run.
type Period struct {
	Start time.Time
	End   time.Time
}

// Result holds the outcome of one backtest run. It is immutable once
// returned. A run over a period with insufficient data has DataInsufficient
// set and every metric zeroed; callers must exclude such results from
// aggregation.
type Result struct {
	StrategyID string
	Symbol     string
	Start      time.Time
	End        time.Time

	// Returns are per-trade PnL normalized by initial capital, in close
	// order.
	Returns []float64
	Trades  []domain.Trade

	SharpeRatio        float64
	MaxDrawdown        float64
	WinRate            float64
	ProfitFactor       float64
	RiskAdjustedReturn float64

	// Regimes maps the start/middle/end sample points of the period to the
	// market regime detected there.
	Regimes map[string]domain.Regime

	DataInsufficient bool
}

// DataProvider supplies ordered historical bars. Implementations live in the
// data package.
type DataProvider interface {
	// LoadHistory returns bars for symbol within [start, end], ascending by
	// timestamp. Gaps in the series are permitted.
	LoadHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Config holds the simulation parameters of the engine.
type Config struct {
	// RiskFreeRate is the annual risk-free rate used in the Sharpe ratio.
	RiskFreeRate float64
	// RegimeWindow is the bar count of each regime analysis window.
	RegimeWindow int
	// PositionPct is the fraction of current capital committed per position.
	PositionPct float64
}

// Engine replays strategies over historical data. The latest result per
// strategy id is cached; a new run overwrites the previous entry.
type Engine struct {
	provider DataProvider
	cfg      Config
	log      *slog.Logger

	mu    sync.Mutex
	cache map[string]*Result
}

// NewEngine creates an Engine reading bars from the given provider. Zero
// config fields fall back to the defaults: 2% risk-free rate, 20-bar regime
// window, 2% position sizing.
func NewEngine(provider DataProvider, cfg Config, log *slog.Logger) *Engine {
	if cfg.RiskFreeRate == 0 {
		cfg.RiskFreeRate = 0.02
	}
	if cfg.RegimeWindow == 0 {
		cfg.RegimeWindow = 20
	}
	if cfg.PositionPct == 0 {
		cfg.PositionPct = 0.02
	}
	return &Engine{
		provider: provider,
		cfg:      cfg,
		log:      log,
		cache:    make(map[string]*Result),
	}
}

// Run executes a backtest for the strategy over [start, end], starting with
// initialCapital. The strategy sees only the bars observed so far. A non-zero
// signal with no open position opens one sized at PositionPct of current
// capital; a zero signal with an open position closes it and realizes PnL.
// Insufficient historical data yields a flagged zero-metric Result, not an
// error.
func (e *Engine) Run(
	ctx context.Context,
	strat strategy.Strategy,
	symbol string,
	start, end time.Time,
	initialCapital float64,
) (*Result, error) {
	bars, err := e.provider.LoadHistory(ctx, symbol, start, end)
	if err != nil {
		e.log.Warn("loading history failed, marking period insufficient",
			"strategy", strat.ID(), "symbol", symbol, "error", err)
		return e.insufficient(strat.ID(), symbol, start, end), nil
	}
	if len(bars) < e.cfg.RegimeWindow {
		e.log.Warn("insufficient history for period",
			"strategy", strat.ID(), "symbol", symbol, "bars", len(bars), "need", e.cfg.RegimeWindow)
		return e.insufficient(strat.ID(), symbol, start, end), nil
	}

	regimes := e.sampleRegimes(bars)

	type position struct {
		side       domain.TradeSide
		entryPrice float64
		entryTime  time.Time
		size       float64
	}

	capital := initialCapital
	var open *position
	var trades []domain.Trade
	var returns []float64

	for i := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := &bars[i]
		signal := strat.GenerateSignal(bars[:i+1])

		switch {
		case signal != 0 && open == nil:
			side := domain.TradeSideLong
			if signal < 0 {
				side = domain.TradeSideShort
			}
			open = &position{
				side:       side,
				entryPrice: bar.Close,
				entryTime:  bar.Timestamp,
				size:       capital * e.cfg.PositionPct / bar.Close,
			}

		case signal == 0 && open != nil:
			pnl := (bar.Close - open.entryPrice) * open.size
			if open.side == domain.TradeSideShort {
				pnl = -pnl
			}
			trades = append(trades, domain.Trade{
				EntryTime:  open.entryTime,
				ExitTime:   bar.Timestamp,
				EntryPrice: open.entryPrice,
				ExitPrice:  bar.Close,
				Side:       open.side,
				Size:       open.size,
				PnL:        pnl,
			})
			returns = append(returns, pnl/initialCapital)
			capital += pnl
			open = nil
		}
	}

	result := &Result{
		StrategyID:         strat.ID(),
		Symbol:             symbol,
		Start:              start,
		End:                end,
		Returns:            returns,
		Trades:             trades,
		SharpeRatio:        SharpeRatio(returns, e.cfg.RiskFreeRate),
		MaxDrawdown:        MaxDrawdown(returns),
		WinRate:            WinRate(trades),
		ProfitFactor:       ProfitFactor(trades),
		RiskAdjustedReturn: RiskAdjustedReturn(returns),
		Regimes:            regimes,
	}

	e.mu.Lock()
	e.cache[strat.ID()] = result
	e.mu.Unlock()

	return result, nil
}

// CachedResult returns the latest result for a strategy id, if any.
func (e *Engine) CachedResult(strategyID string) (*Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.cache[strategyID]
	return r, ok
}

// sampleRegimes detects the market regime in windows at the start, middle,
// and end of the bar series.
func (e *Engine) sampleRegimes(bars []domain.Bar) map[string]domain.Regime {
	w := e.cfg.RegimeWindow
	mid := len(bars) / 2
	half := w / 2

	midLo := mid - half
	if midLo < 0 {
		midLo = 0
	}
	midHi := mid + half
	if midHi > len(bars) {
		midHi = len(bars)
	}

	return map[string]domain.Regime{
		SampleStart:  DetectRegime(bars[:w], w),
		SampleMiddle: DetectRegime(bars[midLo:midHi], w),
		SampleEnd:    DetectRegime(bars[len(bars)-w:], w),
	}
}

func (e *Engine) insufficient(strategyID, symbol string, start, end time.Time) *Result {
	return &Result{
		StrategyID:       strategyID,
		Symbol:           symbol,
		Start:            start,
		End:              end,
		Regimes:          map[string]domain.Regime{},
		DataInsufficient: true,
	}
}

// ValidationReport aggregates Sharpe statistics and a consistency blend
// across multiple validation periods. Flagged (insufficient-data) periods
// are excluded from every aggregate.
type ValidationReport struct {
	MeanSharpe       float64
	SharpeStd        float64
	MeanDrawdown     float64
	MeanWinRate      float64
	ConsistencyScore float64
	Periods          int
	Skipped          int
}

// Validate runs one backtest per period and aggregates the results, guarding
// against overfitting to a single window. The consistency score is a
// weighted blend of sharpe (0.3), 1-drawdown (0.2), win rate (0.2), and
// capped profit factor scaled to [0,1] (0.3), averaged over usable periods.
func (e *Engine) Validate(
	ctx context.Context,
	strat strategy.Strategy,
	symbol string,
	periods []Period,
	initialCapital float64,
) (*ValidationReport, error) {
	var usable []*Result
	skipped := 0
	for _, p := range periods {
		result, err := e.Run(ctx, strat, symbol, p.Start, p.End, initialCapital)
		if err != nil {
			return nil, err
		}
		if result.DataInsufficient {
			skipped++
			continue
		}
		usable = append(usable, result)
	}

	report := &ValidationReport{Periods: len(usable), Skipped: skipped}
	if len(usable) == 0 {
		return report, nil
	}

	sharpes := make([]float64, len(usable))
	drawdowns := make([]float64, len(usable))
	winRates := make([]float64, len(usable))
	for i, r := range usable {
		sharpes[i] = r.SharpeRatio
		drawdowns[i] = r.MaxDrawdown
		winRates[i] = r.WinRate
	}

	report.MeanSharpe = mean(sharpes)
	report.SharpeStd = stddev(sharpes)
	report.MeanDrawdown = mean(drawdowns)
	report.MeanWinRate = mean(winRates)
	report.ConsistencyScore = consistencyBlend(usable)

	return report, nil
}

// consistencyBlend computes the weighted validation consistency score.
func consistencyBlend(results []*Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sharpe, drawdown, winRate, profitFactor float64
	for _, r := range results {
		sharpe += r.SharpeRatio
		drawdown += 1 - r.MaxDrawdown
		winRate += r.WinRate
		profitFactor += CapProfitFactor(r.ProfitFactor) / profitFactorCap
	}
	n := float64(len(results))
	return sharpe/n*0.3 + drawdown/n*0.2 + winRate/n*0.2 + profitFactor/n*0.3
}
