// Package evaluate aggregates backtest results into composite strategy
// scores, tracks per-strategy score history, and decides decline and
// retirement.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"neural/internal/backtest"
	"neural/internal/domain"
	"neural/internal/store"
)

// ErrNoResults is returned when an evaluation is requested without any
// usable backtest result. This is a configuration error at the caller.
var ErrNoResults = errors.New("evaluate: no usable backtest results")

// Metric keys used in Score.Metrics.
const (
	MetricSharpe             = "sharpe_ratio"
	MetricMaxDrawdown        = "max_drawdown"
	MetricWinRate            = "win_rate"
	MetricProfitFactor       = "profit_factor"
	MetricRiskAdjustedReturn = "risk_adjusted_return"
)

// performanceWeights blends the averaged metrics into the performance score.
var performanceWeights = map[string]float64{
	MetricSharpe:             0.25,
	MetricMaxDrawdown:        0.20,
	MetricWinRate:            0.15,
	MetricProfitFactor:       0.20,
	MetricRiskAdjustedReturn: 0.20,
}

// Composite score weights.
const (
	weightPerformance  = 0.5
	weightAdaptability = 0.3
	weightConsistency  = 0.2
)

// declineWindow is the history length used for the linear decline trend.
const declineWindow = 5

// Score is the composite evaluation of a strategy at a point in time.
// Metrics holds the averaged performance metrics with the profit factor
// already capped for normalized scoring.
type Score struct {
	StrategyID         string
	Overall            float64
	Metrics            map[string]float64
	MarketAdaptability map[domain.Regime]float64
	Consistency        float64
	Timestamp          time.Time
}

// Evaluator scores strategies from backtest results and keeps an append-only
// score history per strategy. The optional ScoreStore receives a
// write-through copy of every score for audit.
type Evaluator struct {
	scores store.ScoreStore // may be nil
	log    *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	latest  map[string]*Score
	history map[string][]*Score
}

// NewEvaluator creates an Evaluator. scores may be nil to disable
// persistence.
func NewEvaluator(scores store.ScoreStore, log *slog.Logger) *Evaluator {
	return &Evaluator{
		scores:  scores,
		log:     log,
		now:     time.Now,
		latest:  make(map[string]*Score),
		history: make(map[string][]*Score),
	}
}

// Evaluate scores one strategy from its backtest results. Results flagged as
// data-insufficient are excluded; if none remain, ErrNoResults is returned.
// The score is appended to the strategy's history and becomes its latest.
func (ev *Evaluator) Evaluate(results []*backtest.Result) (*Score, error) {
	usable := make([]*backtest.Result, 0, len(results))
	for _, r := range results {
		if r != nil && !r.DataInsufficient {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoResults
	}

	strategyID := usable[0].StrategyID
	metrics := averageMetrics(usable)
	adaptability := marketAdaptability(usable)
	consistency := consistencyScore(usable)

	performance := 0.0
	for metric, weight := range performanceWeights {
		performance += metrics[metric] * weight
	}

	adaptabilitySum := 0.0
	for _, v := range adaptability {
		adaptabilitySum += v
	}
	adaptabilityScore := adaptabilitySum / float64(len(domain.AllRegimes))

	score := &Score{
		StrategyID:         strategyID,
		Overall:            performance*weightPerformance + adaptabilityScore*weightAdaptability + consistency*weightConsistency,
		Metrics:            metrics,
		MarketAdaptability: adaptability,
		Consistency:        consistency,
		Timestamp:          ev.now(),
	}

	ev.mu.Lock()
	ev.latest[strategyID] = score
	ev.history[strategyID] = append(ev.history[strategyID], score)
	ev.mu.Unlock()

	ev.persist(score)

	return score, nil
}

// averageMetrics computes the mean of each performance metric across the
// results. The profit factor is capped per result before averaging: this is
// the single point where the raw, possibly unbounded metric enters
// normalized scoring.
func averageMetrics(results []*backtest.Result) map[string]float64 {
	n := float64(len(results))
	var sharpe, drawdown, winRate, profitFactor, rar float64
	for _, r := range results {
		sharpe += r.SharpeRatio
		drawdown += r.MaxDrawdown
		winRate += r.WinRate
		profitFactor += backtest.CapProfitFactor(r.ProfitFactor)
		rar += r.RiskAdjustedReturn
	}
	return map[string]float64{
		MetricSharpe:             sharpe / n,
		MetricMaxDrawdown:        drawdown / n,
		MetricWinRate:            winRate / n,
		MetricProfitFactor:       profitFactor / n,
		MetricRiskAdjustedReturn: rar / n,
	}
}

// marketAdaptability buckets the Sharpe ratio of each result under every
// regime its period touched, then averages per bucket. Regimes with no
// observations score 0.
func marketAdaptability(results []*backtest.Result) map[domain.Regime]float64 {
	buckets := make(map[domain.Regime][]float64, len(domain.AllRegimes))
	for _, r := range results {
		for _, regime := range r.Regimes {
			buckets[regime] = append(buckets[regime], r.SharpeRatio)
		}
	}

	adaptability := make(map[domain.Regime]float64, len(domain.AllRegimes))
	for _, regime := range domain.AllRegimes {
		samples := buckets[regime]
		if len(samples) == 0 {
			adaptability[regime] = 0
			continue
		}
		var sum float64
		for _, s := range samples {
			sum += s
		}
		adaptability[regime] = sum / float64(len(samples))
	}
	return adaptability
}

// consistencyScore measures metric stability across independent runs as the
// mean of 1/(1+stdev) over sharpe, win rate, and capped profit factor. Each
// term lies in (0,1]; fewer than two results score 0.
func consistencyScore(results []*backtest.Result) float64 {
	if len(results) < 2 {
		return 0
	}
	sharpes := make([]float64, len(results))
	winRates := make([]float64, len(results))
	profitFactors := make([]float64, len(results))
	for i, r := range results {
		sharpes[i] = r.SharpeRatio
		winRates[i] = r.WinRate
		profitFactors[i] = backtest.CapProfitFactor(r.ProfitFactor)
	}

	total := 0.0
	for _, series := range [][]float64{sharpes, winRates, profitFactors} {
		total += 1 / (1 + stddev(series))
	}
	return total / 3
}

func stddev(xs []float64) float64 {
	m := 0.0
	for _, x := range xs {
		m += x
	}
	m /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// persist writes the score through to the store, if configured. Store
// failures degrade to a logged warning.
func (ev *Evaluator) persist(score *Score) {
	if ev.scores == nil {
		return
	}
	metricsJSON, err := json.Marshal(score.Metrics)
	if err != nil {
		ev.log.Warn("marshalling score metrics", "strategy", score.StrategyID, "error", err)
		return
	}
	adaptabilityJSON, err := json.Marshal(score.MarketAdaptability)
	if err != nil {
		ev.log.Warn("marshalling score adaptability", "strategy", score.StrategyID, "error", err)
		return
	}
	rec := &store.ScoreRecord{
		StrategyID:       score.StrategyID,
		Overall:          score.Overall,
		Consistency:      score.Consistency,
		MetricsJSON:      string(metricsJSON),
		AdaptabilityJSON: string(adaptabilityJSON),
		CreatedAt:        score.Timestamp,
	}
	if err := ev.scores.SaveScore(context.Background(), rec); err != nil {
		ev.log.Warn("persisting score", "strategy", score.StrategyID, "error", err)
	}
}

// Latest returns the most recent score for a strategy id.
func (ev *Evaluator) Latest(strategyID string) (*Score, bool) {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	s, ok := ev.latest[strategyID]
	return s, ok
}

// LatestScores returns the latest score of every evaluated strategy.
func (ev *Evaluator) LatestScores() []*Score {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	out := make([]*Score, 0, len(ev.latest))
	for _, s := range ev.latest {
		out = append(out, s)
	}
	return out
}

// History returns the append-only score history for a strategy, oldest
// first.
func (ev *Evaluator) History(strategyID string) []*Score {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	h := ev.history[strategyID]
	out := make([]*Score, len(h))
	copy(out, h)
	return out
}

// IsDeclining reports whether the linear trend of the last window overall
// scores is negative. Histories shorter than the window are never declining.
func (ev *Evaluator) IsDeclining(strategyID string, window int) bool {
	ev.mu.RLock()
	h := ev.history[strategyID]
	ev.mu.RUnlock()

	if len(h) < window {
		return false
	}
	recent := h[len(h)-window:]
	ys := make([]float64, len(recent))
	for i, s := range recent {
		ys[i] = s.Overall
	}
	return olsSlope(ys) < 0
}

// olsSlope fits y against its index by ordinary least squares and returns
// the slope.
func olsSlope(ys []float64) float64 {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// ShouldRetire reports whether a strategy should be retired: latest score
// below 0.3, a declining trend, or three consecutive scores below 0.4. A
// strategy with no history is never retired.
func (ev *Evaluator) ShouldRetire(strategyID string) bool {
	ev.mu.RLock()
	h := ev.history[strategyID]
	ev.mu.RUnlock()

	if len(h) == 0 {
		return false
	}

	if h[len(h)-1].Overall < 0.3 {
		return true
	}
	if ev.IsDeclining(strategyID, declineWindow) {
		return true
	}
	if len(h) >= 3 {
		allBad := true
		for _, s := range h[len(h)-3:] {
			if s.Overall >= 0.4 {
				allBad = false
				break
			}
		}
		if allBad {
			return true
		}
	}
	return false
}

// TopStrategies returns up to n latest scores sorted by overall score
// descending, ties broken by strategy id for determinism.
func (ev *Evaluator) TopStrategies(n int) []*Score {
	scores := ev.LatestScores()
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Overall != scores[j].Overall {
			return scores[i].Overall > scores[j].Overall
		}
		return scores[i].StrategyID < scores[j].StrategyID
	})
	if n < len(scores) {
		scores = scores[:n]
	}
	return scores
}
