// Package adaptive orchestrates the strategy lifecycle: registration,
// multi-period evaluation, portfolio allocation, recommendation blending,
// parameter adaptation, and retirement.
package adaptive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"neural/internal/backtest"
	"neural/internal/domain"
	"neural/internal/evaluate"
	"neural/internal/portfolio"
	"neural/internal/strategy"
)

// State is a strategy's position in the lifecycle. Retired is terminal.
type State string

const (
	StateRegistered State = "REGISTERED"
	StateEvaluated  State = "EVALUATED"
	StateAllocated  State = "ALLOCATED"
	StateExcluded   State = "EXCLUDED"
	StateRetired    State = "RETIRED"
)

// keepScore is the overall score a strategy needs to stay in the pool.
const keepScore = 0.4

// signalThreshold converts a weighted signal into a trade action.
const signalThreshold = 0.2

// recommendationWindow is how far back bar history is loaded when querying
// live signals.
const recommendationWindow = 120 * 24 * time.Hour

// adaptHistoryLen is how many recent scores are fed to adaptive strategies.
const adaptHistoryLen = 10

// ParameterAdaptive is the optional self-tuning capability. Strategies that
// implement it receive their recent evaluation scores during maintenance.
type ParameterAdaptive interface {
	OptimizeParameters(recent []*evaluate.Score)
}

// Contribution is one strategy's input to a blended recommendation.
type Contribution struct {
	Signal     int     `json:"signal"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
}

// Recommendation is the blended trade action across allocated strategies.
type Recommendation struct {
	Symbol         string                          `json:"symbol"`
	Action         domain.RecommendationAction     `json:"action"`
	Confidence     float64                         `json:"confidence"`
	WeightedSignal float64                         `json:"weighted_signal"`
	Contributing   map[string]Contribution         `json:"contributing_strategies,omitempty"`
}

// Event is broadcast to subscribers on every lifecycle change.
type Event struct {
	Type       string  `json:"type"` // "strategy_added", "evaluated", "portfolio_updated", "adapted", "retired", "maintenance_done"
	StrategyID string  `json:"strategy_id,omitempty"`
	Score      float64 `json:"score,omitempty"`
	State      State   `json:"state,omitempty"`
}

// TopStrategy is one row of the status ranking.
type TopStrategy struct {
	StrategyID string  `json:"strategy_id"`
	Weight     float64 `json:"weight"`
	Allocation float64 `json:"allocation"`
}

// Status is a point-in-time view of the whole system.
type Status struct {
	ActiveStrategies int                `json:"active_strategies"`
	States           map[string]State   `json:"states"`
	Portfolio        portfolio.Metrics  `json:"portfolio_metrics"`
	TopStrategies    []TopStrategy      `json:"top_strategies"`
}

// Config holds orchestration parameters.
type Config struct {
	// InitialCapital is the starting capital of each backtest run.
	InitialCapital float64
	// PeriodTimeout bounds each per-period backtest; a timed-out period is
	// scored as data-insufficient rather than failing the evaluation.
	PeriodTimeout time.Duration
}

// System wires the engine, evaluator, and portfolio together and owns the
// strategy registry. All orchestration methods serialize on one mutex so a
// retirement is atomic with respect to a concurrent portfolio update.
type System struct {
	engine    *backtest.Engine
	evaluator *evaluate.Evaluator
	portfolio *portfolio.Portfolio
	provider  backtest.DataProvider
	registry  *strategy.Registry
	log       *slog.Logger
	now       func() time.Time

	initialCapital float64
	periodTimeout  time.Duration

	mu     sync.Mutex
	states map[string]State

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// New creates a System. Zero config fields fall back to the defaults:
// 100,000 backtest capital and a 2 minute period timeout.
func New(
	engine *backtest.Engine,
	evaluator *evaluate.Evaluator,
	pf *portfolio.Portfolio,
	provider backtest.DataProvider,
	cfg Config,
	log *slog.Logger,
) *System {
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = 100000
	}
	if cfg.PeriodTimeout == 0 {
		cfg.PeriodTimeout = 2 * time.Minute
	}
	return &System{
		engine:         engine,
		evaluator:      evaluator,
		portfolio:      pf,
		provider:       provider,
		registry:       strategy.NewRegistry(),
		log:            log,
		now:            time.Now,
		initialCapital: cfg.InitialCapital,
		periodTimeout:  cfg.PeriodTimeout,
		states:         make(map[string]State),
		subs:           make(map[int]chan Event),
	}
}

// AddStrategy constructs and registers a strategy. Construction failure is a
// configuration error: it is logged and returned to the caller.
func (s *System) AddStrategy(id string, ctor strategy.Constructor, params strategy.Params) error {
	strat, err := ctor(id, params)
	if err != nil {
		s.log.Error("adding strategy", "strategy", id, "error", err)
		return fmt.Errorf("adding strategy %s: %w", id, err)
	}

	s.mu.Lock()
	s.registry.Register(strat)
	s.states[id] = StateRegistered
	s.mu.Unlock()

	s.log.Info("strategy added", "strategy", id)
	s.broadcast(Event{Type: "strategy_added", StrategyID: id, State: StateRegistered})
	return nil
}

// EvaluateStrategy backtests a strategy over every period concurrently, waits
// for all runs, and scores the full result set. It reports whether the
// overall score clears the keep threshold. Periods that time out or lack
// data reduce the sample; an evaluation with no usable period at all returns
// evaluate.ErrNoResults.
func (s *System) EvaluateStrategy(ctx context.Context, id, symbol string, periods []backtest.Period) (bool, error) {
	strat, ok := s.registry.Get(id)
	if !ok {
		return false, fmt.Errorf("strategy %s not registered", id)
	}

	results := make([]*backtest.Result, len(periods))
	var wg sync.WaitGroup
	for i, period := range periods {
		wg.Add(1)
		go func(i int, period backtest.Period) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.periodTimeout)
			defer cancel()

			result, err := s.engine.Run(pctx, strat, symbol, period.Start, period.End, s.initialCapital)
			if err != nil {
				s.log.Warn("backtest period aborted, scoring as insufficient",
					"strategy", id, "symbol", symbol,
					"start", period.Start, "end", period.End, "error", err)
				result = &backtest.Result{
					StrategyID:       id,
					Symbol:           symbol,
					Start:            period.Start,
					End:              period.End,
					Regimes:          map[string]domain.Regime{},
					DataInsufficient: true,
				}
			}
			results[i] = result
		}(i, period)
	}
	wg.Wait()

	score, err := s.evaluator.Evaluate(results)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.states[id] = StateEvaluated
	s.mu.Unlock()

	keep := score.Overall >= keepScore
	s.log.Info("strategy evaluated",
		"strategy", id, "symbol", symbol, "score", score.Overall, "keep", keep)
	s.broadcast(Event{Type: "evaluated", StrategyID: id, Score: score.Overall, State: StateEvaluated})
	return keep, nil
}

// UpdatePortfolio reallocates capital from the latest score of every
// evaluated strategy.
func (s *System) UpdatePortfolio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatePortfolioLocked()
}

// updatePortfolioLocked forwards qualifying latest scores to the portfolio
// and refreshes lifecycle states. Only registered strategies qualify, so a
// retired strategy can never re-enter through its cached score. Must be
// called with mu held.
func (s *System) updatePortfolioLocked() {
	var qualifying []*evaluate.Score
	for _, score := range s.evaluator.LatestScores() {
		if _, registered := s.registry.Get(score.StrategyID); !registered {
			continue
		}
		if score.Overall >= keepScore {
			qualifying = append(qualifying, score)
		}
	}
	s.portfolio.Update(qualifying)

	allocations := s.portfolio.Allocations()
	for id, state := range s.states {
		if state == StateRegistered || state == StateRetired {
			continue
		}
		if _, ok := allocations[id]; ok {
			s.states[id] = StateAllocated
		} else {
			s.states[id] = StateExcluded
		}
	}

	metrics := s.portfolio.PortfolioMetrics()
	s.log.Info("portfolio updated",
		"strategies", metrics.StrategyCount,
		"sharpe", metrics.SharpeRatio,
		"maxDrawdown", metrics.MaxDrawdown,
		"winRate", metrics.WinRate)
	s.broadcast(Event{Type: "portfolio_updated"})
}

// Recommendation blends the live signals of every allocated strategy into a
// single trade action for the symbol. Data failures degrade to HOLD with a
// logged warning.
func (s *System) Recommendation(ctx context.Context, symbol string) *Recommendation {
	hold := &Recommendation{Symbol: symbol, Action: domain.ActionHold}

	end := s.now()
	bars, err := s.provider.LoadHistory(ctx, symbol, end.Add(-recommendationWindow), end)
	if err != nil {
		s.log.Warn("loading history for recommendation", "symbol", symbol, "error", err)
		return hold
	}
	if len(bars) == 0 {
		return hold
	}

	contributing := make(map[string]Contribution)
	var totalWeight float64
	for _, id := range s.registry.List() {
		strat, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		alloc, ok := s.portfolio.AllocationFor(id)
		if !ok || alloc.Weight == 0 {
			continue
		}
		signal := strat.GenerateSignal(bars)
		if signal == 0 {
			continue
		}
		contributing[id] = Contribution{
			Signal:     signal,
			Weight:     alloc.Weight,
			Confidence: strategy.ConfidenceOf(strat),
		}
		totalWeight += alloc.Weight
	}
	if len(contributing) == 0 {
		return hold
	}

	var weighted float64
	for _, c := range contributing {
		weighted += float64(c.Signal) * c.Weight * c.Confidence
	}
	weighted /= totalWeight

	action := domain.ActionHold
	switch {
	case weighted > signalThreshold:
		action = domain.ActionBuy
	case weighted < -signalThreshold:
		action = domain.ActionSell
	}

	return &Recommendation{
		Symbol:         symbol,
		Action:         action,
		Confidence:     abs(weighted),
		WeightedSignal: weighted,
		Contributing:   contributing,
	}
}

// RetireStrategy zeroes the strategy's portfolio weight, removes it from the
// registry, and refreshes the portfolio. Retirement is terminal and atomic
// with respect to concurrent portfolio updates.
func (s *System) RetireStrategy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireLocked(id)
}

// retireLocked performs the retirement. Must be called with mu held.
func (s *System) retireLocked(id string) {
	if _, ok := s.registry.Get(id); !ok {
		return
	}
	s.log.Info("retiring strategy", "strategy", id)

	s.portfolio.Adjust(id, 0)
	s.registry.Remove(id)
	s.states[id] = StateRetired
	s.updatePortfolioLocked()

	s.broadcast(Event{Type: "retired", StrategyID: id, State: StateRetired})
}

// AdaptParameters feeds a strategy its recent score history if it supports
// self-tuning. Strategies without the capability are left alone.
func (s *System) AdaptParameters(id string) {
	s.adapt(id)
}

// RunMaintenance is the periodic feedback tick: every registered strategy is
// retired if its scores warrant it, otherwise given a chance to self-tune,
// and the portfolio is refreshed at the end. Each strategy's step is
// isolated so one faulty strategy cannot block the rest of the sweep.
func (s *System) RunMaintenance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info("maintenance started")
	for _, id := range s.registry.List() {
		s.withRecovery(id, func() {
			if s.evaluator.ShouldRetire(id) {
				s.retireLocked(id)
			} else {
				s.adapt(id)
			}
		})
	}
	s.updatePortfolioLocked()
	s.log.Info("maintenance finished")
	s.broadcast(Event{Type: "maintenance_done"})
}

// adapt feeds the strategy its recent scores if it is ParameterAdaptive.
func (s *System) adapt(id string) {
	strat, ok := s.registry.Get(id)
	if !ok {
		return
	}
	adaptive, ok := strat.(ParameterAdaptive)
	if !ok {
		return
	}
	history := s.evaluator.History(id)
	if len(history) == 0 {
		return
	}
	if len(history) > adaptHistoryLen {
		history = history[len(history)-adaptHistoryLen:]
	}
	adaptive.OptimizeParameters(history)
	s.log.Info("strategy parameters adapted", "strategy", id)
	s.broadcast(Event{Type: "adapted", StrategyID: id})
}

// withRecovery runs fn and turns a panic from strategy code into a logged
// error so the maintenance sweep continues.
func (s *System) withRecovery(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("strategy maintenance step panicked", "strategy", id, "panic", r)
		}
	}()
	fn()
}

// Status returns a snapshot of strategy states, portfolio metrics, and the
// top five strategies by weight.
func (s *System) Status() Status {
	s.mu.Lock()
	states := make(map[string]State, len(s.states))
	for id, state := range s.states {
		states[id] = state
	}
	active := s.registry.Len()
	s.mu.Unlock()

	ranking := s.portfolio.Ranking()
	if len(ranking) > 5 {
		ranking = ranking[:5]
	}
	top := make([]TopStrategy, 0, len(ranking))
	for _, r := range ranking {
		alloc, _ := s.portfolio.AllocationFor(r.StrategyID)
		top = append(top, TopStrategy{
			StrategyID: r.StrategyID,
			Weight:     r.Weight,
			Allocation: alloc.CurrentAllocation,
		})
	}

	return Status{
		ActiveStrategies: active,
		States:           states,
		Portfolio:        s.portfolio.PortfolioMetrics(),
		TopStrategies:    top,
	}
}

// Evaluator exposes the score history for read-only API handlers.
func (s *System) Evaluator() *evaluate.Evaluator { return s.evaluator }

// Portfolio exposes allocations for read-only API handlers.
func (s *System) Portfolio() *portfolio.Portfolio { return s.portfolio }

// Subscribe returns a channel receiving lifecycle events. bufSize controls
// the channel buffer; slow consumers will have events dropped.
func (s *System) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *System) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (s *System) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer, drop the event.
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
