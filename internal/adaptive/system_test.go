package adaptive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"neural/internal/backtest"
	"neural/internal/domain"
	"neural/internal/evaluate"
	"neural/internal/portfolio"
	"neural/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider serves a fixed bar series for every request.
type fakeProvider struct {
	bars []domain.Bar
	err  error
}

func (f *fakeProvider) LoadHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return f.bars, f.err
}

// scripted always emits the same signal and confidence.
type scripted struct {
	id         string
	signal     int
	confidence float64
}

func (s *scripted) ID() string                              { return s.id }
func (s *scripted) GenerateSignal(history []domain.Bar) int { return s.signal }
func (s *scripted) Confidence() float64                     { return s.confidence }

// alternating opens on odd history lengths and closes on even ones, so every
// trade spans exactly one bar.
type alternating struct {
	id string
}

func (a *alternating) ID() string { return a.id }

func (a *alternating) GenerateSignal(history []domain.Bar) int {
	if len(history)%2 == 1 {
		return 1
	}
	return 0
}

// panicky is an adaptive strategy whose tuning hook always panics.
type panicky struct {
	alternating
}

func (p *panicky) OptimizeParameters(recent []*evaluate.Score) {
	panic("tuning blew up")
}

// sawtoothBars alternates closes between 100 and 110 so alternating
// strategies win every trade.
func sawtoothBars(n int) []domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100.0
		if i%2 == 1 {
			c = 110.0
		}
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: base.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func newTestSystem(provider backtest.DataProvider) *System {
	log := testLogger()
	engine := backtest.NewEngine(provider, backtest.Config{}, log)
	evaluator := evaluate.NewEvaluator(nil, log)
	pf := portfolio.New(portfolio.Config{}, nil, log)
	return New(engine, evaluator, pf, provider, Config{}, log)
}

func score(id string, overall, drawdown float64) *evaluate.Score {
	return &evaluate.Score{
		StrategyID: id,
		Overall:    overall,
		Metrics: map[string]float64{
			evaluate.MetricSharpe:      1.0,
			evaluate.MetricMaxDrawdown: drawdown,
		},
	}
}

func TestAddStrategyConstructionErrorIsFatal(t *testing.T) {
	sys := newTestSystem(&fakeProvider{})

	failing := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return nil, errors.New("bad params")
	}
	if err := sys.AddStrategy("broken", failing, nil); err == nil {
		t.Fatal("construction failure was not returned")
	}
	if got := sys.Status().ActiveStrategies; got != 0 {
		t.Errorf("failed strategy was registered: %d active, want 0", got)
	}
}

func TestEvaluateStrategyUnknownID(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(40)})
	period := backtest.Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := sys.EvaluateStrategy(context.Background(), "ghost", "TEST", []backtest.Period{period}); err == nil {
		t.Fatal("evaluating an unregistered strategy did not error")
	}
}

func TestEvaluateStrategyKeepsWinner(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(40)})
	ctor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &alternating{id: id}, nil
	}
	if err := sys.AddStrategy("winner", ctor, nil); err != nil {
		t.Fatal(err)
	}

	period := backtest.Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	keep, err := sys.EvaluateStrategy(context.Background(), "winner", "TEST", []backtest.Period{period})
	if err != nil {
		t.Fatal(err)
	}
	if !keep {
		t.Error("a strategy winning every trade should clear the keep threshold")
	}
	if got := sys.Status().States["winner"]; got != StateEvaluated {
		t.Errorf("state = %s, want %s", got, StateEvaluated)
	}
}

func TestEvaluateStrategyDropsLoser(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(40)})
	ctor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: id, signal: 0}, nil
	}
	if err := sys.AddStrategy("idle", ctor, nil); err != nil {
		t.Fatal(err)
	}

	period := backtest.Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	keep, err := sys.EvaluateStrategy(context.Background(), "idle", "TEST", []backtest.Period{period})
	if err != nil {
		t.Fatal(err)
	}
	if keep {
		t.Error("a strategy that never trades should not clear the keep threshold")
	}
}

func TestRecommendationSingleStrategy(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(5)})
	ctor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: id, signal: 1, confidence: 0.9}, nil
	}
	if err := sys.AddStrategy("solo", ctor, nil); err != nil {
		t.Fatal(err)
	}
	sys.Portfolio().Update([]*evaluate.Score{score("solo", 0.6, 0.10)})

	rec := sys.Recommendation(context.Background(), "TEST")
	if rec.Action != domain.ActionBuy {
		t.Errorf("action = %s, want %s", rec.Action, domain.ActionBuy)
	}
	if math.Abs(rec.Confidence-0.9) > 1e-9 {
		t.Errorf("confidence = %v, want 0.9", rec.Confidence)
	}
}

func TestRecommendationBlendsOpposingSignals(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(5)})
	bull := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: id, signal: 1, confidence: 0.8}, nil
	}
	bear := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: id, signal: -1, confidence: 0.5}, nil
	}
	if err := sys.AddStrategy("a", bull, nil); err != nil {
		t.Fatal(err)
	}
	if err := sys.AddStrategy("b", bear, nil); err != nil {
		t.Fatal(err)
	}
	// Inverse-volatility weights 0.6 and 0.4.
	sys.Portfolio().Update([]*evaluate.Score{
		score("a", 0.6, 0.10),
		score("b", 0.6, 0.15),
	})

	rec := sys.Recommendation(context.Background(), "TEST")
	// (0.6*0.8*1 + 0.4*0.5*-1) / 1.0 = 0.28
	if math.Abs(rec.WeightedSignal-0.28) > 1e-9 {
		t.Errorf("weighted signal = %v, want 0.28", rec.WeightedSignal)
	}
	if rec.Action != domain.ActionBuy {
		t.Errorf("action = %s, want %s", rec.Action, domain.ActionBuy)
	}
	if math.Abs(rec.Confidence-0.28) > 1e-9 {
		t.Errorf("confidence = %v, want 0.28", rec.Confidence)
	}
}

func TestRecommendationHoldWhenNoContributors(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(5)})
	rec := sys.Recommendation(context.Background(), "TEST")
	if rec.Action != domain.ActionHold || rec.Confidence != 0 {
		t.Errorf("got %s/%v, want HOLD/0", rec.Action, rec.Confidence)
	}
}

func TestRecommendationHoldOnDataError(t *testing.T) {
	sys := newTestSystem(&fakeProvider{err: errors.New("feed down")})
	ctor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: id, signal: 1, confidence: 1}, nil
	}
	if err := sys.AddStrategy("solo", ctor, nil); err != nil {
		t.Fatal(err)
	}
	sys.Portfolio().Update([]*evaluate.Score{score("solo", 0.6, 0.10)})

	rec := sys.Recommendation(context.Background(), "TEST")
	if rec.Action != domain.ActionHold {
		t.Errorf("action = %s, want HOLD on data failure", rec.Action)
	}
}

func TestRunMaintenanceRetiresAndIsolates(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(40)})
	period := backtest.Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	// Sorts first in the sweep; its tuning hook panics.
	panicCtor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &panicky{alternating{id: id}}, nil
	}
	dudCtor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: id, signal: 0}, nil
	}
	freshCtor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: id, signal: 1, confidence: 1}, nil
	}
	for id, ctor := range map[string]strategy.Constructor{
		"aa-panic": panicCtor,
		"dud":      dudCtor,
		"fresh":    freshCtor,
	} {
		if err := sys.AddStrategy(id, ctor, nil); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	if _, err := sys.EvaluateStrategy(ctx, "aa-panic", "TEST", []backtest.Period{period}); err != nil {
		t.Fatal(err)
	}
	if _, err := sys.EvaluateStrategy(ctx, "dud", "TEST", []backtest.Period{period}); err != nil {
		t.Fatal(err)
	}

	sys.RunMaintenance()

	status := sys.Status()
	if got := status.States["dud"]; got != StateRetired {
		t.Errorf("dud state = %s, want %s despite earlier panic in sweep", got, StateRetired)
	}
	if status.ActiveStrategies != 2 {
		t.Errorf("active strategies = %d, want 2", status.ActiveStrategies)
	}
	if got := status.States["aa-panic"]; got != StateAllocated {
		t.Errorf("aa-panic state = %s, want %s", got, StateAllocated)
	}
	if got := status.States["fresh"]; got != StateRegistered {
		t.Errorf("unevaluated strategy state = %s, want %s", got, StateRegistered)
	}
}

func TestRetiredStrategyStaysOut(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(40)})
	ctor := func(id string, params strategy.Params) (strategy.Strategy, error) {
		return &alternating{id: id}, nil
	}
	if err := sys.AddStrategy("winner", ctor, nil); err != nil {
		t.Fatal(err)
	}
	period := backtest.Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, err := sys.EvaluateStrategy(context.Background(), "winner", "TEST", []backtest.Period{period}); err != nil {
		t.Fatal(err)
	}
	sys.UpdatePortfolio()

	sys.RetireStrategy("winner")
	sys.UpdatePortfolio()

	if got := sys.Status().States["winner"]; got != StateRetired {
		t.Errorf("state = %s, want %s", got, StateRetired)
	}
	if alloc, ok := sys.Portfolio().AllocationFor("winner"); ok && alloc.Weight != 0 {
		t.Errorf("retired strategy re-entered the portfolio with weight %v", alloc.Weight)
	}
}

func TestLifecycleEventsBroadcast(t *testing.T) {
	sys := newTestSystem(&fakeProvider{bars: sawtoothBars(5)})
	id, events := sys.Subscribe(4)
	defer sys.Unsubscribe(id)

	ctor := func(sid string, params strategy.Params) (strategy.Strategy, error) {
		return &scripted{id: sid, signal: 1, confidence: 1}, nil
	}
	if err := sys.AddStrategy("solo", ctor, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-events:
		if e.Type != "strategy_added" || e.StrategyID != "solo" {
			t.Errorf("got event %+v, want strategy_added for solo", e)
		}
	default:
		t.Fatal("no event received after AddStrategy")
	}
}
