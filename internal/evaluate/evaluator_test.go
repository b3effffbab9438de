package evaluate

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
	"neural/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memScoreStore records saved scores in memory.
type memScoreStore struct {
	saved []*store.ScoreRecord
	err   error
}

func (m *memScoreStore) SaveScore(ctx context.Context, rec *store.ScoreRecord) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, rec)
	return nil
}

func (m *memScoreStore) ListScores(ctx context.Context, strategyID string, limit int) ([]store.ScoreRecord, error) {
	return nil, nil
}

func result(id string, sharpe, drawdown, winRate, pf, rar float64, regime domain.Regime) *backtest.Result {
	return &backtest.Result{
		StrategyID:         id,
		Symbol:             "TEST",
		SharpeRatio:        sharpe,
		MaxDrawdown:        drawdown,
		WinRate:            winRate,
		ProfitFactor:       pf,
		RiskAdjustedReturn: rar,
		Regimes: map[string]domain.Regime{
			backtest.SampleStart:  regime,
			backtest.SampleMiddle: regime,
			backtest.SampleEnd:    regime,
		},
	}
}

func TestEvaluateNoUsableResults(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())

	if _, err := ev.Evaluate(nil); !errors.Is(err, ErrNoResults) {
		t.Errorf("got %v, want ErrNoResults for empty input", err)
	}

	insufficient := &backtest.Result{StrategyID: "x", DataInsufficient: true}
	if _, err := ev.Evaluate([]*backtest.Result{insufficient}); !errors.Is(err, ErrNoResults) {
		t.Errorf("got %v, want ErrNoResults when every period is insufficient", err)
	}
}

func TestEvaluateAveragesAndCapsProfitFactor(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())

	results := []*backtest.Result{
		result("s", 1.0, 0.10, 0.6, math.Inf(1), 0.5, domain.RegimeBull),
		result("s", 2.0, 0.20, 0.4, 2.0, 0.7, domain.RegimeBull),
	}
	score, err := ev.Evaluate(results)
	if err != nil {
		t.Fatal(err)
	}

	if got := score.Metrics[MetricSharpe]; math.Abs(got-1.5) > 1e-9 {
		t.Errorf("avg sharpe = %v, want 1.5", got)
	}
	// +Inf capped to 3.0 before averaging: (3.0+2.0)/2.
	if got := score.Metrics[MetricProfitFactor]; math.Abs(got-2.5) > 1e-9 {
		t.Errorf("avg profit factor = %v, want 2.5", got)
	}
}

func TestEvaluateExcludesInsufficientResults(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())

	results := []*backtest.Result{
		result("s", 2.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull),
		{StrategyID: "s", DataInsufficient: true},
	}
	score, err := ev.Evaluate(results)
	if err != nil {
		t.Fatal(err)
	}
	if got := score.Metrics[MetricSharpe]; math.Abs(got-2.0) > 1e-9 {
		t.Errorf("avg sharpe = %v, want 2.0 with the flagged result excluded", got)
	}
}

func TestMarketAdaptabilityBuckets(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())

	results := []*backtest.Result{
		result("s", 2.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull),
		result("s", 1.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBear),
	}
	score, err := ev.Evaluate(results)
	if err != nil {
		t.Fatal(err)
	}

	if got := score.MarketAdaptability[domain.RegimeBull]; math.Abs(got-2.0) > 1e-9 {
		t.Errorf("bull adaptability = %v, want 2.0", got)
	}
	if got := score.MarketAdaptability[domain.RegimeBear]; math.Abs(got-1.0) > 1e-9 {
		t.Errorf("bear adaptability = %v, want 1.0", got)
	}
	if got := score.MarketAdaptability[domain.RegimeSideways]; got != 0 {
		t.Errorf("unobserved regime adaptability = %v, want 0", got)
	}
	if len(score.MarketAdaptability) != len(domain.AllRegimes) {
		t.Errorf("adaptability covers %d regimes, want %d", len(score.MarketAdaptability), len(domain.AllRegimes))
	}
}

func TestConsistencyScoreBounds(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())

	single := []*backtest.Result{result("s", 1.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull)}
	score, err := ev.Evaluate(single)
	if err != nil {
		t.Fatal(err)
	}
	if score.Consistency != 0 {
		t.Errorf("consistency = %v, want 0 for a single run", score.Consistency)
	}

	pair := []*backtest.Result{
		result("s", 1.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull),
		result("s", 1.2, 0.1, 0.5, 1.4, 0.5, domain.RegimeBull),
	}
	score, err = ev.Evaluate(pair)
	if err != nil {
		t.Fatal(err)
	}
	if score.Consistency <= 0 || score.Consistency > 1 {
		t.Errorf("consistency = %v, want in (0, 1]", score.Consistency)
	}

	// Identical runs are maximally consistent.
	identical := []*backtest.Result{
		result("s", 1.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull),
		result("s", 1.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull),
	}
	score, err = ev.Evaluate(identical)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(score.Consistency-1) > 1e-9 {
		t.Errorf("consistency = %v, want 1 for identical runs", score.Consistency)
	}
}

func TestEvaluatePersistsScore(t *testing.T) {
	ss := &memScoreStore{}
	ev := NewEvaluator(ss, testLogger())

	if _, err := ev.Evaluate([]*backtest.Result{result("s", 1.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull)}); err != nil {
		t.Fatal(err)
	}
	if len(ss.saved) != 1 {
		t.Fatalf("got %d persisted scores, want 1", len(ss.saved))
	}
	if ss.saved[0].StrategyID != "s" {
		t.Errorf("persisted strategy = %q, want s", ss.saved[0].StrategyID)
	}
}

func TestEvaluateSurvivesStoreFailure(t *testing.T) {
	ev := NewEvaluator(&memScoreStore{err: errors.New("disk full")}, testLogger())

	score, err := ev.Evaluate([]*backtest.Result{result("s", 1.0, 0.1, 0.6, 1.5, 0.5, domain.RegimeBull)})
	if err != nil {
		t.Fatalf("store failure must not fail the evaluation: %v", err)
	}
	if _, ok := ev.Latest("s"); !ok || score == nil {
		t.Error("score not recorded in memory after store failure")
	}
}

func TestIsDecliningNegativeSlope(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())
	ev.history["s"] = scoresFromOveralls("s", []float64{0.5, 0.45, 0.38, 0.30, 0.25})

	if !ev.IsDeclining("s", 5) {
		t.Error("steadily falling history not reported as declining")
	}
	if ev.IsDeclining("s", 6) {
		t.Error("history shorter than the window reported declining")
	}
}

func TestIsDecliningRisingHistory(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())
	ev.history["s"] = scoresFromOveralls("s", []float64{0.3, 0.4, 0.5, 0.6, 0.7})

	if ev.IsDeclining("s", 5) {
		t.Error("rising history reported as declining")
	}
}

func TestShouldRetire(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())

	if ev.ShouldRetire("unknown") {
		t.Error("strategy with no history retired")
	}

	ev.history["low"] = scoresFromOveralls("low", []float64{0.25})
	if !ev.ShouldRetire("low") {
		t.Error("latest score below 0.3 did not trigger retirement")
	}

	ev.history["declining"] = scoresFromOveralls("declining", []float64{0.5, 0.45, 0.38, 0.30, 0.25})
	if !ev.ShouldRetire("declining") {
		t.Error("declining history did not trigger retirement")
	}

	ev.history["weak"] = scoresFromOveralls("weak", []float64{0.39, 0.38, 0.37})
	if !ev.ShouldRetire("weak") {
		t.Error("three consecutive sub-0.4 scores did not trigger retirement")
	}

	ev.history["healthy"] = scoresFromOveralls("healthy", []float64{0.6, 0.62, 0.61})
	if ev.ShouldRetire("healthy") {
		t.Error("healthy strategy retired")
	}
}

func TestTopStrategiesOrderAndTieBreak(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())
	ev.latest = map[string]*Score{
		"b": {StrategyID: "b", Overall: 0.5},
		"a": {StrategyID: "a", Overall: 0.5},
		"c": {StrategyID: "c", Overall: 0.8},
	}

	top := ev.TopStrategies(2)
	if len(top) != 2 {
		t.Fatalf("got %d strategies, want 2", len(top))
	}
	if top[0].StrategyID != "c" || top[1].StrategyID != "a" {
		t.Errorf("order = [%s, %s], want [c, a]", top[0].StrategyID, top[1].StrategyID)
	}
}

func TestHistoryIsCopied(t *testing.T) {
	ev := NewEvaluator(nil, testLogger())
	ev.history["s"] = scoresFromOveralls("s", []float64{0.5, 0.6})

	h := ev.History("s")
	h[0] = nil
	if ev.history["s"][0] == nil {
		t.Error("History returned the internal slice, not a copy")
	}
}

func scoresFromOveralls(id string, overalls []float64) []*Score {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	scores := make([]*Score, len(overalls))
	for i, o := range overalls {
		scores[i] = &Score{StrategyID: id, Overall: o, Timestamp: base.AddDate(0, 0, i)}
	}
	return scores
}
