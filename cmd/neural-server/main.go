package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neural/internal/adaptive"
	"neural/internal/backtest"
	"neural/internal/config"
	"neural/internal/data"
	"neural/internal/evaluate"
	"neural/internal/httpapi"
	"neural/internal/portfolio"
	"neural/internal/store"
	"neural/internal/strategy/builtins"
	"neural/internal/util"
)

// evaluationPeriods is the number of trailing quarterly windows each strategy
// is scored over.
const evaluationPeriods = 4

func main() {
	cfgPath := "config/neural.yaml"
	if p := os.Getenv("NEURAL_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Storage.
	barStore := store.NewParquetStore(cfg.Storage.DataDir)
	var scoreStore store.ScoreStore
	var snapshotStore store.SnapshotStore
	if cfg.Storage.SQLitePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening sqlite store: %v", err)
		}
		defer db.Close()
		scoreStore = db
		snapshotStore = db
	}

	// Data provider: Alpaca with a local write-through cache when credentials
	// are configured, otherwise the local store alone.
	var provider backtest.DataProvider
	if cfg.Alpaca.APIKey != "" {
		provider = data.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, barStore, logger)
		logger.Info("using alpaca data provider with local cache")
	} else {
		provider = data.NewStoreProvider(barStore)
		logger.Info("using local store data provider")
	}

	// Core components.
	engine := backtest.NewEngine(provider, backtest.Config{
		RiskFreeRate: cfg.Backtest.RiskFreeRate,
		RegimeWindow: cfg.Backtest.RegimeWindow,
		PositionPct:  cfg.Backtest.PositionPct,
	}, logger)
	evaluator := evaluate.NewEvaluator(scoreStore, logger)
	pf := portfolio.New(portfolio.Config{
		InitialCapital: cfg.Portfolio.InitialCapital,
		MinScore:       cfg.Portfolio.MinScore,
		MaxWeight:      cfg.Portfolio.MaxWeight,
	}, snapshotStore, logger)
	system := adaptive.New(engine, evaluator, pf, provider, adaptive.Config{
		InitialCapital: cfg.Backtest.InitialCapital,
		PeriodTimeout:  time.Duration(cfg.Backtest.PeriodTimeoutSec) * time.Second,
	}, logger)

	// Register configured strategies. Bad parameters are fatal at startup.
	for _, sc := range cfg.Strategies {
		if err := system.AddStrategy(sc.ID, builtins.Constructor(sc.Type), sc.Params); err != nil {
			log.Fatalf("registering strategy %s: %v", sc.ID, err)
		}
	}

	// Initial evaluation sweep, then the periodic maintenance loop.
	evaluateAll(ctx, system, cfg, logger)
	system.UpdatePortfolio()

	go maintenanceLoop(ctx, system, cfg, logger)

	// HTTP API + WebSocket event stream.
	api := httpapi.NewServer(system, snapshotStore, logger)
	go api.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("neural-server listening", "addr", addr, "strategies", len(cfg.Strategies))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("neural-server stopped")
}

// evaluateAll scores every configured strategy on every configured symbol
// over the trailing quarterly windows. Evaluation failures are logged and
// skipped; scoring continues for the rest.
func evaluateAll(ctx context.Context, system *adaptive.System, cfg *config.Config, logger *slog.Logger) {
	periods := trailingQuarters(time.Now(), evaluationPeriods)
	for _, sc := range cfg.Strategies {
		for _, symbol := range cfg.Symbols {
			keep, err := system.EvaluateStrategy(ctx, sc.ID, symbol, periods)
			if err != nil {
				logger.Warn("evaluation failed", "strategy", sc.ID, "symbol", symbol, "error", err)
				continue
			}
			logger.Info("evaluation complete", "strategy", sc.ID, "symbol", symbol, "keep", keep)
		}
	}
}

// maintenanceLoop re-evaluates and sweeps the strategy pool on the
// configured interval.
func maintenanceLoop(ctx context.Context, system *adaptive.System, cfg *config.Config, logger *slog.Logger) {
	interval := time.Duration(cfg.Maintenance.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evaluateAll(ctx, system, cfg, logger)
			system.RunMaintenance()
		}
	}
}

// trailingQuarters returns n consecutive ~91-day windows ending at now,
// oldest first.
func trailingQuarters(now time.Time, n int) []backtest.Period {
	const quarter = 91 * 24 * time.Hour
	periods := make([]backtest.Period, 0, n)
	end := now
	for i := 0; i < n; i++ {
		periods = append(periods, backtest.Period{Start: end.Add(-quarter), End: end})
		end = end.Add(-quarter)
	}
	// Reverse to oldest-first.
	for i, j := 0, len(periods)-1; i < j; i, j = i+1, j-1 {
		periods[i], periods[j] = periods[j], periods[i]
	}
	return periods
}
