package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"neural/internal/backtest"
	"neural/internal/config"
	"neural/internal/data"
	"neural/internal/store"
	"neural/internal/strategy/builtins"
	"neural/internal/util"
)

func main() {
	var (
		cfgPath    = flag.String("config", "config/neural.yaml", "path to config file")
		strategyID = flag.String("strategy", "", "strategy id from config to backtest")
		symbol     = flag.String("symbol", "", "symbol to backtest")
		startStr   = flag.String("start", "", "period start (YYYY-MM-DD)")
		endStr     = flag.String("end", "", "period end (YYYY-MM-DD, default today)")
		splits     = flag.Int("splits", 1, "split the period into n validation windows")
	)
	flag.Parse()

	if *strategyID == "" || *symbol == "" || *startStr == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("parsing start date: %v", err)
	}
	end := time.Now()
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("parsing end date: %v", err)
		}
	}

	var sc *config.StrategyConfig
	for i := range cfg.Strategies {
		if cfg.Strategies[i].ID == *strategyID {
			sc = &cfg.Strategies[i]
			break
		}
	}
	if sc == nil {
		log.Fatalf("strategy %q not found in config", *strategyID)
	}
	strat, err := builtins.New(sc.Type, sc.ID, sc.Params)
	if err != nil {
		log.Fatalf("constructing strategy: %v", err)
	}

	provider := data.NewStoreProvider(store.NewParquetStore(cfg.Storage.DataDir))
	engine := backtest.NewEngine(provider, backtest.Config{
		RiskFreeRate: cfg.Backtest.RiskFreeRate,
		RegimeWindow: cfg.Backtest.RegimeWindow,
		PositionPct:  cfg.Backtest.PositionPct,
	}, logger)

	ctx := context.Background()

	if *splits > 1 {
		report, err := engine.Validate(ctx, strat, *symbol, splitPeriod(start, end, *splits), cfg.Backtest.InitialCapital)
		if err != nil {
			log.Fatalf("validation failed: %v", err)
		}
		printJSON(report)
		return
	}

	result, err := engine.Run(ctx, strat, *symbol, start, end, cfg.Backtest.InitialCapital)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
	// +Inf is not representable in JSON.
	profitFactor := any(result.ProfitFactor)
	if math.IsInf(result.ProfitFactor, 1) {
		profitFactor = "inf"
	}
	printJSON(map[string]any{
		"strategy_id":          result.StrategyID,
		"symbol":               result.Symbol,
		"trades":               len(result.Trades),
		"sharpe_ratio":         result.SharpeRatio,
		"max_drawdown":         result.MaxDrawdown,
		"win_rate":             result.WinRate,
		"profit_factor":        profitFactor,
		"risk_adjusted_return": result.RiskAdjustedReturn,
		"regimes":              result.Regimes,
		"data_insufficient":    result.DataInsufficient,
	})
}

// splitPeriod divides [start, end] into n equal consecutive windows.
func splitPeriod(start, end time.Time, n int) []backtest.Period {
	step := end.Sub(start) / time.Duration(n)
	periods := make([]backtest.Period, 0, n)
	for i := 0; i < n; i++ {
		s := start.Add(time.Duration(i) * step)
		e := s.Add(step)
		if i == n-1 {
			e = end
		}
		periods = append(periods, backtest.Period{Start: s, End: e})
	}
	return periods
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		os.Exit(1)
	}
}
