package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neural/internal/config"
	"neural/internal/data"
	"neural/internal/store"
	"neural/internal/util"
)

// apiCallsPerMinute stays below the Alpaca free-tier rate limit.
const apiCallsPerMinute = 180

func main() {
	var (
		cfgPath  = flag.String("config", "config/neural.yaml", "path to config file")
		startStr = flag.String("start", "2020-01-01", "history start (YYYY-MM-DD)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	if cfg.Alpaca.APIKey == "" {
		log.Fatal("alpaca credentials required (set APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
	}
	if len(cfg.Symbols) == 0 {
		log.Fatal("no symbols configured")
	}

	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("parsing start date: %v", err)
	}

	barStore := store.NewParquetStore(cfg.Storage.DataDir)
	provider := data.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, barStore, logger)
	limiter := util.NewRateLimiter(apiCallsPerMinute)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	end := time.Now()
	failed := 0
	for _, symbol := range cfg.Symbols {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("gather interrupted", "error", err)
			os.Exit(1)
		}
		// The provider writes fetched bars through to the parquet store.
		bars, err := provider.LoadHistory(ctx, symbol, start, end)
		if err != nil {
			logger.Error("fetching symbol", "symbol", symbol, "error", err)
			failed++
			continue
		}
		logger.Info("symbol gathered", "symbol", symbol, "bars", len(bars))
	}

	logger.Info("gather complete", "symbols", len(cfg.Symbols), "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}
