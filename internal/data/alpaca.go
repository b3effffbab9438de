package data

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"neural/internal/backtest"
	"neural/internal/domain"
	"neural/internal/store"
	"neural/internal/util"
)

var _ backtest.DataProvider = (*AlpacaProvider)(nil)

// Fetch retry parameters.
const (
	fetchAttempts  = 3
	fetchBaseDelay = 500 * time.Millisecond
)

// barFetcher is the slice of the Alpaca market-data client the provider
// uses. It exists so tests can substitute a fake.
type barFetcher interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaProvider fetches daily bars from the Alpaca market-data API. Fetched
// bars are written through to the local bar store so later requests for the
// same symbol can be served offline.
type AlpacaProvider struct {
	client barFetcher
	cache  store.BarStore // may be nil
	log    *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider with the given credentials.
// cache may be nil to disable write-through caching.
func NewAlpacaProvider(apiKey, apiSecret, dataURL string, cache store.BarStore, log *slog.Logger) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		cache:  cache,
		log:    log,
	}
}

// LoadHistory fetches daily bars for symbol within [start, end]. Transient
// API failures are retried with backoff; a persistent failure is returned to
// the caller.
func (p *AlpacaProvider) LoadHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var alpacaBars []marketdata.Bar
	err := util.Retry(ctx, fetchAttempts, fetchBaseDelay, func() error {
		var err error
		alpacaBars, err = p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}

	if p.cache != nil && len(bars) > 0 {
		if err := p.cache.WriteBars(ctx, bars); err != nil {
			p.log.Warn("caching fetched bars", "symbol", symbol, "error", err)
		}
	}
	return bars, nil
}
