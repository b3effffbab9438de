// Package data provides historical bar providers for the backtest engine:
// one reading the local Parquet store, one fetching from the Alpaca
// market-data API with a write-through local cache.
package data

import (
	"context"
	"time"

	"neural/internal/backtest"
	"neural/internal/domain"
	"neural/internal/store"
)

var _ backtest.DataProvider = (*StoreProvider)(nil)

// StoreProvider serves historical bars straight from a local bar store.
type StoreProvider struct {
	store store.BarStore
}

// NewStoreProvider creates a StoreProvider backed by the given store.
func NewStoreProvider(s store.BarStore) *StoreProvider {
	return &StoreProvider{store: s}
}

// LoadHistory returns bars for symbol within [start, end], ascending by
// timestamp. Gaps in the stored series are passed through unchanged.
func (p *StoreProvider) LoadHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return p.store.ReadBars(ctx, symbol, start, end)
}
