// Package store defines storage interfaces for persisting and retrieving
// historical bars, strategy score history, and portfolio snapshots.
package store

import (
	"context"
	"time"

	"neural/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end],
	// ascending by timestamp.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in storage.
	ListSymbols(ctx context.Context) ([]string, error)
}

// ScoreRecord is the persisted form of a strategy evaluation. Metric maps
// are stored as JSON documents.
type ScoreRecord struct {
	StrategyID       string
	Overall          float64
	Consistency      float64
	MetricsJSON      string
	AdaptabilityJSON string
	CreatedAt        time.Time
}

// ScoreStore persists the append-only per-strategy score history.
type ScoreStore interface {
	// SaveScore appends a score record for a strategy.
	SaveScore(ctx context.Context, rec *ScoreRecord) error

	// ListScores returns the most recent score records for a strategy,
	// newest first, up to limit.
	ListScores(ctx context.Context, strategyID string, limit int) ([]ScoreRecord, error)
}

// SnapshotRecord is the persisted form of a portfolio snapshot. The full
// allocation map is stored as a JSON document.
type SnapshotRecord struct {
	Timestamp        time.Time
	TotalCapital     float64
	AllocatedCapital float64
	StrategyCount    int
	AllocationsJSON  string
}

// SnapshotStore persists the portfolio audit trail.
type SnapshotStore interface {
	// SaveSnapshot appends a portfolio snapshot.
	SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error

	// ListSnapshots returns the most recent snapshots, newest first, up to
	// limit.
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
}
