package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ ScoreStore = (*SQLiteStore)(nil)
var _ SnapshotStore = (*SQLiteStore)(nil)

// SQLiteStore implements ScoreStore and SnapshotStore backed by a SQLite
// database. It holds the audit trail of the adaptive learning loop: every
// strategy evaluation and every portfolio mutation.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS strategy_scores (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id   TEXT    NOT NULL,
	overall       REAL    NOT NULL,
	consistency   REAL    NOT NULL,
	metrics       TEXT    NOT NULL,
	adaptability  TEXT    NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scores_strategy ON strategy_scores(strategy_id, created_at);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at          INTEGER NOT NULL,
	total_capital     REAL    NOT NULL,
	allocated_capital REAL    NOT NULL,
	strategy_count    INTEGER NOT NULL,
	allocations       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON portfolio_snapshots(taken_at);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ScoreStore implementation
// ---------------------------------------------------------------------------

// SaveScore appends a score record for a strategy.
func (s *SQLiteStore) SaveScore(ctx context.Context, rec *ScoreRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_scores (strategy_id, overall, consistency, metrics, adaptability, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.StrategyID, rec.Overall, rec.Consistency, rec.MetricsJSON, rec.AdaptabilityJSON,
		rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting score for %s: %w", rec.StrategyID, err)
	}
	return nil
}

// ListScores returns the most recent score records for a strategy, newest
// first, up to limit.
func (s *SQLiteStore) ListScores(ctx context.Context, strategyID string, limit int) ([]ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy_id, overall, consistency, metrics, adaptability, created_at
		 FROM strategy_scores
		 WHERE strategy_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		strategyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying scores for %s: %w", strategyID, err)
	}
	defer rows.Close()

	var records []ScoreRecord
	for rows.Next() {
		var rec ScoreRecord
		var createdAt int64
		if err := rows.Scan(&rec.StrategyID, &rec.Overall, &rec.Consistency,
			&rec.MetricsJSON, &rec.AdaptabilityJSON, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// SaveSnapshot appends a portfolio snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (taken_at, total_capital, allocated_capital, strategy_count, allocations)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixMilli(), rec.TotalCapital, rec.AllocatedCapital,
		rec.StrategyCount, rec.AllocationsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting portfolio snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the most recent snapshots, newest first, up to limit.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT taken_at, total_capital, allocated_capital, strategy_count, allocations
		 FROM portfolio_snapshots
		 ORDER BY taken_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying portfolio snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var takenAt int64
		if err := rows.Scan(&takenAt, &rec.TotalCapital, &rec.AllocatedCapital,
			&rec.StrategyCount, &rec.AllocationsJSON); err != nil {
			return nil, err
		}
		rec.Timestamp = time.UnixMilli(takenAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
