package httpapi

import (
	"neural/internal/adaptive"
	"neural/internal/domain"
	"neural/internal/portfolio"
)

// AllocationJSON is the wire form of a portfolio allocation.
type AllocationJSON struct {
	StrategyID        string             `json:"strategy_id"`
	Weight            float64            `json:"weight"`
	MaxAllocation     float64            `json:"max_allocation"`
	CurrentAllocation float64            `json:"current_allocation"`
	Metrics           map[string]float64 `json:"metrics"`
	LastUpdate        string             `json:"last_update"`
}

// PortfolioResponse is the payload of GET /api/portfolio.
type PortfolioResponse struct {
	TotalCapital float64                   `json:"total_capital"`
	Metrics      portfolio.Metrics         `json:"metrics"`
	Allocations  map[string]AllocationJSON `json:"allocations"`
}

// RankedJSON is one row of the strategy ranking.
type RankedJSON struct {
	StrategyID string  `json:"strategy_id"`
	Weight     float64 `json:"weight"`
}

// RankingResponse is the payload of GET /api/ranking.
type RankingResponse struct {
	Ranking []RankedJSON `json:"ranking"`
}

// ScoreJSON is the wire form of one evaluation score.
type ScoreJSON struct {
	Overall      float64                   `json:"overall"`
	Consistency  float64                   `json:"consistency"`
	Metrics      map[string]float64        `json:"metrics"`
	Adaptability map[domain.Regime]float64 `json:"market_adaptability"`
	Timestamp    string                    `json:"timestamp"`
}

// ScoresResponse is the payload of GET /api/scores/{id}.
type ScoresResponse struct {
	StrategyID string      `json:"strategy_id"`
	Scores     []ScoreJSON `json:"scores"`
}

// SnapshotJSON is the wire form of one persisted portfolio snapshot.
type SnapshotJSON struct {
	Timestamp        string  `json:"timestamp"`
	TotalCapital     float64 `json:"total_capital"`
	AllocatedCapital float64 `json:"allocated_capital"`
	StrategyCount    int     `json:"strategy_count"`
	Allocations      string  `json:"allocations"`
}

// SnapshotsResponse is the payload of GET /api/snapshots.
type SnapshotsResponse struct {
	Snapshots []SnapshotJSON `json:"snapshots"`
}

// MaintenanceResponse is the payload of POST /api/maintenance.
type MaintenanceResponse struct {
	Status adaptive.Status `json:"status"`
}
