// Package httpapi serves the engine's read API and maintenance trigger over
// HTTP, plus a WebSocket stream of lifecycle events.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"neural/internal/adaptive"
	"neural/internal/store"
)

// defaultHistoryLimit bounds list endpoints when no limit query is given.
const defaultHistoryLimit = 50

// Server exposes the adaptive system over HTTP. The snapshot store may be
// nil, in which case /api/snapshots serves an empty list.
type Server struct {
	system    *adaptive.System
	snapshots store.SnapshotStore
	hub       *Hub
	log       *slog.Logger
}

// NewServer creates a Server around the adaptive system.
func NewServer(system *adaptive.System, snapshots store.SnapshotStore, log *slog.Logger) *Server {
	return &Server{
		system:    system,
		snapshots: snapshots,
		hub:       NewHub(system, log),
		log:       log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/ranking", s.handleRanking)
	mux.HandleFunc("GET /api/scores/{id}", s.handleScores)
	mux.HandleFunc("GET /api/recommendation/{symbol}", s.handleRecommendation)
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("POST /api/maintenance", s.handleMaintenance)
	mux.HandleFunc("GET /ws", s.hub.HandleWS)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// Run starts the event hub pump. It blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseLimit extracts the "limit" query param with a sane default.
func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultHistoryLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return n
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.system.Status())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	pf := s.system.Portfolio()

	allocations := make(map[string]AllocationJSON)
	for id, alloc := range pf.Allocations() {
		allocations[id] = AllocationJSON{
			StrategyID:        alloc.StrategyID,
			Weight:            alloc.Weight,
			MaxAllocation:     alloc.MaxAllocation,
			CurrentAllocation: alloc.CurrentAllocation,
			Metrics:           alloc.Metrics,
			LastUpdate:        alloc.LastUpdate.Format(time.RFC3339),
		}
	}

	writeJSON(w, PortfolioResponse{
		TotalCapital: pf.CurrentCapital(),
		Metrics:      pf.PortfolioMetrics(),
		Allocations:  allocations,
	})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	ranking := s.system.Portfolio().Ranking()
	rows := make([]RankedJSON, 0, len(ranking))
	for _, rk := range ranking {
		rows = append(rows, RankedJSON{StrategyID: rk.StrategyID, Weight: rk.Weight})
	}
	writeJSON(w, RankingResponse{Ranking: rows})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "strategy id required")
		return
	}

	history := s.system.Evaluator().History(id)
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, "no scores for strategy "+id)
		return
	}

	scores := make([]ScoreJSON, 0, len(history))
	for _, sc := range history {
		scores = append(scores, ScoreJSON{
			Overall:      sc.Overall,
			Consistency:  sc.Consistency,
			Metrics:      sc.Metrics,
			Adaptability: sc.MarketAdaptability,
			Timestamp:    sc.Timestamp.Format(time.RFC3339),
		})
	}
	writeJSON(w, ScoresResponse{StrategyID: id, Scores: scores})
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	writeJSON(w, s.system.Recommendation(r.Context(), symbol))
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	resp := SnapshotsResponse{Snapshots: []SnapshotJSON{}}
	if s.snapshots == nil {
		writeJSON(w, resp)
		return
	}

	records, err := s.snapshots.ListSnapshots(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	for _, rec := range records {
		resp.Snapshots = append(resp.Snapshots, SnapshotJSON{
			Timestamp:        rec.Timestamp.Format(time.RFC3339),
			TotalCapital:     rec.TotalCapital,
			AllocatedCapital: rec.AllocatedCapital,
			StrategyCount:    rec.StrategyCount,
			Allocations:      rec.AllocationsJSON,
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	s.system.RunMaintenance()
	writeJSON(w, MaintenanceResponse{Status: s.system.Status()})
}
