// Package api exposes the read-only query surface over the event log,
// pool registry and positions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"solana-lending-indexer/internal/domain"
	"solana-lending-indexer/internal/observability"
	"solana-lending-indexer/internal/storage"
)

// Server serves indexed state as JSON. All endpoints are read-only.
type Server struct {
	eventLog  storage.EventLogStore
	pools     storage.PoolStore
	positions storage.PositionStore
	logger    *log.Logger
}

// ServerOptions contains configuration for creating a Server.
type ServerOptions struct {
	EventLog  storage.EventLogStore
	Pools     storage.PoolStore
	Positions storage.PositionStore
	Logger    *log.Logger
}

// NewServer creates a new query server.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		eventLog:  opts.EventLog,
		pools:     opts.Pools,
		positions: opts.Positions,
		logger:    logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /pools", s.handlePools)
	mux.HandleFunc("GET /pools/{address}", s.handlePoolByAddress)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /positions/{user}/{pool}", s.handlePositionByKey)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleEvents serves GET /events with optional user, pool, eventType and
// signature query parameters, ANDed together.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := domain.EventFilter{
		User:      r.URL.Query().Get("user"),
		Pool:      r.URL.Query().Get("pool"),
		Signature: r.URL.Query().Get("signature"),
	}

	if kind := r.URL.Query().Get("eventType"); kind != "" {
		k := domain.EventKind(kind)
		if !k.IsValid() {
			s.writeError(w, http.StatusBadRequest, "unknown eventType: "+kind)
			return
		}
		filter.Kind = k
	}

	events, err := s.eventLog.Query(r.Context(), filter)
	if err != nil {
		s.internalError(w, r.Context(), "query events", err)
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handlePools serves GET /pools.
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.pools.ListAll(r.Context())
	if err != nil {
		s.internalError(w, r.Context(), "list pools", err)
		return
	}

	resp := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		resp = append(resp, toPoolResponse(p))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handlePoolByAddress serves GET /pools/{address}.
func (s *Server) handlePoolByAddress(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	pool, err := s.pools.GetByAddress(r.Context(), address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "pool not found: "+address)
			return
		}
		s.internalError(w, r.Context(), "get pool", err)
		return
	}

	s.writeJSON(w, http.StatusOK, toPoolResponse(pool))
}

// handlePositions serves GET /positions with optional user and pool
// query parameters.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	pool := r.URL.Query().Get("pool")

	var (
		positions []*domain.Position
		err       error
	)
	switch {
	case user != "" && pool != "":
		var p *domain.Position
		p, err = s.positions.GetByUserAndPool(r.Context(), user, pool)
		if err == nil {
			positions = []*domain.Position{p}
		} else if errors.Is(err, storage.ErrNotFound) {
			positions, err = nil, nil
		}
	case user != "":
		positions, err = s.positions.ListByUser(r.Context(), user)
	case pool != "":
		positions, err = s.positions.ListByPool(r.Context(), pool)
	default:
		positions, err = s.positions.ListAll(r.Context())
	}
	if err != nil {
		s.internalError(w, r.Context(), "list positions", err)
		return
	}

	resp := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		resp = append(resp, toPositionResponse(p))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handlePositionByKey serves GET /positions/{user}/{pool}.
func (s *Server) handlePositionByKey(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	pool := r.PathValue("pool")

	position, err := s.positions.GetByUserAndPool(r.Context(), user, pool)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "position not found: "+user+"/"+pool)
			return
		}
		s.internalError(w, r.Context(), "get position", err)
		return
	}

	s.writeJSON(w, http.StatusOK, toPositionResponse(position))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("[api] write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Printf("[api] %s: %v", op, err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

// Response DTOs. Amounts are serialized as strings so u64 balances
// survive JSON consumers that parse numbers as float64.

type eventResponse struct {
	ID               int64          `json:"id"`
	Kind             string         `json:"eventType"`
	User             *string        `json:"user,omitempty"`
	Pool             *string        `json:"pool,omitempty"`
	Mint             *string        `json:"mint,omitempty"`
	Signature        string         `json:"signature"`
	Slot             int64          `json:"slot"`
	ObservedAt       int64          `json:"observedAt"`
	Amount           uint64         `json:"amount,string"`
	Borrower         *string        `json:"borrower,omitempty"`
	DebtPool         *string        `json:"debtPool,omitempty"`
	CollateralPool   *string        `json:"collateralPool,omitempty"`
	DebtRepaid       uint64         `json:"debtRepaid,string"`
	CollateralSeized uint64         `json:"collateralSeized,string"`
	Raw              map[string]any `json:"raw,omitempty"`
}

func toEventResponse(e *domain.NormalizedEvent) eventResponse {
	return eventResponse{
		ID:               e.ID,
		Kind:             e.Kind.String(),
		User:             e.User,
		Pool:             e.Pool,
		Mint:             e.Mint,
		Signature:        e.Signature,
		Slot:             e.Slot,
		ObservedAt:       e.ObservedAt,
		Amount:           e.Amount,
		Borrower:         e.Borrower,
		DebtPool:         e.DebtPool,
		CollateralPool:   e.CollateralPool,
		DebtRepaid:       e.DebtRepaid,
		CollateralSeized: e.CollateralSeized,
		Raw:              e.Raw,
	}
}

type poolResponse struct {
	PoolAddress string `json:"poolAddress"`
	Mint        string `json:"mint"`
	CreatedAt   int64  `json:"createdAt"`
}

func toPoolResponse(p *domain.Pool) poolResponse {
	return poolResponse{
		PoolAddress: p.PoolAddress,
		Mint:        p.Mint,
		CreatedAt:   p.CreatedAt,
	}
}

type positionResponse struct {
	User            string `json:"user"`
	Pool            string `json:"pool"`
	Mint            string `json:"mint"`
	DepositedAmount uint64 `json:"depositedAmount,string"`
	BorrowedAmount  uint64 `json:"borrowedAmount,string"`
	LastUpdated     int64  `json:"lastUpdated"`
}

func toPositionResponse(p *domain.Position) positionResponse {
	return positionResponse{
		User:            p.User,
		Pool:            p.Pool,
		Mint:            p.Mint,
		DepositedAmount: p.DepositedAmount,
		BorrowedAmount:  p.BorrowedAmount,
		LastUpdated:     p.LastUpdated,
	}
}
