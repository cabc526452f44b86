// Package api provides the HTTP and WebSocket edge over the engine's
// strategy store, scanner, allocation optimizer, and performance tracker.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/allocation"
	"github.com/defrost-labs/strategy-engine/internal/coordination"
	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/performance"
	"github.com/defrost-labs/strategy-engine/internal/risk"
	"github.com/defrost-labs/strategy-engine/internal/scanner"
	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// Server is the HTTP/WebSocket API server fronting the engine's components.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	store       *statestore.Store
	scanner     *scanner.Scanner
	allocator   *allocation.Optimizer
	riskManager *risk.Manager
	coordinator *coordination.Engine
	performance *performance.Tracker
	bus         *events.EventBus
}

// Client is a single connected WebSocket subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Message is the WebSocket event envelope.
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Deps bundles every engine component the API surfaces. Store is required.
// A nil Allocator or RiskManager makes its route answer service-unavailable;
// a nil Scanner, Performance or Coordinator makes its route answer with an
// empty list; a nil Bus disables event publication. This lets the API start
// ahead of a still-initializing component in tests.
type Deps struct {
	Store       *statestore.Store
	Scanner     *scanner.Scanner
	Allocator   *allocation.Optimizer
	RiskManager *risk.Manager
	Coordinator *coordination.Engine
	Performance *performance.Tracker
	Bus         *events.EventBus
}

// NewServer builds the API server and its route table.
func NewServer(logger *zap.Logger, config *types.ServerConfig, deps Deps) *Server {
	s := &Server{
		logger:      logger.Named("api"),
		config:      config,
		router:      mux.NewRouter(),
		clients:     make(map[string]*Client),
		store:       deps.Store,
		scanner:     deps.Scanner,
		allocator:   deps.Allocator,
		riskManager: deps.RiskManager,
		coordinator: deps.Coordinator,
		performance: deps.Performance,
		bus:         deps.Bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	if s.bus != nil {
		s.subscribeBusEvents()
	}
	return s
}

// Router exposes the mux.Router so callers can mount additional handlers
// (e.g. the metrics package) before Start.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	r := s.router
	r.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/api/v1/strategies", s.handleCreateStrategy).Methods("POST")
	r.HandleFunc("/api/v1/strategies", s.handleListStrategies).Methods("GET")
	r.HandleFunc("/api/v1/strategies/{id}", s.handleGetStrategy).Methods("GET")
	r.HandleFunc("/api/v1/strategies/{id}/activate", s.handleActivateStrategy).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/pause", s.handlePauseStrategy).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/resume", s.handleResumeStrategy).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/stop", s.handleStopStrategy).Methods("POST")
	r.HandleFunc("/api/v1/strategies/{id}/performance", s.handleStrategyPerformance).Methods("GET")
	r.HandleFunc("/api/v1/strategies/{id}/attribution", s.handleStrategyAttribution).Methods("GET")

	r.HandleFunc("/api/v1/opportunities", s.handleOpportunities).Methods("GET")
	r.HandleFunc("/api/v1/allocation/plan", s.handleAllocationPlan).Methods("POST")
	r.HandleFunc("/api/v1/coordination/history", s.handleCoordinationHistory).Methods("GET")
	r.HandleFunc("/api/v1/risk/portfolio", s.handleRiskPortfolio).Methods("POST")

	r.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server; blocks until it stops or errors.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down, closing every WebSocket client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "time": time.Now().Unix()})
}

type createStrategyRequest struct {
	UserID string               `json:"userId"`
	Config types.StrategyConfig `json:"config"`
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	strat, err := s.store.Create(r.Context(), req.UserID, req.Config, uuid.NewString())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, strat)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	var strats []types.ActiveStrategy
	if userID != "" {
		strats = s.store.ListUser(r.Context(), userID)
	} else {
		strats = s.store.ListAll(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": strats, "count": len(strats)})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	strat, ok := s.store.Get(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("strategy %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, strat)
}

type activateRequest struct {
	CapitalUSD decimal.Decimal `json:"capitalUsd"`
}

func (s *Server) handleActivateStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	now := types.Now()
	if err := s.store.Activate(r.Context(), id, req.CapitalUSD, now); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.runInitialAllocation(r.Context(), id, req.CapitalUSD, now)
	s.publishStatusChange(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "active"})
}

// runInitialAllocation invokes the allocation optimizer for the strategy's
// initial capital placement, the first of the two occasions spec.md section
// 4.5 mandates it run on (the second being a scheduled rebalance, handled by
// the scheduler loop). Failures are logged, not surfaced, since activation
// itself already succeeded.
func (s *Server) runInitialAllocation(ctx context.Context, id string, capitalUSD decimal.Decimal, at types.UnixNano) {
	if s.allocator == nil {
		return
	}
	candidates := []types.Opportunity{}
	if s.scanner != nil {
		candidates = s.scanner.Top(50)
	}
	plan := s.allocator.Build(capitalUSD, candidates)
	userID := ""
	if strat, ok := s.store.Get(ctx, id); ok {
		userID = strat.UserID
	}
	if err := s.store.Apply(ctx, id, func(strat *types.ActiveStrategy) error {
		ts := at
		strat.LastRebalanceTS = &ts
		return nil
	}); err != nil {
		s.logger.Warn("failed to stamp initial allocation timestamp", zap.String("strategyId", id), zap.Error(err))
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.NewCoordinationActionEvent(userID, "initial_allocation", fmt.Sprintf("placed %s across %d allocations on activation", plan.TotalAllocatedUSD, len(plan.Allocations))))
	}
}

func (s *Server) handlePauseStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Pause(r.Context(), id); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.publishStatusChange(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "paused"})
}

func (s *Server) handleResumeStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.riskManager != nil && s.riskManager.IsDisabled(id) {
		s.riskManager.Resume(id)
	}
	if err := s.store.Resume(r.Context(), id, types.Now()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.publishStatusChange(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "active"})
}

func (s *Server) handleStopStrategy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Stop(r.Context(), id); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.publishStatusChange(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "stopped"})
}

func (s *Server) publishStatusChange(ctx context.Context, id string) {
	if s.bus == nil {
		return
	}
	strat, ok := s.store.Get(ctx, id)
	if !ok {
		return
	}
	s.bus.Publish(events.NewStrategyStatusChangedEvent(id, strat.Status, strat.Status))
}

func (s *Server) handleStrategyPerformance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	strat, ok := s.store.Get(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("strategy %s not found", id))
		return
	}
	derived := performance.Derive(strat.ExecutionHistory.Ordered())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": strat.PerformanceMetrics,
		"derived": derived,
	})
}

func (s *Server) handleStrategyAttribution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.performance == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"rows": []performance.AttributionRow{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":  s.performance.Attribution(id),
		"daily": s.performance.DailySeries(id),
	})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"opportunities": []types.Opportunity{}, "count": 0})
		return
	}
	opps := s.scanner.Top(20)
	writeJSON(w, http.StatusOK, map[string]interface{}{"opportunities": opps, "count": len(opps)})
}

type allocationPlanRequest struct {
	TotalCapitalUSD decimal.Decimal     `json:"totalCapitalUsd"`
	Candidates      []types.Opportunity `json:"candidates"`
}

func (s *Server) handleAllocationPlan(w http.ResponseWriter, r *http.Request) {
	if s.allocator == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("allocation optimizer not configured"))
		return
	}
	var req allocationPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	candidates := req.Candidates
	if len(candidates) == 0 && s.scanner != nil {
		candidates = s.scanner.Top(50)
	}
	plan := s.allocator.Build(req.TotalCapitalUSD, candidates)
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleCoordinationHistory(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"actions": []coordination.Action{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": s.coordinator.History()})
}

func (s *Server) handleRiskPortfolio(w http.ResponseWriter, r *http.Request) {
	if s.riskManager == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("risk manager not configured"))
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	strats := s.store.ListUser(r.Context(), req.UserID)
	writeJSON(w, http.StatusOK, s.riskManager.PortfolioMetrics(strats))
}
