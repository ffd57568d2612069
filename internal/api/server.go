// Package api exposes the read-only HTTP and WebSocket surface of the
// signal engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/goldsight/trading-backend/internal/feedback"
	"github.com/goldsight/trading-backend/internal/scheduler"
	"github.com/goldsight/trading-backend/pkg/types"
)

const (
	defaultSignalLimit   = 20
	defaultBacktestLimit = 20
	maxListLimit         = 200
)

// Store is the subset of the data layer the API reads from.
type Store interface {
	ActiveSignals(ctx context.Context) ([]types.Signal, error)
	RecentSignals(ctx context.Context, limit int) ([]types.Signal, error)
	RecentBacktests(ctx context.Context, limit int) ([]types.BacktestRecord, error)
}

// BreakerSource reports the circuit breaker state.
type BreakerSource interface {
	Status() feedback.BreakerStatus
}

// HealthSource reports scheduled job health.
type HealthSource interface {
	Health() []scheduler.JobHealth
}

// Server serves the status API and the event stream.
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server

	store   Store
	breaker BreakerSource
	jobs    HealthSource
	hub     *Hub

	startedAt time.Time
}

// NewServer wires the router. metricsHandler serves /metrics and may
// be nil; breaker and jobs may be nil when those subsystems are not
// running, their status fields are then omitted.
func NewServer(config types.ServerConfig, store Store, breaker BreakerSource, jobs HealthSource, metricsHandler http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		logger:    logger.Named("api"),
		config:    config,
		router:    mux.NewRouter(),
		store:     store,
		breaker:   breaker,
		jobs:      jobs,
		hub:       NewHub(logger),
		startedAt: time.Now(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/signals", s.handleSignals).Methods(http.MethodGet)
	s.router.HandleFunc("/api/backtests", s.handleBacktests).Methods(http.MethodGet)
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)

	return s
}

// Hub returns the WebSocket hub for event publishers.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the handler without the CORS wrapper, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the hub and the HTTP listener. Blocks until the listener
// stops.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

type statusResponse struct {
	Breaker       *feedback.BreakerStatus `json:"breaker,omitempty"`
	Jobs          []scheduler.JobHealth   `json:"jobs,omitempty"`
	ActiveSignals []types.Signal          `json:"activeSignals"`
	Clients       int                     `json:"wsClients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ActiveSignals(r.Context())
	if err != nil {
		s.logger.Error("failed to load active signals", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load active signals")
		return
	}
	if active == nil {
		active = []types.Signal{}
	}

	resp := statusResponse{
		ActiveSignals: active,
		Clients:       s.hub.ClientCount(),
	}
	if s.breaker != nil {
		status := s.breaker.Status()
		resp.Breaker = &status
	}
	if s.jobs != nil {
		resp.Jobs = s.jobs.Health()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		signals, err := s.store.ActiveSignals(r.Context())
		if err != nil {
			s.logger.Error("failed to load active signals", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load signals")
			return
		}
		writeList(w, "signals", signals)
		return
	}

	limit, err := parseLimit(r, defaultSignalLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signals, err := s.store.RecentSignals(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load signals", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load signals")
		return
	}
	writeList(w, "signals", signals)
}

func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultBacktestLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.RecentBacktests(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load backtests", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load backtests")
		return
	}
	writeList(w, "backtests", records)
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeList[T any](w http.ResponseWriter, key string, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		key:     items,
		"count": len(items),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
