// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/speedsync/internal/adapters/repository"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	InsertBatch(ctx context.Context, records []model.FinishRecord) (int, error)
	ListAll(ctx context.Context) ([]model.FinishRecord, error)
	DeleteByID(ctx context.Context, id int64) (int64, error)
	DeleteAll(ctx context.Context) error
	Stats(ctx context.Context) (repository.Stats, error)
}

const defaultMaxBatchSize = 10_000

// Option configures a Server.
type Option func(*Server)

// WithMaxBatchSize caps the number of records accepted by one push.
func WithMaxBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server wires HTTP routes for the results API.
type Server struct {
	maxBatchSize int
	log          logger.Logger

	healthHandler  *HealthHandler
	resultsHandler *ResultsHandler
	adminHandler   *AdminHandler
	statusHandler  *StatusHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		maxBatchSize: defaultMaxBatchSize,
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.resultsHandler = NewResultsHandler(deps, s.maxBatchSize, s.log)
	s.adminHandler = NewAdminHandler(deps, s.log)
	s.statusHandler = NewStatusHandler(deps, s.log)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.instrument("healthz", s.healthHandler.HandleHealth))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)

	mux.HandleFunc("GET /results", s.instrument("results", s.resultsHandler.HandleList))
	mux.HandleFunc("POST /results", s.instrument("results", s.resultsHandler.HandlePush))
	mux.HandleFunc("DELETE /results", s.instrument("results", s.resultsHandler.HandleClear))
	mux.HandleFunc("DELETE /api/results/{id}", s.instrument("admin_results", s.adminHandler.HandleDelete))
	mux.HandleFunc("GET /api/admin/results", s.instrument("admin_results", s.adminHandler.HandleList))
	mux.HandleFunc("GET /api/debug/sync-status", s.instrument("sync_status", s.statusHandler.HandleSyncStatus))
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Success: false, Error: publicMessage(err), Code: code})
}
