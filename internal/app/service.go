// Package service assembles the result server: the result store, the HTTP
// API, the API docs and CORS.
package service

import (
	"context"
	"net/http"
	"sync"

	"github.com/okian/speedsync/internal/adapters/http/api"
	"github.com/okian/speedsync/internal/adapters/http/swagger"
	"github.com/okian/speedsync/internal/adapters/repository"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/rs/cors"
)

// Service implements the API dependencies on top of a repository.Store.
type Service struct {
	mu sync.RWMutex

	store repository.Store

	// Configuration
	driver       string
	dsn          string
	maxBatchSize int
	origins      []string

	// State
	started   bool
	ownsStore bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDatabase selects the storage driver and its data source.
func WithDatabase(driver, dsn string) Option {
	return func(s *Service) {
		if driver != "" {
			s.driver = driver
		}
		if dsn != "" {
			s.dsn = dsn
		}
	}
}

// WithStore uses an already opened store. The Service does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithMaxBatchSize caps the size of one push.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(s *Service) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		driver:       repository.DriverSQLite,
		dsn:          "race_results.db",
		maxBatchSize: 10_000,
		origins:      []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the result store unless one was supplied.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	if s.store == nil {
		store, err := repository.Open(ctx, s.driver, s.dsn, repository.WithLogger(s.logger.Named("store")))
		if err != nil {
			return err
		}
		s.store = store
		s.ownsStore = true
	}

	s.started = true
	s.logger.Info(ctx, "result service started",
		logger.String("driver", s.driver),
		logger.Int("maxBatchSize", s.maxBatchSize),
	)
	return nil
}

// Stop releases the store if the Service opened it.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error(context.Background(), "closing result store failed", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}
	s.started = false
	s.logger.Info(context.Background(), "result service stopped")
}

// Handler returns every route wrapped in CORS.
func (s *Service) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	swagger.Register(ctx, mux)

	l := s.logger
	if l == nil {
		l = logger.Get()
	}
	apiServer := api.NewServer(s, api.WithMaxBatchSize(s.maxBatchSize), api.WithLogger(l.Named("api")))
	apiServer.Register(ctx, mux)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Content-Type", api.ClientIDHeader},
	})
	return c.Handler(mux)
}

func (s *Service) current() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.store == nil {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// InsertBatch stores a pushed batch and returns how many rows were new.
func (s *Service) InsertBatch(ctx context.Context, records []model.FinishRecord) (int, error) {
	store, err := s.current()
	if err != nil {
		return 0, err
	}
	return store.InsertBatch(ctx, records)
}

// ListAll returns every result ordered by finish time.
func (s *Service) ListAll(ctx context.Context) ([]model.FinishRecord, error) {
	store, err := s.current()
	if err != nil {
		return nil, err
	}
	return store.ListAll(ctx)
}

// DeleteByID removes one result.
func (s *Service) DeleteByID(ctx context.Context, id int64) (int64, error) {
	store, err := s.current()
	if err != nil {
		return 0, err
	}
	return store.DeleteByID(ctx, id)
}

// DeleteAll removes every result.
func (s *Service) DeleteAll(ctx context.Context) error {
	store, err := s.current()
	if err != nil {
		return err
	}
	return store.DeleteAll(ctx)
}

// Stats returns the sync-status counters.
func (s *Service) Stats(ctx context.Context) (repository.Stats, error) {
	store, err := s.current()
	if err != nil {
		return repository.Stats{}, err
	}
	return store.Stats(ctx)
}
