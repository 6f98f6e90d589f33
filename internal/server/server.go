// Package server provides the HTTP API for casepilot.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/casepilot/internal/config"
	"github.com/hyperjump/casepilot/internal/generation"
	"github.com/hyperjump/casepilot/internal/indexer"
	"github.com/hyperjump/casepilot/internal/retrieval"
	"github.com/hyperjump/casepilot/internal/storage"
	"go.uber.org/zap"
)

// VectorStats reports on the embedding index for /status.
type VectorStats interface {
	Size(ctx context.Context) (int, error)
	StoreType() string
}

// Server is the HTTP server for the casepilot API.
type Server struct {
	solutions *generation.Orchestrator
	engine    *retrieval.Engine
	importer  *indexer.Importer
	storage   storage.Storage
	vectors   VectorStats
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server

	// Library imports run in the background, one at a time.
	baseCtx    context.Context
	cancel     context.CancelFunc
	importMu   sync.Mutex
	importing  bool
	lastImport *importStatus
	importWG   sync.WaitGroup
}

type importStatus struct {
	Directory  string                `json:"directory"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Report     *indexer.ImportReport `json:"report,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// NewServer creates a server with the given dependencies.
func NewServer(
	solutions *generation.Orchestrator,
	engine *retrieval.Engine,
	importer *indexer.Importer,
	store storage.Storage,
	vectors VectorStats,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		solutions: solutions,
		engine:    engine,
		importer:  importer,
		storage:   store,
		vectors:   vectors,
		config:    cfg,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Routes builds the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/solutions", func(r chi.Router) {
			r.Post("/generate", s.handleGenerate)
			r.Get("/", s.handleListSolutions)
			r.Get("/{id}", s.handleGetSolution)
			r.Post("/{id}/chat", s.handleChat)
			r.Post("/{id}/cancel", s.handleCancel)
		})
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", s.handleListCases)
			r.Get("/search", s.handleSearchCases)
			r.Post("/import", s.handleImport)
			r.Get("/{id}", s.handleGetCase)
			r.Delete("/{id}", s.handleDeleteCase)
		})
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server and aborts a running library import.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.importWG.Wait()
	return err
}

// startImport launches a library import unless one is already running.
func (s *Server) startImport(dir string) (*importStatus, bool) {
	s.importMu.Lock()
	defer s.importMu.Unlock()
	if s.importing {
		cp := *s.lastImport
		return &cp, false
	}
	st := &importStatus{Directory: dir, StartedAt: time.Now()}
	s.importing = true
	s.lastImport = st
	s.importWG.Add(1)

	go func() {
		defer s.importWG.Done()
		report, err := s.importer.ImportLibrary(s.baseCtx, dir)
		finished := time.Now()

		s.importMu.Lock()
		defer s.importMu.Unlock()
		s.importing = false
		st.FinishedAt = &finished
		st.Report = report
		if err != nil {
			st.Error = err.Error()
			s.logger.Error("library import failed", zap.String("directory", dir), zap.Error(err))
			return
		}
		s.logger.Info("library import finished",
			zap.String("directory", dir),
			zap.Int("imported", report.Imported),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}()
	cp := *st
	return &cp, true
}

// importState returns a copy of the latest import status.
func (s *Server) importState() (bool, *importStatus) {
	s.importMu.Lock()
	defer s.importMu.Unlock()
	if s.lastImport == nil {
		return s.importing, nil
	}
	cp := *s.lastImport
	return s.importing, &cp
}

// waitImport blocks until the running import, if any, finishes.
func (s *Server) waitImport() {
	s.importWG.Wait()
}
