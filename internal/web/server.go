// Package web exposes the ingest and transform runs over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/PatientETL/internal/config"
	"github.com/JonMunkholm/PatientETL/internal/database"
	"github.com/JonMunkholm/PatientETL/internal/pipeline"
	mw "github.com/JonMunkholm/PatientETL/internal/web/middleware"
)

// Runner is the pipeline surface the server drives. *pipeline.Service
// satisfies it.
type Runner interface {
	Ingest(ctx context.Context, fileName string, opts pipeline.IngestOptions) (*pipeline.IngestResult, error)
	Transform(ctx context.Context) (*pipeline.TransformResult, error)
	Stats(ctx context.Context) (database.StoreCounts, error)
	Ping(ctx context.Context) error
}

// MaxRequestBodySize bounds JSON request bodies.
const MaxRequestBodySize = 1 << 16

// Server is the HTTP server for the patient ETL.
type Server struct {
	runner  Runner
	cfg     config.ServerConfig
	logger  *slog.Logger
	limiter *RunLimiter
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server that triggers runs on runner.
func NewServer(runner Runner, cfg config.ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		limiter: NewRunLimiter(cfg.MaxConcurrentRuns, cfg.RunWaitTimeout),
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.TrustedProxyList(), s.logger))
	s.router.Use(mw.Logger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.APIKeyList(), s.logger))

		r.Get("/stats", s.handleStats)
		r.Post("/ingest", s.handleIngest)
		r.Post("/transform", s.handleTransform)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.requestLogger(r).Error("json encode error", "error", err)
	}
}

// runTimeout bounds a detached run so a stuck database cannot hold a slot forever.
const runTimeout = 30 * time.Minute
