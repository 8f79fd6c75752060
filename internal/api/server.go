package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/foundry/internal/engine"
	"github.com/seantiz/foundry/internal/router"
	"github.com/seantiz/foundry/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	mux        *chi.Mux
	store      store.Store
	router     *router.Router
	dispatcher *engine.Dispatcher
	logger     *slog.Logger
	addr       string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, s store.Store, rt *router.Router, d *engine.Dispatcher, logger *slog.Logger) *Server {
	srv := &Server{
		mux:        chi.NewRouter(),
		store:      s,
		router:     rt,
		dispatcher: d,
		logger:     logger,
		addr:       addr,
	}

	srv.mux.Use(middleware.RequestID)
	srv.mux.Use(middleware.Recoverer)
	srv.mux.Use(srv.loggingMiddleware)
	srv.mux.Use(metricsMiddleware)
	srv.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the mux.
func (s *Server) routes() {
	s.mux.Get("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", metricsHandler())

	s.mux.Get("/v1/backends", s.handleListBackends)
	s.mux.Post("/v1/classify", s.handleClassify)
	s.mux.Get("/v1/stats", s.handleGetStats)

	s.mux.Route("/v1/batches", func(r chi.Router) {
		r.Post("/", s.handleCreateBatch)
		r.Get("/", s.handleListBatches)
		r.Get("/{id}", s.handleGetBatch)
		r.Get("/{id}/results", s.handleGetResults)
		r.Get("/{id}/events", s.handleStreamEvents)
	})
}

// Router returns the chi mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.mux
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
// In-flight batches are given the shutdown timeout to finish before their
// tasks are cancelled.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := s.dispatcher.Shutdown(shutdownTimeout); err != nil {
		return fmt.Errorf("shutdown dispatcher: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
