// Package server exposes the cost engine over HTTP: envelope reads, draft
// mutation, promotion, tender reconciliation, and variance analysis, JSON in
// and out.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/costwatch/internal/envelope"
	"github.com/sells-group/costwatch/internal/reconcile"
	"github.com/sells-group/costwatch/internal/store"
	"github.com/sells-group/costwatch/internal/variance"
)

// Server owns the HTTP surface of the engine.
type Server struct {
	store    store.Store
	service  *envelope.Service
	engine   *reconcile.Engine
	analyzer *variance.Analyzer
	log      *zap.Logger

	http *http.Server
}

// Options configure the listener.
type Options struct {
	Port           int
	AllowedOrigins []string
}

// New wires the router. A nil logger falls back to the global one.
func New(st store.Store, svc *envelope.Service, eng *reconcile.Engine, an *variance.Analyzer, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.L()
	}
	s := &Server{store: st, service: svc, engine: eng, analyzer: an, log: log}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Post("/contract", s.handleSetContract)

				r.Get("/envelope", s.handleGetEnvelope)
				r.Post("/draft", s.handleEnsureDraft)
				r.Post("/draft/items", s.handleUpsertItem)
				r.Post("/draft/items/{itemID}/allocations", s.handleAllocate)

				r.Post("/draft/items/{itemID}/tables", s.handleAddTable)
				r.Put("/draft/items/{itemID}/tables/{tableID}", s.handleRenameTable)
				r.Delete("/draft/items/{itemID}/tables/{tableID}", s.handleRemoveTable)
				r.Post("/draft/items/{itemID}/tables/{tableID}/rows", s.handleUpsertRow)
				r.Delete("/draft/items/{itemID}/tables/{tableID}/rows/{rowID}", s.handleRemoveRow)

				r.Post("/promote", s.handlePromote)
				r.Post("/merge", s.handleMerge)
				r.Get("/decomposition", s.handleDecomposition)

				r.Get("/variance", s.handleGetVariance)
				r.Post("/variance/analyze", s.handleAnalyze)
				r.Get("/variance/config", s.handleGetVarianceConfig)
				r.Patch("/variance/config", s.handlePatchVarianceConfig)
			})
		})
	})

	s.http = &http.Server{
		Addr:              addr(opts.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func addr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requestLogger logs one line per request with method, path, status, and
// duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
