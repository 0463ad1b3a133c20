// Package server exposes the memory engine over a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/memory"
	"github.com/rcliao/memtier/internal/model"
)

// Server is the memtier HTTP API server.
type Server struct {
	engine  *memory.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over engine.
func New(engine *memory.Engine, version string) *Server {
	s := &Server{
		engine:  engine,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/memories", s.handleStore)
		r.Get("/memories/{id}", s.handleGet)
		r.Delete("/memories/{id}", s.handleDelete)
		r.Post("/memories/{id}/promote", s.handlePromote)

		r.Post("/entities", s.handlePutEntity)
		r.Get("/entities/{type}/{name}", s.handleGetEntity)

		r.Post("/search", s.handleSearch)
		r.Post("/context", s.handleContext)
		r.Post("/sweep/{tier}", s.handleSweep)
	})

	s.router = r
}

// requestLogger attaches a request-scoped logger to the context and logs
// each request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.From(r.Context()).With("request_id", middleware.GetReqID(r.Context()))
		ctx := logging.With(r.Context(), logger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrScopeMismatch), errors.Is(err, model.ErrUnknownTier):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.From(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
