// Package api exposes the HTTP surface of the server: health and version
// endpoints plus the authenticated file API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/registry"
)

// Server wires the registry and authenticator into an HTTP handler.
type Server struct {
	cfg    *config.Config
	reg    *registry.Registry
	auth   *auth.Authenticator
	router chi.Router
}

// New assembles the router. Health and version endpoints are public; the
// /v1 API runs behind a database session scope and bearer authentication.
func New(cfg *config.Config, reg *registry.Registry) *Server {
	s := &Server{
		cfg:  cfg,
		reg:  reg,
		auth: auth.New(cfg.Auth),
	}

	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Head("/healthz", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.scopeMiddleware)
		r.Use(s.auth.Middleware)

		r.Post("/files", s.handleUpload)
		r.Get("/files/{id}", s.handleGetFile)
		r.Get("/system/db", s.handleDBHealth)
	})

	s.router = r
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// scopeMiddleware attaches a fresh database session scope to each request
// and guarantees teardown on every exit path, panics included.
func (s *Server) scopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, release := s.reg.Scope(r.Context())
		defer release()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverMiddleware converts handler panics into 500 responses.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.WithContext(r.Context()).Error("handler panic",
					zap.Any("panic", rec), zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		// Route pattern keeps metric cardinality bounded; raw paths carry
		// file IDs.
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, pattern, sw.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
