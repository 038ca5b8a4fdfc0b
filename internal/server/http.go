// Package server exposes the knowledge base over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/knoguchi/hybridkb/internal/auth"
	"github.com/knoguchi/hybridkb/internal/models"
)

// KnowledgeBase is the subset of knowledgebase.KnowledgeBase the API serves.
type KnowledgeBase interface {
	Upsert(ctx context.Context, namespace string, docs []models.Document) (int, error)
	Query(ctx context.Context, queries []models.Query) ([]models.KBQueryResult, error)
	Delete(ctx context.Context, namespace string, documentIDs []string) error
	VerifyIndexConnection(ctx context.Context) error
}

// HTTPServer wraps an HTTP server around the knowledge base routes.
type HTTPServer struct {
	server *http.Server
	router *chi.Mux
	logger *slog.Logger
}

// HTTPServerConfig holds configuration for the HTTP server
type HTTPServerConfig struct {
	Port          int
	KnowledgeBase KnowledgeBase
	Logger        *slog.Logger

	// AllowedOrigins lists CORS origins; "*" allows any. Empty disables CORS.
	AllowedOrigins []string

	// JWT enables bearer-token auth on /v1 routes when set.
	JWT *auth.JWTManager

	// MaxBodyBytes caps request bodies (default 10 MiB).
	MaxBodyBytes int64
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.KnowledgeBase == nil {
		return nil, fmt.Errorf("knowledge base is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := NewRouter(cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &HTTPServer{
		server: server,
		router: router,
		logger: logger,
	}, nil
}

// NewRouter builds the chi router with middleware and all routes.
func NewRouter(cfg HTTPServerConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	h := &handlers{kb: cfg.KnowledgeBase, logger: logger, maxBodyBytes: maxBody}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.Get("/healthz", healthCheckHandler())
	router.Get("/readyz", h.readiness)

	router.Route("/v1", func(r chi.Router) {
		if cfg.JWT != nil {
			r.Use(cfg.JWT.Middleware)
		}
		r.Post("/documents", h.upsertDocuments)
		r.Delete("/documents/{documentID}", h.deleteDocument)
		r.Post("/documents/delete", h.deleteDocuments)
		r.Post("/query", h.query)
	})

	return router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying chi router
func (s *HTTPServer) Router() *chi.Mux {
	return s.router
}

// healthCheckHandler returns a handler for the /healthz endpoint
func healthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
