// Package web provides the HTTP console for import sessions.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/importdesk/internal/config"
	"github.com/JonMunkholm/importdesk/internal/core"
	"github.com/JonMunkholm/importdesk/internal/history"
	mw "github.com/JonMunkholm/importdesk/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultHeartbeat is how often an idle event stream is pinged. Each ping
// also keeps the view from expiring.
const DefaultHeartbeat = 15 * time.Second

// HistoryLister reads recorded import runs.
type HistoryLister interface {
	Recent(ctx context.Context, opts history.Options) (*history.Page, error)
}

// Options configures optional server collaborators.
type Options struct {
	// History is nil when no database is configured.
	History HistoryLister
	// Metrics serves /metrics when set.
	Metrics   http.Handler
	Heartbeat time.Duration
}

// Server is the HTTP server for the import console.
type Server struct {
	service   *core.Service
	history   HistoryLister
	metrics   http.Handler
	cfg       *config.Config
	heartbeat time.Duration
	router    *chi.Mux
	server    *http.Server
}

// NewServer creates a Server over service.
func NewServer(service *core.Service, cfg *config.Config, opts Options) *Server {
	s := &Server{
		service:   service,
		history:   opts.History,
		metrics:   opts.Metrics,
		cfg:       cfg,
		heartbeat: opts.Heartbeat,
		router:    chi.NewRouter(),
	}
	if s.heartbeat <= 0 {
		s.heartbeat = DefaultHeartbeat
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security))

		// Event streams stay open, so they skip the request timeout.
		r.Get("/imports/{id}/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))

			r.Get("/schemas", s.handleListSchemas)
			r.Get("/schemas/{schema}/fields", s.handleFields)
			r.Post("/schemas/{schema}/template", s.handleTemplate)

			r.With(s.uploadLimit()).Post("/imports", s.handleCreateImport)
			r.Get("/imports/{id}", s.handleGetImport)
			r.Get("/imports/{id}/preview", s.handlePreview)
			r.Put("/imports/{id}/mapping/{column}", s.handleUpdateMapping)
			r.Post("/imports/{id}/start", s.handleStart)
			r.Get("/imports/{id}/logs", s.handleLogs)
			r.Delete("/imports/{id}/notices/{notice}", s.handleDismissNotice)
			r.Delete("/imports/{id}/view", s.handleCloseView)

			r.Get("/history", s.handleHistory)
		})
	})

	s.router.Group(func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security))
		r.Use(middleware.Timeout(s.requestTimeout()))
		r.Get("/imports/{id}/badge", s.handleBadge)
		r.Get("/imports/{id}/notices", s.handleNotices)
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.Server.RequestTimeout > 0 {
		return s.cfg.Server.RequestTimeout
	}
	return 60 * time.Second
}

// uploadLimit applies the stricter per-IP limit to file uploads.
func (s *Server) uploadLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).middleware
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"open_views": s.service.Views.Len(),
		"uploads":    s.service.UploadLimiter().Status(),
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
