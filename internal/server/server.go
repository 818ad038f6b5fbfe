package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/config"
	apperrors "github.com/sitewire/sitewire/internal/errors"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/server/handlers"
	servermw "github.com/sitewire/sitewire/internal/server/middleware"
	"github.com/sitewire/sitewire/internal/site"
)

// Server is the harness HTTP server over one site session.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	site   *site.Site
	health *handlers.HealthManager

	// AdminToken enables POST /admin/signal when set.
	adminToken string
}

// Option customizes the server.
type Option func(*Server)

// WithAdminToken enables the admin signal endpoint.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// New creates a new HTTP server instance
func New(cfg config.ServerConfig, st *site.Site, version string, opts ...Option) (*Server, error) {
	if st == nil {
		return nil, errors.New("site is required")
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		cfg:    cfg,
		site:   st,
		health: handlers.NewHealthManager(version),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.health.RegisterChecker("storage", handlers.StorageChecker{Storage: st.Platform.Storage()})

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()
	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.Addr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  durationOr(s.cfg.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(s.cfg.IdleTimeout, 120*time.Second),
	}

	observability.Current().Info("Starting HTTP server",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	observability.Current().Info("Shutting down HTTP server")
	s.health.SetStarted(false)
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
