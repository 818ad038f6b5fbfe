package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	session := &handlers.SessionHandlers{Site: s.site}
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/session", session.Session)
		r.Post("/navigate", session.Navigate)
		r.Put("/consent", session.SetConsent)
		r.Delete("/consent", session.ResetConsent)
		r.Post("/events", session.TrackEvent)
		r.Post("/login", session.Login)
		r.Delete("/login", session.Logout)
		r.Post("/requests", session.Request)
		r.Get("/throttle", session.Throttle)
		r.Delete("/throttle", session.ResetThrottle)
	})

	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	logger := observability.Current()
	if s.adminToken == "" {
		logger.Debug("Admin signal endpoint disabled (no admin token set)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("auth", "bearer token"),
		zap.String("rate_limit", "10/min, burst 5"))
	logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
}
