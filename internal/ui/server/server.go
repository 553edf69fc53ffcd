package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jub0bs/cors"

	"github.com/information-sharing-networks/incremental-auth/internal/community"
	"github.com/information-sharing-networks/incremental-auth/internal/config"
	"github.com/information-sharing-networks/incremental-auth/internal/logger"
	"github.com/information-sharing-networks/incremental-auth/internal/middleware"
	"github.com/information-sharing-networks/incremental-auth/internal/picket"
	"github.com/information-sharing-networks/incremental-auth/internal/session"
	"github.com/information-sharing-networks/incremental-auth/internal/ui/handlers"
)

type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	apiCORS *cors.Middleware
	service *handlers.HandlerService
}

func NewServer(cfg *config.Config, logger *slog.Logger, catalog *community.Catalog, client *picket.Client, store session.Store, apiCORS *cors.Middleware) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		apiCORS: apiCORS,
		service: &handlers.HandlerService{
			Catalog: catalog,
			Picket:  client,
			Store:   store,
		},
	}

	s.setupMiddleware()
	s.registerRoutes()
	return s
}

// Router exposes the configured handler (used by tests)
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(logger.RequestLogging(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.SecurityHeaders(s.config.Environment))
	s.router.Use(chimiddleware.Timeout(config.RequestTimeout))
}

func (s *Server) registerRoutes() {
	h := s.service

	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.config.StaticDir))))

	s.router.Get("/health/live", h.HandleLiveness)
	s.router.Get("/version", h.HandleVersion)

	// page routes share the browser session
	s.router.Group(func(r chi.Router) {
		r.Use(session.Middleware(h.Store, s.config.IsProd()))

		r.Get("/", h.HandleHome)
		r.Post("/login", h.HandleLogin)
		r.Post("/logout", h.HandleLogout)
		r.Post("/communities/{communityID}/authorize", h.HandleAuthorize)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.CORS(s.apiCORS))
		r.Use(middleware.RequestSizeLimit(s.config.MaxAPIRequestSize))
		r.Use(middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))

		r.Post("/auth/nonce", h.HandleNonce)
	})
}

// Start serves requests until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			slog.String("address", addr),
			slog.String("environment", s.config.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server forced to shutdown", slog.String("error", err.Error()))
			return err
		}
	}

	return nil
}
