// Package http provides HTTP server implementation and request handlers.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RouteRegistrar mounts a feature's routes on the /v1 router group. The
// token service's http.Handler is wired in through this rather than the
// server package importing internal/tokenservice/http directly, keeping
// this package free of a dependency on every feature it could host.
type RouteRegistrar func(*gin.RouterGroup)

// ServerOption configures optional behavior of NewServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	corsEnabled bool
	corsOrigins string
	registrars  []RouteRegistrar
}

// WithCORS enables the CORS middleware when enabled is true and origins
// is a non-empty comma-separated origin list, mirroring createCORSMiddleware's
// own guard so callers don't need to duplicate that check.
func WithCORS(enabled bool, origins string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.corsEnabled = enabled
		cfg.corsOrigins = origins
	}
}

// WithRoutes registers a feature's routes on the /v1 group.
func WithRoutes(registrar RouteRegistrar) ServerOption {
	return func(cfg *serverConfig) {
		cfg.registrars = append(cfg.registrars, registrar)
	}
}

// Server represents the HTTP server.
type Server struct {
	server     *http.Server
	logger     *slog.Logger
	router     *gin.Engine
	shutdownCtx context.Context
}

// NewServer creates a new HTTP server. ctx governs the readiness probe:
// once ctx is done, /ready reports unavailable so a load balancer can
// drain connections during shutdown.
func NewServer(ctx context.Context, host string, port int, logger *slog.Logger, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	s := &Server{logger: logger, shutdownCtx: ctx}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(logger))
	if mw := createCORSMiddleware(cfg.corsEnabled, cfg.corsOrigins, logger); mw != nil {
		router.Use(mw)
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")
	for _, register := range cfg.registrars {
		register(v1)
	}

	s.router = router
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// healthHandler reports liveness unconditionally.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports readiness based on the server's shutdown
// context: done means the process is shutting down and should stop
// receiving new traffic.
func (s *Server) readinessHandler(c *gin.Context) {
	select {
	case <-s.shutdownCtx.Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// GetHandler returns the server's http.Handler, for testing.
func (s *Server) GetHandler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
