// Package app provides the dependency injection container assembling the
// token service, its HTTP surface, and the metrics server from
// internal/config.Config. Grounded on the teacher's internal/app
// container: lazy, sync.Once-guarded accessors recording init failures in
// a map keyed by component name, so a dependency that fails to build once
// keeps failing the same way on every subsequent access instead of
// retrying silently.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/allisson/bearertoken/internal/backoff"
	"github.com/allisson/bearertoken/internal/clock"
	"github.com/allisson/bearertoken/internal/codec"
	"github.com/allisson/bearertoken/internal/config"
	"github.com/allisson/bearertoken/internal/database"
	internalhttp "github.com/allisson/bearertoken/internal/http"
	keyringDomain "github.com/allisson/bearertoken/internal/keyring/domain"
	keyringService "github.com/allisson/bearertoken/internal/keyring/service"
	"github.com/allisson/bearertoken/internal/metadata"
	"github.com/allisson/bearertoken/internal/metrics"
	"github.com/allisson/bearertoken/internal/store"
	"github.com/allisson/bearertoken/internal/tokenservice"
	tokenhttp "github.com/allisson/bearertoken/internal/tokenservice/http"
)

// Container holds all application dependencies and provides methods to
// access them, following the teacher's lazy-initialization pattern.
type Container struct {
	config *config.Config
	ctx    context.Context

	logger *slog.Logger
	db     *sql.DB

	metadataChannel    metadata.Channel
	keyManager         *keyringService.KeyManager
	derivationExecutor *codec.DerivationExecutor
	codec              *codec.Codec

	documentStore store.Store

	businessMetrics  metrics.BusinessMetrics
	metricsProvider  *metrics.Provider

	tokenUseCase tokenservice.UseCase

	httpServer    *internalhttp.Server
	metricsServer *internalhttp.MetricsServer

	mu                     sync.Mutex
	loggerInit             sync.Once
	dbInit                 sync.Once
	metadataChannelInit    sync.Once
	keyManagerInit         sync.Once
	derivationExecutorInit sync.Once
	codecInit              sync.Once
	documentStoreInit      sync.Once
	businessMetricsInit    sync.Once
	metricsProviderInit    sync.Once
	tokenUseCaseInit       sync.Once
	httpServerInit         sync.Once
	metricsServerInit      sync.Once
	initErrors             map[string]error
}

// NewContainer creates a new dependency injection container. ctx governs
// the HTTP server's readiness probe and is held for the container's
// lifetime rather than threaded through every accessor.
func NewContainer(ctx context.Context, cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		ctx:        ctx,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}

// DB returns the database connection, used by the Postgres/MySQL document
// store backends.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// MetadataChannel returns the cluster coordination channel the key
// manager publishes/subscribes rotation metadata through. Backed by an
// in-memory channel: the real coordination service is an out-of-scope
// external collaborator per the token service's design.
func (c *Container) MetadataChannel() metadata.Channel {
	c.metadataChannelInit.Do(func() {
		c.metadataChannel = metadata.NewInMemoryChannel()
	})
	return c.metadataChannel
}

// KeyManager returns the key-rotation manager.
func (c *Container) KeyManager() (*keyringService.KeyManager, error) {
	var err error
	c.keyManagerInit.Do(func() {
		c.keyManager, err = keyringService.NewKeyManager(c.MetadataChannel())
		if err != nil {
			c.initErrors["keyManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["keyManager"]; exists {
		return nil, storedErr
	}
	return c.keyManager, nil
}

// DerivationExecutor returns the single-goroutine PBKDF2 worker shared by
// every legacy-codec encode/decode call.
func (c *Container) DerivationExecutor() *codec.DerivationExecutor {
	c.derivationExecutorInit.Do(func() {
		c.derivationExecutor = codec.NewDerivationExecutor(50, 10)
	})
	return c.derivationExecutor
}

// Codec returns the bearer-token codec, reading the key manager's ring
// fresh on every call so a rotation mid-flight is picked up immediately.
func (c *Container) Codec() (*codec.Codec, error) {
	var err error
	c.codecInit.Do(func() {
		var km *keyringService.KeyManager
		km, err = c.KeyManager()
		if err != nil {
			c.initErrors["codec"] = err
			return
		}
		ring := func() *keyringDomain.KeyRing { return km.Ring() }
		c.codec = codec.NewCodec(ring, c.DerivationExecutor())
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["codec"]; exists {
		return nil, storedErr
	}
	return c.codec, nil
}

// DocumentStore returns the token document store, backed by Postgres or
// MySQL depending on config.DBDriver.
func (c *Container) DocumentStore() (store.Store, error) {
	var err error
	c.documentStoreInit.Do(func() {
		c.documentStore, err = c.initDocumentStore()
		if err != nil {
			c.initErrors["documentStore"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["documentStore"]; exists {
		return nil, storedErr
	}
	return c.documentStore, nil
}

func (c *Container) initDocumentStore() (store.Store, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for document store: %w", err)
	}

	switch c.config.DBDriver {
	case "postgres":
		return store.NewPostgresStore(db), nil
	case "mysql":
		return store.NewMySQLStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// MetricsProvider returns the OpenTelemetry Prometheus exporter provider
// backing both the metrics endpoint and business metrics instrumentation.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the domain-operation metrics recorder used by
// the token use case's metrics decorator. Falls back to a no-op recorder
// when metrics are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		if !c.config.MetricsEnabled {
			c.businessMetrics = metrics.NewNoOpBusinessMetrics()
			return
		}
		var provider *metrics.Provider
		provider, err = c.MetricsProvider()
		if err != nil {
			c.initErrors["businessMetrics"] = err
			return
		}
		c.businessMetrics, err = metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// TokenUseCase returns the token service facade, wrapped with metrics
// instrumentation.
func (c *Container) TokenUseCase() (tokenservice.UseCase, error) {
	var err error
	c.tokenUseCaseInit.Do(func() {
		c.tokenUseCase, err = c.initTokenUseCase()
		if err != nil {
			c.initErrors["tokenUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["tokenUseCase"]; exists {
		return nil, storedErr
	}
	return c.tokenUseCase, nil
}

func (c *Container) initTokenUseCase() (tokenservice.UseCase, error) {
	documentStore, err := c.DocumentStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get document store for token use case: %w", err)
	}

	tokenCodec, err := c.Codec()
	if err != nil {
		return nil, fmt.Errorf("failed to get codec for token use case: %w", err)
	}

	cfg := tokenservice.Config{
		TokenExpiration:          c.config.TokenExpiration,
		ServiceEnabled:           c.config.TokenServiceEnabled,
		RefreshIdempotenceWindow: c.config.RefreshIdempotenceWindow,
		RefreshTokenTTL:          c.config.RefreshTokenTTL,
		DeleteInterval:           c.config.DeleteInterval,
		Backoff: backoff.Config{
			BaseDelay:   c.config.BackoffBaseDelay,
			Multiplier:  c.config.BackoffMultiplier,
			MaxAttempts: c.config.BackoffMaxAttempts,
		},
	}

	useCase := tokenservice.New(cfg, clock.Real(), documentStore, tokenCodec)

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for token use case: %w", err)
	}

	return tokenservice.NewWithMetrics(useCase, businessMetrics), nil
}

// HTTPServer returns the main HTTP server, with the token service's
// routes mounted under /v1.
func (c *Container) HTTPServer() (*internalhttp.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

func (c *Container) initHTTPServer() (*internalhttp.Server, error) {
	logger := c.Logger()

	tokenUseCase, err := c.TokenUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get token use case for http server: %w", err)
	}

	handler := tokenhttp.NewHandler(tokenUseCase, logger)

	server := internalhttp.NewServer(
		c.ctx,
		c.config.ServerHost,
		c.config.ServerPort,
		logger,
		internalhttp.WithCORS(c.config.CORSEnabled, c.config.CORSAllowOrigins),
		internalhttp.WithRoutes(func(rg *gin.RouterGroup) {
			rg.POST("/tokens", handler.IssueToken)
			rg.POST("/tokens/validate", handler.ValidateToken)
			rg.POST("/tokens/refresh", handler.RefreshToken)
			rg.POST("/tokens/invalidate", handler.InvalidateToken)
			rg.POST("/tokens/invalidate-realm-user", handler.InvalidateRealmUser)
		}),
	)

	return server, nil
}

// MetricsServer returns the Prometheus metrics server.
func (c *Container) MetricsServer() (*internalhttp.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

func (c *Container) initMetricsServer() (*internalhttp.MetricsServer, error) {
	logger := c.Logger()

	var provider *metrics.Provider
	if c.config.MetricsEnabled {
		var err error
		provider, err = c.MetricsProvider()
		if err != nil {
			return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
		}
	}

	return internalhttp.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, logger, provider), nil
}

// Shutdown performs cleanup of all initialized resources.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.derivationExecutor != nil {
		c.derivationExecutor.Close()
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}
