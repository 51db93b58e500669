// Package httpapi provides the HTTP API for rulebankd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/rulebank/internal/rulebank"
	"github.com/fyrsmithlabs/rulebank/internal/telemetry"
)

// Server provides HTTP endpoints for the rule store, candidate workflow,
// harvester, and telemetry substrate.
type Server struct {
	echo      *echo.Echo
	store     *rulebank.Store
	harvester *rulebank.Harvester
	substrate *telemetry.Substrate
	logger    *zap.Logger
	config    *Config

	// harvestLimiter throttles the manual harvest endpoint; one harvest
	// at a time is a convention, not a lock.
	harvestLimiter *rate.Limiter
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(store *rulebank.Store, harvester *rulebank.Harvester, substrate *telemetry.Substrate, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if harvester == nil {
		return nil, fmt.Errorf("harvester cannot be nil")
	}
	if substrate == nil {
		return nil, fmt.Errorf("substrate cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8230,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(substrate, logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:           e,
		store:          store,
		harvester:      harvester,
		substrate:      substrate,
		logger:         logger,
		config:         cfg,
		harvestLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	exp := s.echo.Group("/api/v1/experience")
	exp.POST("/rules", s.handleAddRule)
	exp.GET("/rules", s.handleSearchRules)
	exp.GET("/rules/:id", s.handleGetRule)
	exp.PUT("/rules/:id", s.handleUpdateRule)
	exp.DELETE("/rules/:id", s.handleDeleteRule)
	exp.GET("/stats", s.handleStats)

	exp.POST("/candidates", s.handleAddCandidate)
	exp.GET("/candidates", s.handleListCandidates)
	exp.POST("/candidates/:id/approve", s.handleApproveCandidate)
	exp.POST("/candidates/:id/reject", s.handleRejectCandidate)

	exp.GET("/snapshot/export", s.handleExportSnapshot)
	exp.POST("/snapshot/import", s.handleImportSnapshot)

	exp.GET("/auto-candidates/config", s.handleGetHarvestConfig)
	exp.PUT("/auto-candidates/config", s.handleSetHarvestConfig)
	exp.POST("/auto-candidates/harvest", s.handleHarvest)

	obs := s.echo.Group("/api/v1/observability")
	obs.GET("/metrics", s.handleMetricsSnapshot)
	obs.GET("/logs/search", s.handleSearchLogs)
	obs.GET("/context", s.handleContext)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Echo exposes the underlying router for tests and for mounting extra
// handlers like the Prometheus scrape endpoint.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
