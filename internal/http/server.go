// Package http provides the HTTP API for skywatchd.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kestrellabs/skywatch/internal/compose"
	"github.com/kestrellabs/skywatch/internal/document"
	"github.com/kestrellabs/skywatch/internal/engine"
)

// Engine is the slice of the retrieval core the API exposes.
type Engine interface {
	Push(ctx context.Context, kind document.Kind, raw []byte) error
	QueryWithOptions(ctx context.Context, rawQuery string, opts engine.QueryOptions) *compose.Answer
	Status() engine.Status
}

// Server provides HTTP endpoints for skywatchd.
type Server struct {
	echo   *echo.Echo
	engine Engine
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// NewServer creates a new HTTP server.
func NewServer(eng Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
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
		echo:   e,
		engine: eng,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and Prometheus scrape target
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/push/:kind", s.handlePush)
	v1.GET("/status", s.handleStatus)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleQuery answers an operator question. The engine absorbs internal
// failures, so this handler only fails on a bad request.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	answer := s.engine.QueryWithOptions(c.Request().Context(), req.Query, engine.QueryOptions{
		MaxContext: req.MaxContext,
		ScoreFloor: req.ScoreFloor,
	})
	return c.JSON(http.StatusOK, answer)
}

// handlePush accepts one raw record for the kind named in the path.
func (s *Server) handlePush(c echo.Context) error {
	kind := document.Kind(c.Param("kind"))
	if !kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unknown kind %q", c.Param("kind")))
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}

	if err := s.engine.Push(c.Request().Context(), kind, raw); err != nil {
		if errors.Is(err, document.ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("push failed", zap.String("kind", string(kind)), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "indexing unavailable")
	}

	return c.JSON(http.StatusAccepted, PushResponse{Accepted: true})
}

// handleStatus reports the operational summary.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Status())
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
