// Package server provides the HTTP API for taskd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/logging"
	"github.com/fyrsmithlabs/taskd/internal/orchestrator"
	"github.com/fyrsmithlabs/taskd/internal/progress"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// Server provides the HTTP endpoints for taskd.
type Server struct {
	echo        *echo.Echo
	store       task.Store
	pipeline    *orchestrator.Pipeline
	broadcaster *progress.Broadcaster
	logger      *logging.Logger
	config      config.ServerConfig
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(store task.Store, pipeline *orchestrator.Pipeline,
	broadcaster *progress.Broadcaster, logger *logging.Logger,
	cfg config.ServerConfig) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(logger).Middleware())

	s := &Server{
		echo:        e,
		store:       store,
		pipeline:    pipeline,
		broadcaster: broadcaster,
		logger:      logger.Named("http"),
		config:      cfg,
	}
	s.registerRoutes()

	return s, nil
}

// requestLogger logs one line per request with the request id.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.GET("/tasks/:id/logs", s.handleGetLogs)
	v1.GET("/tasks/:id/artifacts", s.handleGetArtifacts)
	v1.GET("/tasks/:id/events", s.handleEvents)
	v1.POST("/tasks/:id/approve", s.handleApprove)
	v1.POST("/tasks/:id/reject", s.handleReject)
	v1.POST("/tasks/:id/cancel", s.handleCancel)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
