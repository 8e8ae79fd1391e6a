// Package httpapi exposes the use-case layer over HTTP/JSON. Every
// route calls the same use-case method as its MCP tool counterpart, so
// the two protocol surfaces stay behaviorally identical.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/services"
	"github.com/fyrsmithlabs/shelfd/internal/usecase"
)

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	services services.Registry
	usecase  *usecase.Service
	logger   *logging.Logger
	config   config.ServerConfig

	searchTimeout time.Duration
	ragTimeout    time.Duration
}

// NewServer creates the HTTP server and registers every route.
func NewServer(cfg config.ServerConfig, reg services.Registry, logger *logging.Logger) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("service registry is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
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
		echo:          e,
		services:      reg,
		usecase:       reg.Usecase(),
		logger:        logger,
		config:        cfg,
		searchTimeout: cfg.SearchTimeout.Duration(),
		ragTimeout:    cfg.RAGTimeout.Duration(),
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")

	collections := api.Group("/file-collections")
	collections.POST("", s.handleCreateCollection)
	collections.GET("", s.handleListCollections)
	collections.GET("/:id", s.handleGetCollection)
	collections.DELETE("/:id", s.handleDeleteCollection)
	collections.POST("/:id/files", s.handleSaveFile)
	collections.GET("/:id/files", s.handleListFiles)
	collections.GET("/:id/files/*", s.handleReadFile)
	collections.PUT("/:id/files/*", s.handleUpdateFile)
	collections.DELETE("/:id/files/*", s.handleDeleteFile)

	sync := api.Group("/vector-sync")
	sync.GET("/collections", s.handleListSyncStatuses)
	sync.POST("/collections/:id/enable", s.handleEnableSync)
	sync.POST("/collections/:id/disable", s.handleDisableSync)
	sync.POST("/collections/:id/sync", s.handleSyncNow)
	sync.GET("/collections/:id/status", s.handleSyncStatus)
	sync.DELETE("/collections/:id/vectors", s.handleDeleteVectors)
	sync.POST("/search", s.handleVectorSearch)

	api.POST("/query", s.handleRAGQuery)

	api.POST("/extract", s.handleExtract)
	api.POST("/deep-crawl", s.handleDeepCrawl)
	api.POST("/link-preview", s.handleLinkPreview)
	api.POST("/crawl/single/:id", s.handleCrawlSingle)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// errorDetail is the inner error object of a failure response.
type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// errorEnvelope is the failure response body.
type errorEnvelope struct {
	Detail struct {
		Error errorDetail `json:"error"`
	} `json:"detail"`
}

// statusOf maps domain error kinds onto HTTP status codes.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindChunkMetadata:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failure writes a domain error as a structured JSON response. Messages
// pass through the secret scrubber before leaving the process.
func (s *Server) failure(c echo.Context, err error) error {
	message := apperr.MessageOf(err)
	if scrubber := s.services.Scrubber(); scrubber != nil {
		message = scrubber.Scrub(message).Scrubbed
	}
	s.logger.Debug(c.Request().Context(), "request failed",
		zap.String("code", apperr.CodeOf(err)), zap.Error(err))

	var envelope errorEnvelope
	envelope.Detail.Error = errorDetail{
		Code:    apperr.CodeOf(err),
		Message: message,
		Details: apperr.DetailsOf(err),
	}
	return c.JSON(statusOf(err), envelope)
}

// invalidBody reports a request body that failed to bind.
func (s *Server) invalidBody(c echo.Context, err error) error {
	return s.failure(c, apperr.Wrap(apperr.KindValidation, "invalid_request", "invalid request body", err))
}

// withTimeout bounds a request context when a timeout is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
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

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
