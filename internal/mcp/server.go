// Package mcp exposes the use-case layer as tools over the MCP stdio
// transport. Each tool maps to exactly one use-case operation, so the
// tool surface and the HTTP API stay behaviorally identical.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/apperr"
	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/services"
	"github.com/fyrsmithlabs/shelfd/internal/usecase"
)

// Server runs the MCP tool surface over stdio.
type Server struct {
	mcp      *mcp.Server
	services services.Registry
	usecase  *usecase.Service
	logger   *logging.Logger

	searchTimeout time.Duration
	ragTimeout    time.Duration
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name announced to clients.
	Name string

	// Version is the announced server version.
	Version string

	// Server supplies the per-request search and RAG timeouts.
	Server config.ServerConfig

	Logger *logging.Logger
}

// NewServer creates the server and registers every tool.
func NewServer(cfg *Config, reg services.Registry) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("service registry is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Name == "" {
		cfg.Name = "shelfd"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		services:      reg,
		usecase:       reg.Usecase(),
		logger:        cfg.Logger,
		searchTimeout: cfg.Server.SearchTimeout.Duration(),
		ragTimeout:    cfg.Server.RAGTimeout.Duration(),
	}

	s.registerCollectionTools()
	s.registerFileTools()
	s.registerSyncTools()
	s.registerSearchTools()
	s.registerCrawlTools()
	return s, nil
}

// Run serves tools on the stdio transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server run: %w", err)
	}
	return nil
}

// toolError is the failure payload carried in tool results. Domain
// failures are reported through it instead of protocol errors so
// clients always receive a stable error code.
type toolError struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// failure converts a domain error into an error-flagged tool result.
// Messages pass through the secret scrubber before leaving the process.
func (s *Server) failure(ctx context.Context, err error) *mcp.CallToolResult {
	message := apperr.MessageOf(err)
	if scrubber := s.services.Scrubber(); scrubber != nil {
		message = scrubber.Scrub(message).Scrubbed
	}
	s.logger.Debug(ctx, "tool call failed",
		zap.String("code", apperr.CodeOf(err)), zap.Error(err))

	payload, _ := json.Marshal(toolError{
		Success:   false,
		Error:     message,
		ErrorCode: apperr.CodeOf(err),
	})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}

// success wraps a JSON-encoded payload in a tool result.
func success(v any) *mcp.CallToolResult {
	payload, err := json.Marshal(v)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", v))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}

// withTimeout bounds a request context when a timeout is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
