package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/mcp"
	"github.com/fyrsmithlabs/shelfd/internal/services"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Long: `Run shelfd as an MCP server on the stdio transport. Stdout carries
the protocol; logs go to stderr. Intended to be launched by an agent
client rather than interactively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runMCP(ctx)
	},
}

func runMCP(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Stdout belongs to the protocol; zap writes to stderr.
	logger, err := logging.NewLogger(logging.NewDefaultConfig())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting shelfd in MCP stdio mode",
		zap.String("version", version),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("vector_backend", cfg.Vector.Backend),
	)

	reg, err := services.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn(context.Background(), "service shutdown reported errors", zap.Error(err))
		}
	}()

	srv, err := mcp.NewServer(&mcp.Config{
		Version: version,
		Server:  cfg.Server,
		Logger:  logger,
	}, reg)
	if err != nil {
		return fmt.Errorf("initializing mcp server: %w", err)
	}

	return srv.Run(ctx)
}
