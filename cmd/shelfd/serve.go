package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelfd/internal/config"
	"github.com/fyrsmithlabs/shelfd/internal/httpapi"
	"github.com/fyrsmithlabs/shelfd/internal/logging"
	"github.com/fyrsmithlabs/shelfd/internal/services"
)

// shutdownTimeout bounds how long in-flight requests may run after a
// termination signal.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP daemon",
	Long: `Start the shelfd HTTP server with full service initialization:
collection store, vector store, embedder, and (when configured) the LLM
provider for query expansion, reranking, and RAG answers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.NewDefaultConfig())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting shelfd",
		zap.String("version", version),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.Int("port", cfg.Server.Port),
	)

	reg, err := services.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn(ctx, "service shutdown reported errors", zap.Error(err))
		}
	}()

	srv, err := httpapi.NewServer(cfg.Server, reg, logger)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info(context.Background(), "shutdown complete")
	return nil
}
