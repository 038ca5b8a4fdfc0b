package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/knoguchi/hybridkb/internal/auth"
	"github.com/knoguchi/hybridkb/internal/knowledgebase"
	"github.com/knoguchi/hybridkb/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var createIndex bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), createIndex)
		},
	}
	cmd.Flags().BoolVar(&createIndex, "create-index", false, "create the index on startup if it does not exist")
	return cmd
}

func (a *app) serve(ctx context.Context, createIndex bool) error {
	cfg := a.cfg
	a.logger.Info("starting knowledge base service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"vector_store", cfg.VectorStore,
	)

	kb, store, err := buildKnowledgeBase(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if createIndex {
		if err := kb.CreateIndex(ctx); err != nil && !errors.Is(err, knowledgebase.ErrIndexExists) {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	var jwtManager *auth.JWTManager
	if cfg.AuthEnabled {
		jwtManager = auth.NewJWTManager(a.jwtConfig())
	}

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		KnowledgeBase:  kb,
		Logger:         a.logger,
		AllowedOrigins: cfg.AllowedOrigins(),
		JWT:            jwtManager,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	}

	a.logger.Info("server stopped")
	return nil
}

func (a *app) jwtConfig() *auth.JWTConfig {
	jc := auth.DefaultJWTConfig(a.cfg.JWTSecret)
	if a.cfg.JWTExpiry > 0 {
		jc.Expiry = a.cfg.JWTExpiry
	}
	return jc
}
