package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/pdf2html/internal/api"
	"github.com/spherical/pdf2html/internal/convert"
	"github.com/spherical/pdf2html/internal/metrics"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServer(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")

	return cmd
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	var m *metrics.Recorder
	if cfg.Observability.MetricsEnabled {
		m = metrics.New()
	}

	svc, err := convert.NewFromConfig(parent, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("initialize conversion service: %w", err)
	}
	defer svc.Close()

	addr := cfg.Addr()

	logger.Info().
		Str("addr", addr).
		Str("model", cfg.LLM.Model).
		Str("layout", cfg.Pipeline.Layout).
		Int("workers", cfg.Pipeline.Concurrency).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting pdf2html API")

	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(logger, svc, m, version),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}
