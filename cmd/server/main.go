package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/solbridge/service/app"
	"github.com/brojonat/solbridge/service/config"
	"github.com/brojonat/solbridge/service/metrics"
	"github.com/brojonat/solbridge/service/server"
	"github.com/brojonat/solbridge/service/temporal"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := config.LoadDotEnv(".env", ".env.server"); err != nil {
		slog.Error("failed to load env files", "error", err)
		os.Exit(1)
	}

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"claim_store", cfg.ClaimStore,
		"use_temporal", cfg.UseTemporal,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	b, err := app.Build(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to initialize bridge", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	// Durable execution through the worker (optional)
	var runner server.BridgeRunner
	if cfg.UseTemporal {
		tc, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			logger.Error("failed to connect to temporal", "error", err)
			os.Exit(1)
		}
		defer tc.Close()
		runner = tc
	}

	// SSE event stream (optional, needs NATS)
	var ssePublisher *server.SSEPublisher
	if cfg.NATSURL != "" {
		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to initialize SSE publisher", "error", err)
			os.Exit(1)
		}
	}

	httpServer := server.New(cfg.ServerAddr, b.Orchestrator, runner, ssePublisher, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout. In-flight payouts are allowed to
		// reach confirmation.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ConfirmationTimeout+30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
