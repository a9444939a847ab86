package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/weather-quality-etl/internal/adapter/http"
	"github.com/couchcryptid/weather-quality-etl/internal/app"
	"github.com/couchcryptid/weather-quality-etl/internal/config"
	"github.com/couchcryptid/weather-quality-etl/internal/observability"
	"github.com/couchcryptid/weather-quality-etl/internal/pipeline"
	"github.com/couchcryptid/weather-quality-etl/internal/scheduler"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, clockwork.NewRealClock(), logger, metrics)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, a.Orchestrator, a.Orchestrator, logger)

	sched := scheduler.New(cfg.BatchInterval, func(ctx context.Context) error {
		report, err := a.Run(ctx, a.DefaultRange())
		if errors.Is(err, pipeline.ErrBatchInProgress) {
			logger.Warn("previous batch still running; tick skipped")
			return nil
		}
		if err != nil {
			return err
		}
		if !report.Succeeded() {
			logger.Warn("batch failed quality gate", "batch_id", report.BatchID,
				"records_failed", report.RecordsFailed)
		}
		return nil
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Error("close error", "error", err)
	}

	logger.Info("shutdown complete")
}
