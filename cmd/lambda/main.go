// Command lambda runs one quality batch per invocation, typically from an
// EventBridge schedule.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/couchcryptid/weather-quality-etl/internal/app"
	"github.com/couchcryptid/weather-quality-etl/internal/config"
	"github.com/couchcryptid/weather-quality-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("lambda initializing (cold start)")

	a, err := app.Build(context.Background(), cfg, clockwork.NewRealClock(), logger, observability.NewMetrics())
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	lambda.Start(newHandler(a, clockwork.NewRealClock(), logger))
}
