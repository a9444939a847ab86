// Package app assembles the batch orchestrator and its adapters from config.
// The long-running service and the Lambda handler share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/alerts"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/cloudwatch"
	kafkaadapter "github.com/couchcryptid/weather-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/postgres"
	"github.com/couchcryptid/weather-quality-etl/internal/adapter/rawarchive"
	"github.com/couchcryptid/weather-quality-etl/internal/config"
	"github.com/couchcryptid/weather-quality-etl/internal/domain"
	"github.com/couchcryptid/weather-quality-etl/internal/fetch"
	"github.com/couchcryptid/weather-quality-etl/internal/observability"
	"github.com/couchcryptid/weather-quality-etl/internal/pipeline"
	"github.com/couchcryptid/weather-quality-etl/internal/quality"
	"github.com/couchcryptid/weather-quality-etl/internal/stats"
	"github.com/jonboulle/clockwork"
)

// App is a wired orchestrator plus the resources it owns.
type App struct {
	Orchestrator *pipeline.Orchestrator

	cfg     *config.Config
	clock   clockwork.Clock
	logger  *slog.Logger
	closers []func() error
}

// Build wires every configured adapter. Unset backends are skipped: no
// DATABASE_URL means no staging or stats persistence, no bucket means raw
// archives go to RAW_LOCAL_DIR, and no queue means alerts are only logged.
func Build(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{cfg: cfg, clock: clock, logger: logger}

	client := openmeteo.NewClient(cfg.OpenMeteoBaseURL, cfg.OpenMeteoTimeout, logger)
	policy := fetch.Policy{
		MaxAttempts: cfg.FetchMaxAttempts,
		BaseDelay:   cfg.FetchBaseDelay,
		MaxDelay:    cfg.FetchMaxDelay,
		Jitter:      fetch.DefaultPolicy().Jitter,
	}
	fetcher := fetch.New(client, policy, clock, logger, metrics)

	var sinks pipeline.Sinks

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			a.Close() //nolint:errcheck // already failing
			return nil, err
		}
		sinks.Staging = postgres.NewStagingRepository(pool)
		sinks.Stats = postgres.NewStatsRepository(pool)
		logger.Info("postgres sinks enabled")
	}

	if cfg.KafkaEnabled {
		pub := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaMartTopic, cfg.KafkaReportTopic, logger)
		a.closers = append(a.closers, pub.Close)
		sinks.Mart = pub
		sinks.Reports = append(sinks.Reports, pub)
		logger.Info("kafka sinks enabled", "brokers", cfg.KafkaBrokers,
			"mart_topic", cfg.KafkaMartTopic, "report_topic", cfg.KafkaReportTopic)
	}

	var awsCfg *aws.Config
	if cfg.S3BucketName != "" || cfg.AlertQueueURL != "" || cfg.CloudWatchNamespace != "" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			a.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
	}

	if cfg.S3BucketName != "" {
		sinks.Raw = rawarchive.NewS3Sink(s3.NewFromConfig(*awsCfg), cfg.S3BucketName, logger)
		logger.Info("raw archive in s3", "bucket", cfg.S3BucketName)
	} else {
		sinks.Raw = rawarchive.NewDirSink(cfg.RawLocalDir)
		logger.Info("raw archive on local disk", "dir", cfg.RawLocalDir)
	}

	if cfg.AlertQueueURL != "" {
		sinks.Alerter = alerts.NewSQSAlerter(sqs.NewFromConfig(*awsCfg), cfg.AlertQueueURL, logger)
	} else {
		sinks.Alerter = alerts.NewLogAlerter(logger)
	}

	if cfg.CloudWatchNamespace != "" {
		sinks.Reports = append(sinks.Reports,
			cloudwatch.NewReporter(awscloudwatch.NewFromConfig(*awsCfg), cfg.CloudWatchNamespace))
	}

	store := stats.New(cfg.StatsWindow, cfg.StatsMinSamples)
	a.Orchestrator = pipeline.New(fetcher, store, sinks, pipeline.Options{
		Concurrency:        cfg.FetchConcurrency,
		Spacing:            cfg.FetchSpacing,
		BatchTimeout:       cfg.BatchTimeout,
		FreshnessSLA:       cfg.FreshnessSLA,
		Sigma:              cfg.AnomalySigma,
		CompletenessWindow: quality.CompletenessWindow(cfg.CompletenessWindow),
	}, clock, logger, metrics)

	if err := a.Orchestrator.Restore(ctx); err != nil {
		a.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return a, nil
}

// Locations returns the configured locations.
func (a *App) Locations() []domain.Location {
	return a.cfg.Locations
}

// DefaultRange is HISTORY_DAYS whole days ending at the last UTC midnight.
func (a *App) DefaultRange() domain.TimeRange {
	return domain.LastDays(a.clock.Now(), a.cfg.HistoryDays)
}

// Run executes one batch over the configured locations.
func (a *App) Run(ctx context.Context, tr domain.TimeRange) (domain.BatchReport, error) {
	return a.Orchestrator.RunBatch(ctx, a.Locations(), tr)
}

// Close releases owned resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
