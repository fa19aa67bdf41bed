// Package main is the entrypoint for the trend reporter Lambda function.
//
// An EventBridge schedule invokes it once a day. It recomputes the daily
// detection counts and the pending total from the store and publishes them
// as CloudWatch metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"weedtrack/internal/config"
	"weedtrack/internal/db"
	"weedtrack/internal/telemetry"
	"weedtrack/internal/trend"
	"weedtrack/internal/types"
)

// Report is the Lambda result, also written to the log.
type Report struct {
	Days      int `json:"days"`
	Pending   int `json:"pending"`
	Published int `json:"published"`
}

// trendSource is the subset of trend.Aggregator the reporter reads.
type trendSource interface {
	DailyCounts(ctx context.Context) ([]types.DailyCount, error)
	PendingCount(ctx context.Context) (int, error)
}

// metricSink is the subset of telemetry.Collector the reporter writes.
type metricSink interface {
	RecordDailyCounts(counts []types.DailyCount, pending int)
	Buffered() int
	Flush(ctx context.Context) error
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("TrendReporter Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:        2,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	store := db.NewStore(pool)

	collector := telemetry.NewCollector(telemetry.CollectorConfig{
		Client:    cloudwatch.NewFromConfig(awsCfg),
		Namespace: cfg.Observability.MetricNamespace,
		Logger:    logger,
	})
	agg := trend.NewAggregator(store.Detections(), store.Mitigations())

	logger.Info("TrendReporter Lambda initialized", "namespace", cfg.Observability.MetricNamespace)
	lambda.Start(newHandler(agg, collector, logger))
}

// newHandler returns the scheduled-event handler. A failed flush fails the
// invocation so EventBridge retries it.
func newHandler(src trendSource, sink metricSink, logger *slog.Logger) func(ctx context.Context, evt events.CloudWatchEvent) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, evt events.CloudWatchEvent) (Report, error) {
		logger.InfoContext(ctx, "TrendReporter invoked", "event_id", evt.ID, "scheduled_at", evt.Time.Format(time.RFC3339))

		counts, err := src.DailyCounts(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("computing daily counts: %w", err)
		}
		pending, err := src.PendingCount(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("counting pending detections: %w", err)
		}

		sink.RecordDailyCounts(counts, pending)
		published := sink.Buffered()
		if err := sink.Flush(ctx); err != nil {
			logger.ErrorContext(ctx, "metric flush failed", "error", err, "buffered", sink.Buffered())
			return Report{}, fmt.Errorf("publishing metrics: %w", err)
		}

		report := Report{Days: len(counts), Pending: pending, Published: published}
		logger.InfoContext(ctx, "trend report published",
			"days", report.Days,
			"pending", report.Pending,
			"published", report.Published,
		)
		return report, nil
	}
}
