// Package main is the entry point for the weed tracking API server.
//
// It loads configuration, selects the store (PostgreSQL, or the in-memory
// store when running locally without DATABASE_URL), wires the optional AWS
// integrations and the inference client, and serves HTTP until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"weedtrack/internal/api/handlers"
	"weedtrack/internal/config"
	"weedtrack/internal/core"
	"weedtrack/internal/db"
	"weedtrack/internal/detection"
	"weedtrack/internal/external"
	"weedtrack/internal/memstore"
	"weedtrack/internal/mitigation"
	"weedtrack/internal/queue"
	"weedtrack/internal/telemetry"
	"weedtrack/internal/treatment"
	"weedtrack/internal/trend"
	"weedtrack/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("weedtrack API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return runHTTPServer(ctx, app, cfg, logger)
}

// app is the fully wired server plus the background work tied to it.
type app struct {
	srv       *core.Server
	collector *telemetry.Collector
}

// awsClients are the AWS SDK clients the API uses. Either may be nil.
type awsClients struct {
	sqs        queue.SQSSender
	cloudwatch telemetry.CloudWatchClient
}

type (
	storeOpener   func(context.Context, *config.Config, *slog.Logger) (types.Store, []core.HealthProbe, error)
	clientsLoader func(context.Context, *config.Config) (awsClients, error)
)

// buildApp opens the store and assembles services and handlers.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	return buildAppWith(ctx, cfg, logger, openStore, newAWSClients)
}

// buildAppWith releases the opened store if any later step fails.
func buildAppWith(ctx context.Context, cfg *config.Config, logger *slog.Logger, open storeOpener, loadClients clientsLoader) (*app, error) {
	store, probes, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	clients, err := loadClients(ctx, cfg)
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}
	a, err := assemble(cfg, store, probes, clients, logger)
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}
	return a, nil
}

// closeStore closes stores that hold resources, such as the pgx pool.
func closeStore(store types.Store, logger *slog.Logger) {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Error("closing store after startup failure", "error", err)
	}
}

// assemble wires the server around an already opened store. Split from
// buildApp so tests can run the full wiring against the in-memory store.
func assemble(cfg *config.Config, store types.Store, probes []core.HealthProbe, clients awsClients, logger *slog.Logger) (*app, error) {
	srv, err := core.NewServer(cfg, store, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, probes...)

	a := &app{srv: srv}

	var detMetrics detection.Metrics
	var mitMetrics mitigation.Metrics
	if cfg.Observability.EnableMetrics && clients.cloudwatch != nil {
		a.collector = telemetry.NewCollector(telemetry.CollectorConfig{
			Client:    clients.cloudwatch,
			Namespace: cfg.Observability.MetricNamespace,
			Logger:    logger,
		})
		srv.Metrics = a.collector
		detMetrics = a.collector
		mitMetrics = a.collector
	}

	var inferrer detection.Inferrer
	if cfg.Inference.URL != "" {
		client := external.NewInferenceClient(external.InferenceConfig{
			BaseURL:       cfg.Inference.URL,
			Timeout:       cfg.Inference.Timeout,
			MaxImageBytes: cfg.Inference.MaxImageBytes,
			Logger:        logger,
		})
		inferrer = client
		srv.HealthProbes = append(srv.HealthProbes, client)
	} else {
		logger.Warn("INFERENCE_URL not set; image inference disabled")
	}

	trackerCfg := mitigation.TrackerConfig{
		Store:       store,
		Metrics:     mitMetrics,
		Concurrency: cfg.Mitigation.BroadcastConcurrency,
		Logger:      logger,
	}
	if clients.sqs != nil {
		if pub := queue.NewMitigationPublisher(clients.sqs, cfg.AWS, logger); pub != nil {
			trackerCfg.Publisher = pub
		}
	}

	detections := detection.NewService(detection.ServiceConfig{
		Detections:    store.Detections(),
		Inferrer:      inferrer,
		Metrics:       detMetrics,
		MaxBatch:      cfg.Mitigation.MaxIngestBatch,
		MinConfidence: cfg.Inference.MinConfidence,
		Logger:        logger,
	})
	tracker := mitigation.NewTracker(trackerCfg)
	plans := treatment.NewManager(treatment.ManagerConfig{
		Plans:      store.TreatmentPlans(),
		Detections: store.Detections(),
		Logger:     logger,
	})
	trends := trend.NewAggregator(store.Detections(), store.Mitigations())

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		handlers.NewDetectionHandler(detections, srv.Validator, logger, cfg.Inference.MaxImageBytes).RegisterRoutes,
		handlers.NewMitigationHandler(tracker, srv.Validator, logger).RegisterRoutes,
		handlers.NewPlanHandler(plans, srv.Validator, logger).RegisterRoutes,
		handlers.NewTrendHandler(trends).RegisterRoutes,
	)
	srv.MountRoutes()
	return a, nil
}

// openStore connects to PostgreSQL, or falls back to the in-memory store in
// the local environment when no DATABASE_URL is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (types.Store, []core.HealthProbe, error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store, data is lost on exit")
		return memstore.New(), nil, nil
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("applying schema: %w", err)
		}
		logger.Info("database schema applied")
	}
	return db.NewStore(pool), []core.HealthProbe{db.PoolProbe{Pool: pool}}, nil
}

// newAWSClients loads the SDK config only when an AWS integration is enabled.
func newAWSClients(ctx context.Context, cfg *config.Config) (awsClients, error) {
	var clients awsClients
	if cfg.AWS.MitigationQueueURL == "" && !cfg.Observability.EnableMetrics {
		return clients, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return clients, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	if cfg.AWS.MitigationQueueURL != "" {
		clients.sqs = sqs.NewFromConfig(awsCfg)
	}
	if cfg.Observability.EnableMetrics {
		clients.cloudwatch = cloudwatch.NewFromConfig(awsCfg)
	}
	return clients, nil
}

// runHTTPServer serves until ctx is cancelled, then shuts down gracefully.
func runHTTPServer(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	metricsDone := make(chan struct{})
	metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
	if a.collector != nil {
		go func() {
			defer close(metricsDone)
			a.collector.Run(metricsCtx)
		}()
	} else {
		close(metricsDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			stopMetrics()
			<-metricsDone
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	stopMetrics()
	<-metricsDone

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
