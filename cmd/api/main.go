// Package main is the entry point for the PraiaFinder API server.
//
// It loads configuration, builds the catalog source and snapshot store, loads
// the first dataset, and serves the ranking endpoints through the core chassis
// (middleware, routing, health checks, Prometheus metrics).
//
// Inside AWS Lambda the router is driven by API Gateway HTTP API events;
// elsewhere it runs as a standard HTTP server. When LISTEN_FOR_RELOAD is set,
// a background listener reloads the dataset on every snapshot announcement.
//
// SIGINT and SIGTERM trigger a graceful shutdown.
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

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"praiafinder/internal/api/handlers"
	"praiafinder/internal/catalog"
	"praiafinder/internal/config"
	"praiafinder/internal/core"
	"praiafinder/internal/db"
	"praiafinder/internal/query"
	"praiafinder/internal/queue"
	"praiafinder/internal/scorestore"
	"praiafinder/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(config.SecretsFromEnv(os.LookupEnv))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("praiafinder API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	src, err := catalogSource(ctx, cfg, srv)
	if err != nil {
		return err
	}

	var awsCfg *aws.Config
	if cfg.Storage.Bucket != "" || cfg.AWS.ListenForReload {
		c, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		awsCfg = &c
	}

	var s3Client scorestore.S3API
	if cfg.Storage.Bucket != "" {
		s3Client = s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				o.UsePathStyle = true
			}
		})
	}
	store := scorestore.New(s3Client, cfg.Storage.Bucket, cfg.Storage.Key, cfg.Storage.ScoresPath, logger)

	svc := query.NewService(query.Config{
		DefaultRadiusKm: cfg.Query.DefaultRadiusKm,
		DefaultLimit:    cfg.Query.DefaultLimit,
		CacheTTL:        cfg.Query.CacheTTL,
	}, src, store, types.RealClock{}, logger)

	metrics, err := core.NewPrometheusMetrics()
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}
	srv.Metrics = metrics
	srv.MetricsHandler = metrics.Handler(logger)

	report := svc.Reload(ctx)
	metrics.RecordDataset(report.Generation, report.Locations, report.Records, report.DataHorizon)

	srv.HealthChecks = append(srv.HealthChecks, core.CheckFunc{
		Label: "dataset",
		Fn: func(context.Context) error {
			if !svc.Loaded() {
				return errors.New("no dataset loaded")
			}
			if len(svc.Dataset().Locations) == 0 {
				return errors.New("catalog is empty")
			}
			return nil
		},
	})

	rankings := handlers.NewRankingHandler(svc, srv.Validator, metrics, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, rankings.RegisterRoutes)
	srv.MountRoutes()

	if cfg.AWS.ListenForReload && cfg.AWS.SnapshotQueueURL != "" {
		startReloadListener(ctx, srv, *awsCfg, cfg, svc, metrics, logger)
	}

	if isLambdaEnvironment() {
		logger.Info("running in Lambda mode")
		lambda.Start(srv.LambdaHandler())
		return nil
	}

	return runHTTPServer(ctx, srv, cfg, logger)
}

// catalogSource builds the configured catalog source. A postgres source
// registers its pool for shutdown and a health check.
func catalogSource(ctx context.Context, cfg *config.Config, srv *core.Server) (catalog.Source, error) {
	if cfg.Catalog.Source != config.CatalogSourcePostgres {
		return catalog.FileSource{Path: cfg.Catalog.Path}, nil
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to catalog database: %w", err)
	}
	srv.Closers = append(srv.Closers, pool.Close)
	srv.HealthChecks = append(srv.HealthChecks, core.CheckFunc{Label: "database", Fn: pool.Ping})
	return catalog.DBSource{Repo: db.NewLocationRepository(pool)}, nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	return awsCfg, nil
}

// startReloadListener long-polls the snapshot queue in the background and
// reloads the dataset for every announcement batch.
func startReloadListener(
	ctx context.Context,
	srv *core.Server,
	awsCfg aws.Config,
	cfg *config.Config,
	svc *query.Service,
	metrics *core.PrometheusMetrics,
	logger *slog.Logger,
) {
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	listener := queue.NewReloadListener(client, cfg.AWS.SnapshotQueueURL, func(ctx context.Context, ev queue.SnapshotEvent) {
		report := svc.Reload(ctx)
		metrics.RecordDataset(report.Generation, report.Locations, report.Records, report.DataHorizon)
		logger.InfoContext(ctx, "dataset reloaded from announcement",
			"run_id", ev.RunID,
			"generation", report.Generation,
		)
	}, logger)

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := listener.Run(listenCtx); err != nil {
			logger.Error("reload listener stopped", "error", err)
		}
	}()
	srv.Closers = append(srv.Closers, func() {
		cancel()
		<-done
	})
}

func isLambdaEnvironment() bool {
	for _, k := range []string{"AWS_LAMBDA_RUNTIME_API", "_LAMBDA_SERVER_PORT"} {
		if _, ok := os.LookupEnv(k); ok {
			return true
		}
	}
	return false
}

// shutdownGrace bounds draining in-flight requests and closing resources.
const shutdownGrace = 10 * time.Second

// runHTTPServer serves until ctx is cancelled or the listener fails, then
// drains connections and releases the server's resources.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	hs := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", hs.Addr)
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "cause", context.Cause(gctx))

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return errors.Join(hs.Shutdown(sctx), srv.Shutdown(sctx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if lvl.UnmarshalText([]byte(level)) != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
