// Package main is the entrypoint for the score batch job.
//
// In AWS Lambda it is triggered by a scheduled EventBridge rule (or a manual
// invocation carrying RunOptions) and delegates to batcher.Handler. Outside
// Lambda it is a command-line tool:
//
//	batcher --days 3 --zones lisboa,algarve --skip-marine
//
// This file handles dependency wiring and the CloudWatch metric publisher;
// all business logic lives in internal/batcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"praiafinder/internal/batcher"
	"praiafinder/internal/catalog"
	"praiafinder/internal/config"
	"praiafinder/internal/db"
	"praiafinder/internal/external"
	"praiafinder/internal/forecasts"
	"praiafinder/internal/queue"
	"praiafinder/internal/scorestore"
	"praiafinder/internal/types"
)

// --- Metric Publisher Implementation ---

// cloudwatchAPI is the subset of the CloudWatch SDK client used by the batcher.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// liveMetricPublisher implements batcher.MetricPublisher on CloudWatch.
type liveMetricPublisher struct {
	client      cloudwatchAPI
	namespace   string
	environment string
}

// PublishRun emits the size, failure and duration figures of one run,
// dimensioned by environment.
func (p *liveMetricPublisher) PublishRun(ctx context.Context, report *batcher.RunReport) error {
	dims := []cwTypes.Dimension{
		{
			Name:  aws.String(types.DimEnvironment),
			Value: aws.String(p.environment),
		},
	}
	count := func(name string, v int) cwTypes.MetricDatum {
		return cwTypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwTypes.StandardUnitCount,
			Dimensions: dims,
		}
	}

	data := []cwTypes.MetricDatum{
		count(types.MetricBatchRecords, report.Records),
		count(types.MetricBatchCells, report.Cells),
		count(types.MetricBatchCellsFailed, report.CellsFailed),
		count(types.MetricBatchMarineDiscarded, report.MarineDiscarded),
	}
	if !report.FinishedAt.IsZero() {
		data = append(data, cwTypes.MetricDatum{
			MetricName: aws.String(types.MetricBatchDuration),
			Value:      aws.Float64(float64(report.FinishedAt.Sub(report.StartedAt).Milliseconds())),
			Unit:       cwTypes.StandardUnitMilliseconds,
			Dimensions: dims,
		})
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish batch run metrics: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.LoadConfig(config.SecretsFromEnv(os.LookupEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if isLambdaEnvironment() {
		logger.Info("batcher Lambda initializing (cold start)")
		b, cleanup, err := buildBatcher(context.Background(), cfg, logger)
		if err != nil {
			logger.Error("failed to wire batcher", "error", err)
			os.Exit(1)
		}
		defer cleanup()
		lambda.Start(b.Handler)
		return
	}

	if err := rootCommand(cfg, logger).Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCommand is the local CLI. Flags override the environment configuration
// for one run.
func rootCommand(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	var (
		opts       batcher.RunOptions
		skipMarine bool
		payload    string
	)

	cmd := &cobra.Command{
		Use:           "batcher",
		Short:         "Precompute suitability scores for the location catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if payload != "" {
				parsed, err := batcher.ParseTrigger(json.RawMessage(payload))
				if err != nil {
					return err
				}
				opts = parsed
			}
			if cmd.Flags().Changed("skip-marine") {
				opts.SkipMarine = &skipMarine
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, cleanup, err := buildBatcher(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := b.Run(ctx, opts)
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(report)
			}
			if err != nil {
				logger.Error("batch run failed", "error", err)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Days, "days", 0, "forecast horizon in days, 1 to 6 (default from BATCH_DAYS)")
	f.StringSliceVar(&opts.Zones, "zones", nil, "restrict the run to these zone tags")
	f.BoolVar(&skipMarine, "skip-marine", false, "do not fetch marine forecasts")
	f.StringVar(&payload, "event", "", "JSON trigger payload, as the Lambda would receive it")
	f.Float64Var(&cfg.Batch.CellResolution, "cell-res", cfg.Batch.CellResolution, "grid cell size in degrees")
	f.IntVar(&cfg.Batch.Concurrency, "concurrency", cfg.Batch.Concurrency, "cells fetched in parallel")
	f.IntVar(&cfg.Batch.MaxCells, "limit-cells", cfg.Batch.MaxCells, "process at most this many cells (0 = all)")
	f.DurationVar(&cfg.Batch.Stagger, "stagger", cfg.Batch.Stagger, "random delay before each cell's first request")
	f.StringVar(&cfg.Storage.ScoresPath, "out", cfg.Storage.ScoresPath, "local snapshot path")
	f.StringVar(&cfg.Forecast.UserAgent, "ua", cfg.Forecast.UserAgent, "User-Agent sent to the forecast provider")
	return cmd
}

// buildBatcher wires the catalog, forecast client, snapshot store and the
// optional notifier and metric publisher from cfg.
func buildBatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*batcher.Batcher, func(), error) {
	cleanup := func() {}

	var src catalog.Source = catalog.FileSource{Path: cfg.Catalog.Path}
	if cfg.Catalog.Source == config.CatalogSourcePostgres {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to catalog database: %w", err)
		}
		cleanup = pool.Close
		src = catalog.DBSource{Repo: db.NewLocationRepository(pool)}
	}

	needAWS := cfg.Storage.Bucket != "" || cfg.AWS.SnapshotQueueURL != "" || cfg.Observability.EnableCloudWatch
	var awsCfg aws.Config
	if needAWS {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("loading AWS SDK config: %w", err)
		}
	}

	var s3Client scorestore.S3API
	if cfg.Storage.Bucket != "" {
		s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				o.UsePathStyle = true
			}
		})
	}

	fc := forecasts.NewClient(forecasts.Config{
		WeatherURL: cfg.Forecast.WeatherURL,
		MarineURL:  cfg.Forecast.MarineURL,
		UserAgent:  cfg.Forecast.UserAgent,
		Timeout:    cfg.Forecast.Timeout,
		Retry: external.RetryPolicy{
			MaxRetries: cfg.Forecast.MaxRetries,
			MinWait:    cfg.Forecast.MinWait,
			MaxWait:    cfg.Forecast.MaxWait,
		},
	}, &http.Client{Timeout: cfg.Forecast.Timeout}, logger)

	b := &batcher.Batcher{
		Config: batcher.Config{
			Days:                cfg.Batch.Days,
			Zones:               cfg.Batch.Zones,
			CellResolution:      cfg.Batch.CellResolution,
			Concurrency:         cfg.Batch.Concurrency,
			SkipMarine:          cfg.Batch.SkipMarine,
			MaxCells:            cfg.Batch.MaxCells,
			MaxMarineDistanceKm: cfg.Batch.MaxMarineDistanceKm,
			Stagger:             cfg.Batch.Stagger,
		},
		Log:       logger,
		Catalog:   src,
		Forecasts: fc,
		Store:     scorestore.New(s3Client, cfg.Storage.Bucket, cfg.Storage.Key, cfg.Storage.ScoresPath, logger),
		Clock:     types.RealClock{},
	}

	if cfg.AWS.SnapshotQueueURL != "" {
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		b.Notifier = queue.NewSnapshotNotifier(client, cfg.AWS.SnapshotQueueURL, logger)
	}
	if cfg.Observability.EnableCloudWatch {
		b.Metrics = &liveMetricPublisher{
			client:      cloudwatch.NewFromConfig(awsCfg),
			namespace:   cfg.Observability.MetricNamespace,
			environment: cfg.Environment,
		}
	}

	logger.Info("batcher wired",
		"catalog", cfg.Catalog.Source,
		"store", b.Store.Name(),
		"days", cfg.Batch.Days,
		"concurrency", cfg.Batch.Concurrency,
		"notify", b.Notifier != nil,
		"cloudwatch", b.Metrics != nil,
	)
	return b, cleanup, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
