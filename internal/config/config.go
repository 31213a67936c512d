// Package config defines the process configuration for the PraiaFinder API and
// batch job. Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup (fail fast).
package config

import (
	"time"

	"praiafinder/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Catalog sources.
const (
	CatalogSourceFile     = "file"
	CatalogSourcePostgres = "postgres"
)

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"praiafinder"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Catalog       CatalogConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Forecast      ForecastConfig
	Batch         BatchConfig
	Query         QueryConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// CatalogConfig selects where the location catalog is read from.
type CatalogConfig struct {
	Source string `envconfig:"CATALOG_SOURCE" default:"file" validate:"oneof=file postgres"`
	Path   string `envconfig:"CATALOG_PATH" default:"data/locations.json"`
}

// DatabaseConfig holds connection and pool tuning parameters. Only used when
// the catalog source is postgres.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// StorageConfig locates the score snapshot. A key or path ending in ".zst" is
// stored zstd-compressed.
type StorageConfig struct {
	ScoresPath string `envconfig:"SCORES_PATH" default:"data/scores.json"`
	Bucket     string `envconfig:"SCORES_S3_BUCKET"`
	Key        string `envconfig:"SCORES_S3_KEY" default:"scores/latest.json.zst"`
}

// ForecastConfig configures the Open-Meteo client.
type ForecastConfig struct {
	WeatherURL string        `envconfig:"FORECAST_WEATHER_URL" default:"https://api.open-meteo.com/v1/forecast" validate:"required,url"`
	MarineURL  string        `envconfig:"FORECAST_MARINE_URL" default:"https://marine-api.open-meteo.com/v1/marine" validate:"required,url"`
	UserAgent  string        `envconfig:"FORECAST_USER_AGENT" default:"PraiaFinder/1.0"`
	Timeout    time.Duration `envconfig:"FORECAST_TIMEOUT" default:"30s"`
	MaxRetries int           `envconfig:"FORECAST_MAX_RETRIES" default:"3" validate:"gte=0,lte=10"`
	MinWait    time.Duration `envconfig:"FORECAST_RETRY_MIN_WAIT" default:"500ms"`
	MaxWait    time.Duration `envconfig:"FORECAST_RETRY_MAX_WAIT" default:"5s"`
}

// BatchConfig tunes the score precomputation run.
type BatchConfig struct {
	Days                int           `envconfig:"BATCH_DAYS" default:"5" validate:"gte=1,lte=6"`
	Zones               []string      `envconfig:"BATCH_ZONES"`
	CellResolution      float64       `envconfig:"BATCH_CELL_RESOLUTION" default:"0.1" validate:"gt=0,lte=5"`
	Concurrency         int           `envconfig:"BATCH_CONCURRENCY" default:"5" validate:"gte=1,lte=64"`
	SkipMarine          bool          `envconfig:"BATCH_SKIP_MARINE" default:"false"`
	MaxCells            int           `envconfig:"BATCH_MAX_CELLS" default:"0" validate:"gte=0"`
	MaxMarineDistanceKm float64       `envconfig:"BATCH_MAX_MARINE_DISTANCE_KM" default:"25" validate:"gt=0"`
	Stagger             time.Duration `envconfig:"BATCH_STAGGER" default:"0s"`
}

// QueryConfig holds defaults for the ranking endpoint.
type QueryConfig struct {
	DefaultRadiusKm float64       `envconfig:"QUERY_DEFAULT_RADIUS_KM" default:"40" validate:"gte=0"`
	DefaultLimit    int           `envconfig:"QUERY_DEFAULT_LIMIT" default:"5" validate:"gte=1,lte=50"`
	CacheTTL        time.Duration `envconfig:"QUERY_CACHE_TTL" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-west-1"`

	// SnapshotQueueURL receives a message after each published snapshot.
	SnapshotQueueURL string `envconfig:"SNAPSHOT_QUEUE_URL" validate:"omitempty,url"`
	// ListenForReload makes the API long-poll SnapshotQueueURL and reload on each message.
	ListenForReload bool `envconfig:"LISTEN_FOR_RELOAD" default:"false"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE" default:"PraiaFinder"`
	EnableCloudWatch bool   `envconfig:"ENABLE_CLOUDWATCH" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
