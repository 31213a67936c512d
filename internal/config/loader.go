package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError reports why LoadConfig failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

const (
	// ssmParamSuffix marks a variable whose value is an SSM path:
	// DATABASE_URL_SSM_PARAM=/prod/praiafinder/database-url fills DATABASE_URL.
	ssmParamSuffix = "_SSM_PARAM"
	localEnv       = "local"
	ssmTimeout     = 30 * time.Second
)

// loaderDeps isolates the loader from the process environment in tests.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig reads .env (if present), resolves _SSM_PARAM pointers outside
// APP_ENV=local, processes the envconfig tags and validates the result. The
// process time zone is forced to UTC. provider may be nil locally.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does not override variables already set in the environment.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != "" && appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	validate.RegisterStructValidation(validateConfig, Config{})
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// validateConfig enforces rules that span several sub-configs.
func validateConfig(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	if cfg.Catalog.Source == CatalogSourcePostgres && cfg.Database.URL.Unmask() == "" {
		sl.ReportError(cfg.Database.URL, "Database.URL", "URL", "required_with_postgres_catalog", "")
	}
	if cfg.Catalog.Source == CatalogSourceFile && cfg.Catalog.Path == "" {
		sl.ReportError(cfg.Catalog.Path, "Catalog.Path", "Path", "required_with_file_catalog", "")
	}
	if cfg.AWS.ListenForReload && cfg.AWS.SnapshotQueueURL == "" {
		sl.ReportError(cfg.AWS.SnapshotQueueURL, "AWS.SnapshotQueueURL", "SnapshotQueueURL", "required_with_listen", "")
	}
	if cfg.Storage.Bucket == "" && cfg.Storage.ScoresPath == "" {
		sl.ReportError(cfg.Storage.ScoresPath, "Storage.ScoresPath", "ScoresPath", "required_without_bucket", "")
	}
	if cfg.Forecast.MinWait > cfg.Forecast.MaxWait {
		sl.ReportError(cfg.Forecast.MinWait, "Forecast.MinWait", "MinWait", "ltefield_max_wait", "")
	}
}

// resolveSSMParams fills every VAR that has a VAR_SSM_PARAM pointer and is
// not already set, fetching all paths in one provider call.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	targets := make(map[string]string) // SSM path -> variable
	for _, kv := range deps.environ() {
		key, path, ok := strings.Cut(kv, "=")
		if !ok || path == "" || !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}
		name := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(name); set {
			continue
		}
		targets[path] = name
	}
	if len(targets) == 0 {
		return nil
	}

	paths := slices.Sorted(maps.Keys(targets))
	if provider == nil {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a SecretProvider is required to resolve " + strings.Join(names, ", "),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()
	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := deps.setEnv(targets[p], v); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to export " + targets[p],
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
