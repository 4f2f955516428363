package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/duckpipe/duckpipe/internal/dataset"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Pipeline      PipelineConfig
	Datasets      DatasetConfig
	History       HistoryConfig
	Publish       PublishConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type PipelineConfig struct {
	RootDir      string
	SQLDir       string
	OutputDir    string
	ExportFormat dataset.Format
	AbortOnError bool
}

type DatasetConfig struct {
	Paths      []string
	TableNames []string
}

type HistoryConfig struct {
	Enabled         bool
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type PublishConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel    slog.Level
	LogJSON     bool
	MetricsAddr string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DUCKPIPE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DUCKPIPE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "DUCKPIPE_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_ROOT", &cfg.Pipeline.RootDir); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_SQL_DIR", &cfg.Pipeline.SQLDir); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_OUTPUT_DIR", &cfg.Pipeline.OutputDir); err != nil {
		return Config{}, err
	}
	if err := applyFormat(lookup, "DUCKPIPE_EXPORT_FORMAT", &cfg.Pipeline.ExportFormat); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKPIPE_ABORT_ON_ERROR", &cfg.Pipeline.AbortOnError); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "DUCKPIPE_DATA_PATHS", &cfg.Datasets.Paths); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "DUCKPIPE_TABLE_NAMES", &cfg.Datasets.TableNames); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKPIPE_HISTORY_ENABLED", &cfg.History.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_HISTORY_DSN", &cfg.History.DSN); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKPIPE_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKPIPE_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKPIPE_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKPIPE_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKPIPE_PUBLISH_ENABLED", &cfg.Publish.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_PUBLISH_ENDPOINT", &cfg.Publish.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_PUBLISH_REGION", &cfg.Publish.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_PUBLISH_BUCKET", &cfg.Publish.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_PUBLISH_ACCESS_KEY", &cfg.Publish.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_PUBLISH_SECRET_KEY", &cfg.Publish.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKPIPE_PUBLISH_USE_SSL", &cfg.Publish.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_PUBLISH_PREFIX", &cfg.Publish.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKPIPE_PUBLISH_AUTO_CREATE_BUCKET", &cfg.Publish.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKPIPE_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "DUCKPIPE_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKPIPE_METRICS_ADDR", &cfg.Observability.MetricsAddr); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Pipeline.SQLDir == "" {
		return Config{}, fmt.Errorf("sql dir is required")
	}
	if cfg.Pipeline.OutputDir == "" {
		return Config{}, fmt.Errorf("output dir is required")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return Config{}, fmt.Errorf("DUCKPIPE_HISTORY_DSN is required when history is enabled")
	}
	if cfg.Publish.Enabled {
		if cfg.Publish.Endpoint == "" {
			return Config{}, fmt.Errorf("DUCKPIPE_PUBLISH_ENDPOINT is required when publishing is enabled")
		}
		if cfg.Publish.Bucket == "" {
			return Config{}, fmt.Errorf("DUCKPIPE_PUBLISH_BUCKET is required when publishing is enabled")
		}
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "duckpipe"},
		Pipeline: PipelineConfig{
			SQLDir:       "sql",
			OutputDir:    "data/exports",
			ExportFormat: dataset.FormatParquet,
			AbortOnError: false,
		},
		History: HistoryConfig{
			Enabled:         false,
			DSN:             "",
			MaxOpenConns:    5,
			MaxIdleConns:    5,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Publish: PublishConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "duckpipe",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "exports",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Publish.UseSSL = true
		cfg.Publish.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyStringList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

func applyFormat(lookup LookupFunc, key string, dst *dataset.Format) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	format, err := dataset.ParseFormat(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = format
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
