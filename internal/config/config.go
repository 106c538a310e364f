// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (rate limiting and derived-data cache)
	RedisAddr string `koanf:"redis_addr"`

	// Unsubscribe token signing. The previous secret keeps links issued
	// before a rotation valid.
	UnsubscribeTokenSecret         string `koanf:"unsubscribe_token_secret"`
	UnsubscribeTokenPreviousSecret string `koanf:"unsubscribe_token_previous_secret"`

	// Shared secret presented by the external scheduler on job triggers.
	CronSharedSecret string `koanf:"cron_shared_secret"`

	// Stripe
	StripeAPIKey string `koanf:"stripe_api_key"`

	// Export artifact bucket (S3-compatible object storage)
	ExportBucketName      string `koanf:"export_bucket_name"`
	ExportAccessKeyID     string `koanf:"export_access_key_id"`
	ExportSecretAccessKey string `koanf:"export_secret_access_key"`
	ExportEndpoint        string `koanf:"export_endpoint"`

	// Governance policy knobs
	ExportWindowDays   int `koanf:"export_window_days"`
	AuditRetentionDays int `koanf:"audit_retention_days"`
	AgeThresholdYears  int `koanf:"age_threshold_years"`

	// Rate limiting
	RateLimitWindowSeconds int `koanf:"rate_limit_window_seconds"`
	RateLimitMaxPerSubject int `koanf:"rate_limit_max_per_subject"`
	RateLimitMaxPerSource  int `koanf:"rate_limit_max_per_source"`

	// Tracing (OpenTelemetry OTLP export)
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL            = errors.New("DATABASE_URL is required")
	ErrMissingUnsubscribeTokenSecret = errors.New("UNSUBSCRIBE_TOKEN_SECRET is required")
	ErrMissingCronSharedSecret       = errors.New("CRON_SHARED_SECRET is required")
	ErrMissingStripeAPIKey           = errors.New("STRIPE_API_KEY is required")
	ErrInvalidPort                   = errors.New("PORT must be a valid integer")
	ErrInvalidRateLimitCeilings      = errors.New("RATE_LIMIT_MAX_PER_SOURCE must be strictly greater than RATE_LIMIT_MAX_PER_SUBJECT")
)

// Default values for non-secret configuration.
const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultExportWindowDays       = 7
	DefaultAuditRetentionDays     = 90
	DefaultAgeThresholdYears      = 13
	DefaultRateLimitWindowSeconds = 60
	DefaultRateLimitMaxPerSubject = 10
	DefaultRateLimitMaxPerSource  = 40
	DefaultTracingSampleRate      = 0.1
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be loaded,
// an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	exportWindowDays, err := getEnvIntOrDefault("EXPORT_WINDOW_DAYS", k.Int("export_window_days"), DefaultExportWindowDays)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	auditRetentionDays, err := getEnvIntOrDefault("AUDIT_RETENTION_DAYS", k.Int("audit_retention_days"), DefaultAuditRetentionDays)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	ageThresholdYears, err := getEnvIntOrDefault("AGE_THRESHOLD_YEARS", k.Int("age_threshold_years"), DefaultAgeThresholdYears)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rlWindow, err := getEnvIntOrDefault("RATE_LIMIT_WINDOW_SECONDS", k.Int("rate_limit_window_seconds"), DefaultRateLimitWindowSeconds)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rlSubject, err := getEnvIntOrDefault("RATE_LIMIT_MAX_PER_SUBJECT", k.Int("rate_limit_max_per_subject"), DefaultRateLimitMaxPerSubject)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rlSource, err := getEnvIntOrDefault("RATE_LIMIT_MAX_PER_SOURCE", k.Int("rate_limit_max_per_source"), DefaultRateLimitMaxPerSource)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	tracingSampleRate := k.Float64("tracing_sample_rate")
	if raw := os.Getenv("TRACING_SAMPLE_RATE"); raw != "" {
		f, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil {
			loadErrs = append(loadErrs, fmt.Errorf("TRACING_SAMPLE_RATE must be a valid float: %w", parseErr))
		} else {
			tracingSampleRate = f
		}
	}
	if tracingSampleRate == 0 {
		tracingSampleRate = DefaultTracingSampleRate
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                           port,
		Env:                            getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:                    getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:                      getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		UnsubscribeTokenSecret:         getEnvOrKoanf("UNSUBSCRIBE_TOKEN_SECRET", k, "unsubscribe_token_secret"),
		UnsubscribeTokenPreviousSecret: getEnvOrKoanf("UNSUBSCRIBE_TOKEN_PREVIOUS_SECRET", k, "unsubscribe_token_previous_secret"),
		CronSharedSecret:               getEnvOrKoanf("CRON_SHARED_SECRET", k, "cron_shared_secret"),
		StripeAPIKey:                   getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),
		ExportBucketName:               getEnvOrKoanf("EXPORT_BUCKET_NAME", k, "export_bucket_name"),
		ExportAccessKeyID:              getEnvOrKoanf("EXPORT_ACCESS_KEY_ID", k, "export_access_key_id"),
		ExportSecretAccessKey:          getEnvOrKoanf("EXPORT_SECRET_ACCESS_KEY", k, "export_secret_access_key"),
		ExportEndpoint:                 getEnvOrKoanf("EXPORT_ENDPOINT", k, "export_endpoint"),
		ExportWindowDays:               exportWindowDays,
		AuditRetentionDays:             auditRetentionDays,
		AgeThresholdYears:              ageThresholdYears,
		RateLimitWindowSeconds:         rlWindow,
		RateLimitMaxPerSubject:         rlSubject,
		RateLimitMaxPerSource:          rlSource,
		TracingEnabled:                 getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled"),
		TracingExporter:                getEnvOrKoanf("TRACING_EXPORTER", k, "tracing_exporter"),
		OTLPEndpoint:                   getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate:              tracingSampleRate,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvBoolOrKoanf returns the environment variable as bool if set, otherwise the koanf value.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	if val := os.Getenv(envKey); val != "" {
		return val == "true" || val == "1"
	}
	return k.Bool(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.UnsubscribeTokenSecret == "" {
		errs = append(errs, ErrMissingUnsubscribeTokenSecret)
	}
	if c.CronSharedSecret == "" {
		errs = append(errs, ErrMissingCronSharedSecret)
	}
	if c.StripeAPIKey == "" {
		errs = append(errs, ErrMissingStripeAPIKey)
	}
	if c.RateLimitMaxPerSource <= c.RateLimitMaxPerSubject {
		errs = append(errs, ErrInvalidRateLimitCeilings)
	}

	return errs
}
