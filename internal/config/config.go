// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Role selects which settings are mandatory.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// Config is the full service configuration. Keys match environment variable names.
type Config struct {
	AWSRegion        string `mapstructure:"AWS_REGION" validate:"required"`
	AWSEndpoint      string `mapstructure:"AWS_ENDPOINT_OVERRIDE" validate:"omitempty,url"`
	OrdersTable      string `mapstructure:"ORDERS_TABLE" validate:"required"`
	IdempotencyTable string `mapstructure:"IDEMPOTENCY_TABLE"`
	SourceBucket     string `mapstructure:"SOURCE_BUCKET" validate:"required"`
	DestBucket       string `mapstructure:"DESTINATION_BUCKET" validate:"required"`
	QueueURL         string `mapstructure:"GENERATION_QUEUE_URL" validate:"omitempty,url"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	WorkerURL      string `mapstructure:"WORKER_URL" validate:"omitempty,url"`
	WorkerSecret   string `mapstructure:"WORKER_SECRET" validate:"required_with=WorkerURL WorkerHTTPAddr"`
	WorkerHTTPAddr string `mapstructure:"WORKER_HTTP_ADDR"`

	DownloadURLTTL      time.Duration `mapstructure:"DOWNLOAD_URL_TTL"`
	ExternalCallTimeout time.Duration `mapstructure:"EXTERNAL_CALL_TIMEOUT"`
	WebhookDedupeTTL    time.Duration `mapstructure:"WEBHOOK_DEDUPE_TTL"`
	WebhookClaimLease   time.Duration `mapstructure:"WEBHOOK_CLAIM_LEASE"`
	MetricsNamespace    string        `mapstructure:"METRICS_NAMESPACE"`

	RunLocal   bool   `mapstructure:"RUN_LOCAL"`
	ListenAddr string `mapstructure:"LISTEN_ADDR" validate:"required"`
	LogLevel   string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
}

var defaults = map[string]any{
	"AWS_REGION":            "us-east-1",
	"AWS_ENDPOINT_OVERRIDE": "",
	"ORDERS_TABLE":          "",
	"IDEMPOTENCY_TABLE":     "",
	"SOURCE_BUCKET":         "",
	"DESTINATION_BUCKET":    "",
	"GENERATION_QUEUE_URL":  "",
	"STRIPE_SECRET_KEY":     "",
	"STRIPE_WEBHOOK_SECRET": "",
	"WORKER_URL":            "",
	"WORKER_SECRET":         "",
	"WORKER_HTTP_ADDR":      "",
	"DOWNLOAD_URL_TTL":      "2h",
	"EXTERNAL_CALL_TIMEOUT": "20s",
	"WEBHOOK_DEDUPE_TTL":    "48h",
	"WEBHOOK_CLAIM_LEASE":   "2m",
	"METRICS_NAMESPACE":     "TypeFoundry/Fulfillment",
	"RUN_LOCAL":             false,
	"LISTEN_ADDR":           ":8080",
	"LOG_LEVEL":             "info",
}

// Load reads the environment and validates the result for role.
func Load(role Role) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(role); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field rules plus the settings role depends on.
func (c *Config) Validate(role Role) error {
	var errs []error
	if err := validatorv10.New().Struct(c); err != nil {
		errs = append(errs, err)
	}
	if role == RoleAPI {
		if c.IdempotencyTable == "" {
			errs = append(errs, errors.New("IDEMPOTENCY_TABLE is required"))
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
		}
	}
	for name, d := range map[string]time.Duration{
		"DOWNLOAD_URL_TTL":      c.DownloadURLTTL,
		"EXTERNAL_CALL_TIMEOUT": c.ExternalCallTimeout,
		"WEBHOOK_DEDUPE_TTL":    c.WebhookDedupeTTL,
		"WEBHOOK_CLAIM_LEASE":   c.WebhookClaimLease,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ZerologLevel maps LOG_LEVEL to a zerolog level.
func (c *Config) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// ConfigureLogging sets up the global zerolog logger: JSON on stdout, or a console
// writer when running locally.
func (c *Config) ConfigureLogging() {
	zerolog.SetGlobalLevel(c.ZerologLevel())
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.RunLocal {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
