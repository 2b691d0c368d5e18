// Package config handles loading and managing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Env string `yaml:"env" env:"ENV" env-default:"local"`

	// Server configuration
	Server ServerConfig `yaml:"http"`

	// ZaloPay gateway configuration
	ZaloPay ZaloPayConfig `yaml:"zalopay"`

	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string        `yaml:"port" env:"PORT" env-default:"3000"`
	GinMode     string        `yaml:"gin_mode" env:"GIN_MODE" env-default:"debug"` // "debug", "release", or "test"
	ReadTimeout time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	// ServiceAPIKey guards operator endpoints (reconciliation).
	ServiceAPIKey string `yaml:"service_api_key" env:"PAYMENTS_SERVICE_API_KEY"`
}

// ZaloPayConfig holds the merchant credentials and endpoints of the gateway.
// Key1 signs outbound requests, Key2 authenticates callbacks.
type ZaloPayConfig struct {
	AppID       string        `yaml:"app_id" env:"ZALOPAY_APP_ID"`
	Key1        string        `yaml:"key1" env:"ZALOPAY_KEY1"`
	Key2        string        `yaml:"key2" env:"ZALOPAY_KEY2"`
	Endpoint    string        `yaml:"endpoint" env:"ZALOPAY_ENDPOINT" env-default:"https://sb-openapi.zalopay.vn/v2"`
	CallbackURL string        `yaml:"callback_url" env:"ZALOPAY_CALLBACK_URL"`
	RedirectURL string        `yaml:"redirect_url" env:"FRONTEND_URL" env-default:"http://localhost:3001"`
	FallbackURL string        `yaml:"fallback_url" env:"PAYMENT_FALLBACK_URL"`
	Timeout     time.Duration `yaml:"timeout" env:"ZALOPAY_TIMEOUT" env-default:"10s"`
}

// PostgresConfig holds the connection settings of the payment store.
// An empty URL selects the in-memory store.
type PostgresConfig struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

// RedisConfig holds the status cache settings.
type RedisConfig struct {
	Enabled bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr    string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	TTL     time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"10m"`
}

// KafkaConfig holds the payment event publishing settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"payment_events"`
}

// ReconcilerConfig controls the background sweep of stale pending payments.
type ReconcilerConfig struct {
	Enabled   bool          `yaml:"enabled" env:"RECONCILER_ENABLED" env-default:"true"`
	Interval  time.Duration `yaml:"interval" env:"RECONCILER_INTERVAL" env-default:"1m"`
	OlderThan time.Duration `yaml:"older_than" env:"RECONCILER_OLDER_THAN" env-default:"15m"`
	BatchSize int           `yaml:"batch_size" env:"RECONCILER_BATCH_SIZE" env-default:"50"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
}

// Load reads configuration from an optional .env file, an optional YAML file
// pointed to by CONFIG_PATH, and environment variables (which take precedence).
func Load() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error reading env: %w", err)
	}

	if cfg.ZaloPay.FallbackURL == "" {
		cfg.ZaloPay.FallbackURL = cfg.ZaloPay.RedirectURL
	}

	return &cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	var errs []error

	if c.ZaloPay.AppID == "" {
		errs = append(errs, errors.New("ZALOPAY_APP_ID is required"))
	}
	if c.ZaloPay.Key1 == "" {
		errs = append(errs, errors.New("ZALOPAY_KEY1 is required"))
	}
	if c.ZaloPay.Key2 == "" {
		errs = append(errs, errors.New("ZALOPAY_KEY2 is required"))
	}
	if c.ZaloPay.Endpoint == "" {
		errs = append(errs, errors.New("ZALOPAY_ENDPOINT is required"))
	}
	if c.Kafka.Enabled && c.Postgres.URL == "" {
		errs = append(errs, errors.New("KAFKA_ENABLED requires DB_URL: events are relayed from the postgres outbox"))
	}

	return errors.Join(errs...)
}
