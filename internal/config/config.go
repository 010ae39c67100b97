// Package config содержит логику чтения конфигурации сервиса расчётов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress        = "localhost:8080"
	defaultRateLimit         = 60
	defaultSettlementTimeout = 10 * time.Second
)

// Config содержит параметры конфигурации сервиса расчётов.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	AuthSecret          string        `env:"AUTH_SECRET"`
	RedisAddress        string        `env:"REDIS_ADDRESS"`
	RateLimit           int           `env:"RATE_LIMIT"`
	OTelEndpoint        string        `env:"OTEL_EXPORTER_ENDPOINT"`
	SettlementTimeout   time.Duration `env:"SETTLEMENT_TIMEOUT"`
	AdminToken          string        `env:"ADMIN_TOKEN"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.StripeWebhookSecret, "w", "", "stripe webhook signing secret")
	flag.StringVar(&cfg.AuthSecret, "s", "", "auth cookie signing secret")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for rate limiting")
	flag.IntVar(&cfg.RateLimit, "l", defaultRateLimit, "read API requests per minute per user")
	flag.StringVar(&cfg.OTelEndpoint, "o", "", "OTLP/HTTP trace exporter endpoint")
	flag.DurationVar(&cfg.SettlementTimeout, "t", defaultSettlementTimeout, "webhook settlement timeout")
	flag.StringVar(&cfg.AdminToken, "k", "", "bearer token for the events endpoint")

	flag.Parse()

	overrideString(&cfg.RunAddress, envCfg.RunAddress)
	overrideString(&cfg.DatabaseURI, envCfg.DatabaseURI)
	overrideString(&cfg.StripeWebhookSecret, envCfg.StripeWebhookSecret)
	overrideString(&cfg.AuthSecret, envCfg.AuthSecret)
	overrideString(&cfg.RedisAddress, envCfg.RedisAddress)
	overrideString(&cfg.OTelEndpoint, envCfg.OTelEndpoint)
	overrideString(&cfg.AdminToken, envCfg.AdminToken)
	if envCfg.RateLimit != 0 {
		cfg.RateLimit = envCfg.RateLimit
	}
	if envCfg.SettlementTimeout != 0 {
		cfg.SettlementTimeout = envCfg.SettlementTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = defaultSettlementTimeout
	}

	return cfg, nil
}

// Validate проверяет обязательные параметры.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURI == "" {
		errs = append(errs, errors.New("database URI is required"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("stripe webhook secret is required"))
	}
	return errors.Join(errs...)
}

func overrideString(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
