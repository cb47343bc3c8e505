// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса витрины.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	JWTSecret   string `env:"JWT_SECRET"`

	IamportAPIURL    string `env:"IAMPORT_API_URL" envDefault:"https://api.iamport.kr"`
	IamportAPIKey    string `env:"IAMPORT_API_KEY"`
	IamportAPISecret string `env:"IAMPORT_API_SECRET"`

	TossAPIURL    string `env:"TOSS_API_URL" envDefault:"https://api.tosspayments.com"`
	TossSecretKey string `env:"TOSS_SECRET_KEY"`

	GatewayTimeout  time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayRetryMax int           `env:"GATEWAY_RETRY_MAX" envDefault:"2"`

	GuestTokenTTL time.Duration `env:"GUEST_TOKEN_TTL" envDefault:"720h"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"storefront.orders"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// IamportEnabled сообщает, заданы ли ключи шлюза Iamport.
func (c *Config) IamportEnabled() bool {
	return c.IamportAPIKey != "" && c.IamportAPISecret != ""
}

// TossEnabled сообщает, задан ли секретный ключ Toss.
func (c *Config) TossEnabled() bool {
	return c.TossSecretKey != ""
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for bearer token signatures")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.DatabaseURI == "" {
		return nil, errors.New("database URI is required")
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("gateway timeout must be positive, got %s", cfg.GatewayTimeout)
	}
	if cfg.GuestTokenTTL <= 0 {
		return nil, fmt.Errorf("guest token ttl must be positive, got %s", cfg.GuestTokenTTL)
	}

	return cfg, nil
}
