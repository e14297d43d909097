// Package config содержит логику чтения конфигурации сервиса предзаказов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса предзаказов.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	RedisAddress string `env:"REDIS_ADDRESS"`
	AMQPURI      string `env:"AMQP_URI"`

	PaymentAPIURL    string `env:"PAYMENT_API_URL"`
	PaymentKeyID     string `env:"PAYMENT_KEY_ID"`
	PaymentKeySecret string `env:"PAYMENT_KEY_SECRET"`

	AuthSecret           string        `env:"AUTH_SECRET"`
	ServiceChargePercent float64       `env:"SERVICE_CHARGE_PERCENT" envDefault:"10"`
	Currency             string        `env:"CURRENCY" envDefault:"INR"`
	DraftTTL             time.Duration `env:"DRAFT_TTL" envDefault:"30m"`
	SeedFile             string        `env:"SEED_FILE"`
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
	envRedisAddress := cfg.RedisAddress
	envAMQPURI := cfg.AMQPURI
	envPaymentAPIURL := cfg.PaymentAPIURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for drafts, in-memory when empty")
	flag.StringVar(&cfg.AMQPURI, "q", "", "rabbitmq URI for restaurant notifications")
	flag.StringVar(&cfg.PaymentAPIURL, "p", "", "payment processor base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envAMQPURI != "" {
		cfg.AMQPURI = envAMQPURI
	}
	if envPaymentAPIURL != "" {
		cfg.PaymentAPIURL = envPaymentAPIURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ServiceChargePercent < 0 {
		return nil, fmt.Errorf("service charge percent must not be negative: %v", cfg.ServiceChargePercent)
	}
	if cfg.DraftTTL <= 0 {
		return nil, fmt.Errorf("draft ttl must be positive: %v", cfg.DraftTTL)
	}

	return cfg, nil
}
