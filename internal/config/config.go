// Package config содержит логику чтения конфигурации сервиса ledgerd.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса ledgerd.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	NotifyWebhookURL  string        `env:"NOTIFY_WEBHOOK_URL"`
	KafkaBrokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic        string        `env:"KAFKA_TOPIC" envDefault:"ledger-events"`
	LowStockThreshold int64         `env:"LOW_STOCK_THRESHOLD"`
	OTELEndpoint      string        `env:"OTEL_ENDPOINT"`
	OutboxInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	NotifyRate        float64       `env:"NOTIFY_RATE" envDefault:"20"`
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
	envAuthSecret := cfg.AuthSecret
	envWebhookURL := cfg.NotifyWebhookURL
	envKafkaBrokers := cfg.KafkaBrokers
	envLowStock := cfg.LowStockThreshold
	envOTELEndpoint := cfg.OTELEndpoint

	var kafkaBrokers string
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth tokens")
	flag.StringVar(&cfg.NotifyWebhookURL, "w", "", "notification webhook URL")
	flag.StringVar(&kafkaBrokers, "k", "", "comma-separated Kafka brokers")
	flag.Int64Var(&cfg.LowStockThreshold, "l", 10, "low stock notification threshold")
	flag.StringVar(&cfg.OTELEndpoint, "o", "", "OTLP HTTP endpoint for traces")

	flag.Parse()

	cfg.KafkaBrokers = splitList(kafkaBrokers)

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envWebhookURL != "" {
		cfg.NotifyWebhookURL = envWebhookURL
	}
	if len(envKafkaBrokers) > 0 {
		cfg.KafkaBrokers = splitList(strings.Join(envKafkaBrokers, ","))
	}
	if _, ok := os.LookupEnv("LOW_STOCK_THRESHOLD"); ok {
		cfg.LowStockThreshold = envLowStock
	}
	if envOTELEndpoint != "" {
		cfg.OTELEndpoint = envOTELEndpoint
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.LowStockThreshold < 0 {
		return nil, fmt.Errorf("low stock threshold must not be negative: %d", cfg.LowStockThreshold)
	}
	if cfg.OutboxInterval <= 0 {
		return nil, fmt.Errorf("outbox poll interval must be positive: %s", cfg.OutboxInterval)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
