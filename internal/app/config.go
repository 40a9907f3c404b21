package app

import (
	"os"
	"time"
)

// Config описывает настройки запуска сервиса. Подсистемы с пустыми
// адресами (Postgres, Kafka, Redis) не включаются: сервис остаётся
// работоспособным на in-memory хранилище без брокера и кэша.
type Config struct {
	APIAddr     string
	MetricsAddr string

	PostgresDSN   string
	KafkaBrokers  string
	RedisAddr     string
	WebhookSecret string

	// PendingTTL — максимальный возраст заказа в pending до перевода
	// в failed фоновым воркером.
	PendingTTL     time.Duration
	ExpiryInterval time.Duration

	ProductCacheTTL time.Duration
}

// DefaultConfig возвращает базовые настройки.
func DefaultConfig() Config {
	return Config{
		APIAddr:         ":8080",
		MetricsAddr:     ":9090",
		PendingTTL:      30 * time.Minute,
		ExpiryInterval:  time.Minute,
		ProductCacheTTL: 30 * time.Second,
	}
}

// ConfigFromEnv строит Config из переменных окружения CHECKOUT_*
// поверх значений по умолчанию.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("CHECKOUT_API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("CHECKOUT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.PostgresDSN = os.Getenv("CHECKOUT_POSTGRES_DSN")
	cfg.KafkaBrokers = os.Getenv("CHECKOUT_KAFKA_BROKERS")
	cfg.RedisAddr = os.Getenv("CHECKOUT_REDIS_ADDR")
	cfg.WebhookSecret = os.Getenv("CHECKOUT_WEBHOOK_SECRET")

	if v := os.Getenv("CHECKOUT_PENDING_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.PendingTTL = parsed
		}
	}
	if v := os.Getenv("CHECKOUT_EXPIRY_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.ExpiryInterval = parsed
		}
	}
	if v := os.Getenv("CHECKOUT_PRODUCT_CACHE_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.ProductCacheTTL = parsed
		}
	}

	return cfg
}
