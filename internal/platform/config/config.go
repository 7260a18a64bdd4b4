package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment so main
// stays lean.
type Config struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string

	Provider Provider
	Webhook  Webhook
	Redis    Redis
	Kafka    Kafka

	// DefaultExpirationDays is applied when a create request does not carry
	// an explicit expiration.
	DefaultExpirationDays int
	// ExpirySweepInterval controls the background sweep that moves overdue
	// envelopes to EXPIRED. Zero disables the sweep.
	ExpirySweepInterval time.Duration
}

// Provider holds the signing provider endpoints and credential material.
type Provider struct {
	BaseURL        string
	TokenURL       string
	IntegrationKey string
	UserID         string
	PrivateKeyPEM  string
	RequestTimeout time.Duration
}

// Webhook holds inbound notification verification settings.
type Webhook struct {
	// SharedSecret signs provider notifications; both sides must agree.
	SharedSecret string
}

// Redis configures the signed-document retry queue. Empty URL disables it.
type Redis struct {
	URL string
}

// Kafka configures the notification sink. Empty broker list falls back to a
// no-op notifier.
type Kafka struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables with dev-safe defaults.
func FromEnv() Config {
	cfg := Config{
		Addr:                  envOr("SIGNETRY_ADDR", ":8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		JWTSigningKey:         envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DefaultExpirationDays: envInt("ENVELOPE_EXPIRATION_DAYS", 30),
		ExpirySweepInterval:   envDuration("EXPIRY_SWEEP_INTERVAL", 15*time.Minute),
		Provider: Provider{
			BaseURL:        os.Getenv("PROVIDER_BASE_URL"),
			TokenURL:       os.Getenv("PROVIDER_TOKEN_URL"),
			IntegrationKey: os.Getenv("PROVIDER_INTEGRATION_KEY"),
			UserID:         os.Getenv("PROVIDER_USER_ID"),
			PrivateKeyPEM:  os.Getenv("PROVIDER_PRIVATE_KEY"),
			RequestTimeout: envDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Webhook: Webhook{
			SharedSecret: os.Getenv("WEBHOOK_SHARED_SECRET"),
		},
		Redis: Redis{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: Kafka{
			Topic: envOr("NOTIFY_TOPIC", "signetry.notifications"),
		},
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
