package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	LogLevel string

	OTLPEndpoint string
	OTLPProtocol string
	OtelEnabled  bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// WebhookSigningSecret verifies inbound payment webhook signatures.
	WebhookSigningSecret string
	// WebhookInlineFulfillment controls whether the webhook handler attempts
	// fulfillment in-request. When false every event goes straight to the inbox.
	WebhookInlineFulfillment bool
	// WebhookSignatureTolerance bounds the age of a signed timestamp.
	WebhookSignatureTolerance time.Duration

	FulfillmentTimeout time.Duration

	CircuitFailureThreshold int
	CircuitCooldown         time.Duration

	InboxDrainInterval time.Duration
	InboxMinAge        time.Duration
	InboxMaxRetries    int

	HealthCheckInterval time.Duration

	ReconcileInterval time.Duration
	ReconcileStaleAge time.Duration

	RateLimit RateLimitConfig

	Email EmailConfig
}

// RateLimitConfig configures the redis-backed webhook rate limiter.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WebhookRate   float64
	WebhookBurst  int
}

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	OpsRecipient string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "simbridge"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		LogLevel: getenv("LOG_LEVEL", "info"),

		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol: strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelEnabled:  getenvBool("OTEL_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "simbridge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		WebhookSigningSecret:      strings.TrimSpace(getenv("WEBHOOK_SIGNING_SECRET", "")),
		WebhookInlineFulfillment:  getenvBool("WEBHOOK_INLINE_FULFILLMENT", true),
		WebhookSignatureTolerance: getenvDuration("WEBHOOK_SIGNATURE_TOLERANCE", 5*time.Minute),

		FulfillmentTimeout: getenvDuration("FULFILLMENT_TIMEOUT", 90*time.Second),

		CircuitFailureThreshold: getenvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		CircuitCooldown:         getenvDuration("CIRCUIT_COOLDOWN", 30*time.Second),

		InboxDrainInterval: getenvDuration("INBOX_DRAIN_INTERVAL", 60*time.Second),
		InboxMinAge:        getenvDuration("INBOX_MIN_AGE", 60*time.Second),
		InboxMaxRetries:    getenvInt("INBOX_MAX_RETRIES", 3),

		HealthCheckInterval: getenvDuration("HEALTH_CHECK_INTERVAL", 60*time.Second),

		ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileStaleAge: getenvDuration("RECONCILE_STALE_AGE", 10*time.Minute),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			WebhookRate:   getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst:  getenvInt("RATE_LIMIT_WEBHOOK_BURST", 40),
		},

		Email: EmailConfig{
			Enabled:      getenvBool("EMAIL_ENABLED", false),
			SMTPHost:     getenv("EMAIL_SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("EMAIL_SMTP_PORT", 587),
			SMTPUsername: getenv("EMAIL_SMTP_USERNAME", ""),
			SMTPPassword: getenv("EMAIL_SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("EMAIL_SMTP_FROM", "ops@simbridge.dev"),
			OpsRecipient: getenv("EMAIL_OPS_RECIPIENT", ""),
		},
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getenvFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
