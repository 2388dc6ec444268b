package config

import (
	"os"
	"strconv"
	"time"
)

// Config is loaded once at startup and passed by reference into every
// constructor. Gateway keys and webhook secrets do not rotate at runtime.
type Config struct {
	Server   ServerConfig
	Stripe   StripeConfig
	Razorpay RazorpayConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Sweep    SweepConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type DynamoDBConfig struct {
	Region        string
	Endpoint      string
	PaymentsTable string
	OrdersTable   string
}

type RedisConfig struct {
	Addr     string
	DedupTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	PaymentCompleted string
	PaymentFailed    string
	DeadLetter       string
}

type AuthConfig struct {
	OIDCIssuer string
}

type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
	MinAge   time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Razorpay: RazorpayConfig{
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		},
		DynamoDB: DynamoDBConfig{
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Endpoint:      getEnv("DYNAMODB_ENDPOINT", ""),
			PaymentsTable: getEnv("PAYMENTS_TABLE", "payments"),
			OrdersTable:   getEnv("ORDERS_TABLE", "orders"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			DedupTTL: time.Duration(getEnvInt("WEBHOOK_DEDUP_TTL_HOURS", 24)) * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID: getEnv("KAFKA_GROUP_ID", "payment-service-group"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				PaymentCompleted: getEnv("KAFKA_TOPIC_PAYMENT_COMPLETED", "payment-completed"),
				PaymentFailed:    getEnv("KAFKA_TOPIC_PAYMENT_FAILED", "payment-failed"),
				DeadLetter:       getEnv("KAFKA_TOPIC_DEAD_LETTER", "payment-webhook-dlq"),
			},
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
		},
		Sweep: SweepConfig{
			Enabled:  getEnvBool("PENDING_SWEEP_ENABLED", true),
			Interval: time.Duration(getEnvInt("PENDING_SWEEP_INTERVAL_MINUTES", 10)) * time.Minute,
			MinAge:   time.Duration(getEnvInt("PENDING_SWEEP_MIN_AGE_MINUTES", 30)) * time.Minute,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
