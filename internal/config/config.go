package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Payment  PaymentConfig
	Email    EmailConfig
	Auth     AuthConfig
	Order    OrderConfig
	LogDir   string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	SiteBaseURL  string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

type RedisConfig struct {
	Addr           string
	PaymentLockTTL time.Duration
	// PaymentLockWait is how long a request waits on a payment another
	// request holds before answering in_progress.
	PaymentLockWait time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderCreated        string
	PipelineStageChange string
}

const (
	ProviderPortOne = "portone"
	ProviderStripe  = "stripe"
)

type PaymentConfig struct {
	Provider            string
	PortOneAPIBase      string
	PortOneAPISecret    string
	StripeSecretKey     string
	StripeWebhookSecret string
	Timeout             time.Duration
}

type EmailConfig struct {
	APIBase string
	APIKey  string
	From    string
}

type AuthConfig struct {
	JWTSecret  string
	OIDCIssuer string
}

type OrderConfig struct {
	// AtomicWrites runs the order, card and deliverable inserts in one
	// database transaction instead of the compensation chain.
	AtomicWrites bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			SiteBaseURL:  getEnv("SITE_BASE_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			DSN:          os.Getenv("POSTGRES_DSN"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("MIGRATIONS_AUTO", false),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			PaymentLockTTL:  time.Duration(getEnvInt("PAYMENT_LOCK_TTL_SECONDS", 30)) * time.Second,
			PaymentLockWait: time.Duration(getEnvInt("PAYMENT_LOCK_WAIT_MS", 5000)) * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Topics: TopicConfig{
				OrderCreated:        getEnv("KAFKA_TOPIC_ORDER_CREATED", "vidflow.order.created"),
				PipelineStageChange: getEnv("KAFKA_TOPIC_STAGE_CHANGED", "vidflow.pipeline.stage_changed"),
			},
		},
		Payment: PaymentConfig{
			Provider:            strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderPortOne)),
			PortOneAPIBase:      getEnv("PORTONE_API_BASE", "https://api.portone.io"),
			PortOneAPISecret:    os.Getenv("PORTONE_API_SECRET"),
			StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Timeout:             time.Duration(getEnvInt("PAYMENT_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Email: EmailConfig{
			APIBase: getEnv("EMAIL_API_BASE", "https://api.resend.com"),
			APIKey:  os.Getenv("EMAIL_API_KEY"),
			From:    getEnv("EMAIL_FROM", "VidFlow <noreply@vidflow.kr>"),
		},
		Auth: AuthConfig{
			JWTSecret:  os.Getenv("JWT_SECRET"),
			OIDCIssuer: os.Getenv("OIDC_ISSUER"),
		},
		Order: OrderConfig{
			AtomicWrites: getEnvBool("ORDER_ATOMIC_WRITES", false),
		},
		LogDir: getEnv("LOG_DIR", "logs"),
	}
}

// Validate reports every missing setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN not set"))
	}
	switch c.Payment.Provider {
	case ProviderPortOne:
		if c.Payment.PortOneAPISecret == "" {
			errs = append(errs, errors.New("PORTONE_API_SECRET not set"))
		}
	case ProviderStripe:
		if c.Payment.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.Payment.Provider))
	}
	if c.Auth.JWTSecret == "" && c.Auth.OIDCIssuer == "" {
		errs = append(errs, errors.New("one of JWT_SECRET or OIDC_ISSUER must be set"))
	}
	return errors.Join(errs...)
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

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
