package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PAYMENT_PROVIDER", "")
	t.Setenv("KAFKA_ENABLED", "")
	t.Setenv("ORDER_ATOMIC_WRITES", "")
	t.Setenv("PAYMENT_LOCK_TTL_SECONDS", "")
	t.Setenv("PAYMENT_LOCK_WAIT_MS", "")

	cfg := Load()

	assert.Equal(t, ":8084", cfg.Server.Port)
	assert.Equal(t, ProviderPortOne, cfg.Payment.Provider)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.Order.AtomicWrites)
	assert.Equal(t, 30*time.Second, cfg.Redis.PaymentLockTTL)
	assert.Equal(t, 5*time.Second, cfg.Redis.PaymentLockWait)
	assert.Equal(t, "vidflow.order.created", cfg.Kafka.Topics.OrderCreated)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", "Stripe")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("ORDER_ATOMIC_WRITES", "1")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg := Load()

	assert.Equal(t, ProviderStripe, cfg.Payment.Provider)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.True(t, cfg.Order.AtomicWrites)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Payment: PaymentConfig{Provider: ProviderPortOne}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
	assert.Contains(t, err.Error(), "PORTONE_API_SECRET")
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg = &Config{
		Database: DatabaseConfig{DSN: "postgres://x"},
		Payment:  PaymentConfig{Provider: ProviderStripe, StripeSecretKey: "sk_test"},
		Auth:     AuthConfig{JWTSecret: "secret"},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Payment.Provider = "paypal"
	assert.ErrorContains(t, cfg.Validate(), "unknown PAYMENT_PROVIDER")
}
