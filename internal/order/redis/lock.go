package redis

import (
	"context"
	"fmt"
	"time"

	"vidflow/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	lockKeyPrefix      = "payment_lock:"
	defaultLockTimeout = 30 * time.Second
)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PaymentLock keeps two deliveries of the same payment (a client redirect
// and a webhook, or two webhook retries) from verifying it concurrently.
type PaymentLock struct {
	Client *redis.Client
	TTL    time.Duration
	logger *logger.Logger
}

func NewPaymentLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *PaymentLock {
	if ttl <= 0 {
		ttl = defaultLockTimeout
	}
	return &PaymentLock{Client: client, TTL: ttl, logger: log}
}

func lockKey(paymentRef string) string {
	return lockKeyPrefix + paymentRef
}

// Acquire reports false when another owner holds the lock.
func (l *PaymentLock) Acquire(ctx context.Context, paymentRef, owner string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, lockKey(paymentRef), owner, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("lock payment %s: %w", paymentRef, err)
	}
	if !ok && l.logger != nil {
		l.logger.Debug("REDIS", fmt.Sprintf("payment %s already locked", paymentRef))
	}
	return ok, nil
}

func (l *PaymentLock) Release(ctx context.Context, paymentRef, owner string) error {
	if err := releaseScript.Run(ctx, l.Client, []string{lockKey(paymentRef)}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("unlock payment %s: %w", paymentRef, err)
	}
	return nil
}

// holder returns the current owner token, or "" when unlocked.
func (l *PaymentLock) holder(ctx context.Context, paymentRef string) (string, error) {
	val, err := l.Client.Get(ctx, lockKey(paymentRef)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
