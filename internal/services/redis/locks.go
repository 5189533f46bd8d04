package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LockManager hands out Redis-based locks so that periodic jobs (sweep,
// idempotency GC) run on one control plane instance per round.
type LockManager struct {
	client *redis.Client
	logger *zap.Logger
}

// Lock is one held distributed lock.
type Lock struct {
	client *redis.Client
	logger *zap.Logger
	key    string
	value  string
}

func NewLockManager(client *redis.Client, logger *zap.Logger) *LockManager {
	return &LockManager{
		client: client,
		logger: logger,
	}
}

// Acquire attempts to take the lock, failing immediately when another
// instance holds it. The TTL bounds how long a crashed holder can block
// the job.
func (lm *LockManager) Acquire(ctx context.Context, lockKey string, ttl time.Duration) (*Lock, error) {
	value, err := lockToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}

	key := fmt.Sprintf("lock:%s", lockKey)

	ok, err := lm.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock already held: %s", lockKey)
	}

	lm.logger.Debug("Lock acquired",
		zap.String("lock_key", lockKey),
		zap.Duration("ttl", ttl))

	return &Lock{client: lm.client, logger: lm.logger, key: key, value: value}, nil
}

// Release frees the lock if this instance still owns it.
func (l *Lock) Release(ctx context.Context) error {
	// Compare-and-delete so an expired lock taken over by another
	// instance is never released out from under it.
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result.(int64) == 0 {
		l.logger.Warn("Lock was not owned by this instance", zap.String("key", l.key))
		return fmt.Errorf("lock not owned by this instance")
	}

	l.logger.Debug("Lock released", zap.String("key", l.key))
	return nil
}

func lockToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
