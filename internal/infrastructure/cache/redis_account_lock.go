package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

const (
	// LockKeyPrefix namespaces the account lock keys
	LockKeyPrefix  = "ordersync:lock:"
	defaultLockTTL = 15 * time.Minute
)

// RedisAccountLocker holds one redislock lock per running sync. Locks are
// refreshed at half their TTL until released, so a long run keeps its lock
// while a crashed process loses it after one TTL.
type RedisAccountLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisAccountLocker creates a locker on an existing client
func NewRedisAccountLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisAccountLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisAccountLocker{
		locker: redislock.New(client),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire implements ordersync.AccountLocker
func (l *RedisAccountLocker) Acquire(ctx context.Context, accountKey string) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, LockKeyPrefix+accountKey, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ordersync.ErrSyncInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock for %s: %w", accountKey, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, accountKey, stop, done)

	var once sync.Once
	var releaseErr error
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
			if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				releaseErr = fmt.Errorf("release lock for %s: %w", accountKey, err)
			}
		})
		return releaseErr
	}
	return release, nil
}

func (l *RedisAccountLocker) keepAlive(lock *redislock.Lock, accountKey string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := lock.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				l.logger.Warn("Failed to refresh account lock",
					zap.String("account_key", accountKey),
					zap.Error(err),
				)
				if errors.Is(err, redislock.ErrNotObtained) {
					return
				}
			}
		}
	}
}

var _ ordersync.AccountLocker = (*RedisAccountLocker)(nil)
