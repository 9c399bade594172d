package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/config"
)

// LockerFactory picks the account locker implementation from configuration
type LockerFactory struct {
	redisConfig           config.RedisConfig
	ttl                   time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
	dial                  func(context.Context, config.RedisConfig) (*redis.Client, error)
}

// LockerFactoryOption is a functional option for the factory
type LockerFactoryOption func(*LockerFactory)

// WithLogger sets the logger for the factory and the lockers it creates
func WithLogger(logger *zap.Logger) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to the
// in-process locker. Default is true.
func WithInMemoryFallback(allow bool) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLockerFactory creates a new factory
func NewLockerFactory(cfg config.RedisConfig, ttl time.Duration, opts ...LockerFactoryOption) *LockerFactory {
	f := &LockerFactory{
		redisConfig:           cfg,
		ttl:                   ttl,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		dial:                  NewRedisClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLocker returns the Redis locker when Redis is enabled and reachable.
// The returned close func releases the Redis client, if any.
func (f *LockerFactory) CreateLocker(ctx context.Context) (ordersync.AccountLocker, func() error, error) {
	noop := func() error { return nil }
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory account locks")
		return NewInMemoryAccountLocker(f.ttl), noop, nil
	}

	client, err := f.dial(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("Using Redis account locks", zap.String("addr", f.redisConfig.Addr()))
		return NewRedisAccountLocker(client, f.ttl, f.logger), client.Close, nil
	}
	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("redis required for account locks but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory account locks. "+
		"Replicas will not see each other's runs.",
		zap.Error(err),
	)
	return NewInMemoryAccountLocker(f.ttl), noop, nil
}
