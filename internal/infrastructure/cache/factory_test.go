package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/erp/ordersync/internal/infrastructure/config"
)

func failingDial(context.Context, config.RedisConfig) (*redis.Client, error) {
	return nil, errors.New("connection refused")
}

func TestLockerFactory_CreateLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("redis disabled", func(t *testing.T) {
		f := NewLockerFactory(config.RedisConfig{}, time.Minute, WithLogger(zaptest.NewLogger(t)))
		locker, closeFn, err := f.CreateLocker(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemoryAccountLocker{}, locker)
		assert.NoError(t, closeFn())
	})

	t.Run("falls back when redis is unreachable", func(t *testing.T) {
		f := NewLockerFactory(config.RedisConfig{Enabled: true, Host: "localhost", Port: 6379}, time.Minute,
			WithLogger(zaptest.NewLogger(t)))
		f.dial = failingDial

		locker, _, err := f.CreateLocker(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemoryAccountLocker{}, locker)
	})

	t.Run("fails without fallback", func(t *testing.T) {
		f := NewLockerFactory(config.RedisConfig{Enabled: true, Host: "localhost", Port: 6379}, time.Minute,
			WithInMemoryFallback(false))
		f.dial = failingDial

		_, _, err := f.CreateLocker(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}
