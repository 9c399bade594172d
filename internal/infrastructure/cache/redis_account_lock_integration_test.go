//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/config"
)

func newRedisConfig(t *testing.T) config.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return config.RedisConfig{Enabled: true, Host: host, Port: port.Int()}
}

func TestRedisAccountLocker(t *testing.T) {
	cfg := newRedisConfig(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisAccountLocker(client, 2*time.Second, zaptest.NewLogger(t))

	release, err := locker.Acquire(ctx, "C001")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "C001")
	assert.ErrorIs(t, err, ordersync.ErrSyncInProgress)

	// the keepalive refreshes the key past its original TTL
	time.Sleep(3 * time.Second)
	_, err = locker.Acquire(ctx, "C001")
	assert.ErrorIs(t, err, ordersync.ErrSyncInProgress)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx), "release is idempotent")

	exists, err := client.Exists(ctx, fmt.Sprintf("%s%s", LockKeyPrefix, "C001")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	again, err := locker.Acquire(ctx, "C001")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
