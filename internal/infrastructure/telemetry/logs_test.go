package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewZapOTELCore_DisabledIsNop(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())

	core := NewZapOTELCore(ZapBridgeConfig{ServiceName: "ordersync", LoggerProvider: lp, Level: zapcore.InfoLevel})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	core = NewZapOTELCore(ZapBridgeConfig{ServiceName: "ordersync"})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestLevelFilterCore(t *testing.T) {
	base, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: base, minLevel: zapcore.WarnLevel}

	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.WarnLevel))

	logger := zap.New(core).With(zap.String("account_key", "C001"))
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept too")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
	assert.Equal(t, "C001", logs.All()[0].ContextMap()["account_key"])
}

func TestNewBridgedLogger_Tees(t *testing.T) {
	first, firstLogs := observer.New(zapcore.InfoLevel)
	second, secondLogs := observer.New(zapcore.InfoLevel)

	NewBridgedLogger(first, second).Info("sync finished")

	assert.Equal(t, 1, firstLogs.Len())
	assert.Equal(t, 1, secondLogs.Len())
}
