package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/erp/ordersync/internal/infrastructure/config"
)

func testDatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 10,
		ConnMaxIdleTime: 5,
	}
}

func openMockDatabase(t *testing.T, opts ...DatabaseOption) (*Database, sqlmock.Sqlmock, error) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	dialector := postgres.New(postgres.Config{Conn: mockDB, PreferSimpleProtocol: true})
	mock.ExpectPing()
	db, err := openDatabase(dialector, testDatabaseConfig(), opts...)
	return db, mock, err
}

func TestOpenDatabase(t *testing.T) {
	t.Run("applies pool settings", func(t *testing.T) {
		db, mock, err := openMockDatabase(t)
		require.NoError(t, err)

		stats, err := db.Stats()
		require.NoError(t, err)
		assert.Equal(t, 5, stats.MaxOpenConnections)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("runs plugins after ping", func(t *testing.T) {
		var called bool
		_, _, err := openMockDatabase(t, WithPlugin(func(db *gorm.DB) error {
			called = true
			return nil
		}))
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("plugin failure", func(t *testing.T) {
		_, _, err := openMockDatabase(t, WithPlugin(func(*gorm.DB) error {
			return errors.New("callback conflict")
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "callback conflict")
	})

	t.Run("ping failure", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		dialector := postgres.New(postgres.Config{Conn: mockDB, PreferSimpleProtocol: true})
		_, err = openDatabase(dialector, testDatabaseConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ping database")
	})
}

func TestDatabase_PingAndClose(t *testing.T) {
	db, mock, err := openMockDatabase(t)
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))

	mock.ExpectClose()
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
