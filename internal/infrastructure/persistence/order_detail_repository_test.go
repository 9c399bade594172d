package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
)

func TestGormOrderDetailRepository_ReplaceLines(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderDetailRepository(db)
	repo.now = func() time.Time { return repoNow }
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	eta := repoNow.AddDate(0, 0, 7)
	n, err := repo.ReplaceLines(ctx, []uuid.UUID{a, b}, []ordersync.OrderLine{
		{OrderSummaryID: a, OrderNbr: "SO1", LineNbr: 2, OrderQty: decimal.NewFromInt(3)},
		{OrderSummaryID: a, OrderNbr: "SO1", LineNbr: 1, OrderQty: decimal.RequireFromString("4.5"), ETA: &eta},
		{OrderSummaryID: b, OrderNbr: "SO2", LineNbr: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	lines, err := repo.LinesFor(ctx, a)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 1, lines[0].LineNbr)
	assert.True(t, lines[0].OrderQty.Equal(decimal.RequireFromString("4.5")))
	require.NotNil(t, lines[0].ETA)
	assert.True(t, lines[0].ETA.Equal(eta))
	assert.NotEqual(t, uuid.Nil, lines[0].ID)

	t.Run("replaces wholesale and clears listed orders", func(t *testing.T) {
		n, err := repo.ReplaceLines(ctx, []uuid.UUID{a, b}, []ordersync.OrderLine{
			{OrderSummaryID: a, OrderNbr: "SO1", LineNbr: 5},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		lines, err := repo.LinesFor(ctx, a)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, 5, lines[0].LineNbr)

		none, err := repo.LinesFor(ctx, b)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestGormOrderDetailRepository_Upserts(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderDetailRepository(db)
	ctx := context.Background()
	id := uuid.New()

	_, err := repo.UpsertAddresses(ctx, []ordersync.OrderAddress{{OrderSummaryID: id, OrderNbr: "SO1", City: "Austin"}})
	require.NoError(t, err)
	_, err = repo.UpsertAddresses(ctx, []ordersync.OrderAddress{
		{OrderSummaryID: id, OrderNbr: "SO1", City: "Dallas"},
		{OrderSummaryID: id, OrderNbr: "SO1", City: "Houston"},
	})
	require.NoError(t, err)

	var addrs []models.OrderAddressModel
	require.NoError(t, db.Find(&addrs).Error)
	require.Len(t, addrs, 1)
	assert.Equal(t, "Houston", addrs[0].ToDomain().City)

	_, err = repo.UpsertContacts(ctx, []ordersync.OrderContact{{OrderSummaryID: id, OrderNbr: "SO1", Email: "a@acme.test"}})
	require.NoError(t, err)
	_, err = repo.UpsertContacts(ctx, []ordersync.OrderContact{{OrderSummaryID: id, OrderNbr: "SO1", Email: "b@acme.test"}})
	require.NoError(t, err)
	var contact models.OrderContactModel
	require.NoError(t, db.First(&contact, "order_summary_id = ?", id).Error)
	assert.Equal(t, "b@acme.test", contact.Email)

	paid := repoNow.AddDate(0, 0, -1)
	_, err = repo.UpsertPayments(ctx, []ordersync.OrderPayment{{
		OrderSummaryID: id, OrderNbr: "SO1", PaymentCount: 2,
		PaidAmount: decimal.NewFromInt(40), LastPaymentDate: &paid, LastPaymentRef: "PMT-2",
	}})
	require.NoError(t, err)
	var pay models.OrderPaymentModel
	require.NoError(t, db.First(&pay, "order_summary_id = ?", id).Error)
	got := pay.ToDomain()
	assert.Equal(t, 2, got.PaymentCount)
	assert.True(t, got.PaidAmount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, "PMT-2", got.LastPaymentRef)

	n, err := repo.UpsertPayments(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGormOrderDetailRepository_WithTx(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderDetailRepository(db)
	ctx := context.Background()
	id := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		n, err := repo.WithTx(tx).ReplaceLines(ctx, []uuid.UUID{id}, []ordersync.OrderLine{
			{OrderSummaryID: id, OrderNbr: "SO1", LineNbr: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	lines, err := repo.LinesFor(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
