package persistence

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
)

var repoNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func setupOrderSyncTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// every pooled connection to :memory: would be a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(models.AllModels()...)
	require.NoError(t, err)

	return db
}

func newSummary(account, nbr, status string, delivery time.Time) ordersync.OrderSummary {
	return ordersync.OrderSummary{
		ID:           uuid.New(),
		AccountKey:   account,
		OrderNbr:     nbr,
		Status:       status,
		DeliveryDate: delivery,
		ShipVia:      "FEDEX",
		IsActive:     true,
		LastSeenAt:   repoNow,
		CreatedAt:    repoNow,
		UpdatedAt:    repoNow,
	}
}

func TestGormOrderSummaryRepository_InsertIgnoringConflicts(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()

	n, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{
		newSummary("C1", "SO1", "Open", repoNow),
		newSummary("C1", "SO2", "Open", repoNow),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	t.Run("skips rows whose natural key exists", func(t *testing.T) {
		dup := newSummary("C1", "SO1", "Hold", repoNow)
		n, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{dup, newSummary("C1", "SO3", "Open", repoNow)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		found, err := repo.FindByOrderNbr(ctx, "C1", "SO1")
		require.NoError(t, err)
		assert.Equal(t, "Open", found.Status)
		assert.NotEqual(t, dup.ID, found.ID)
	})

	t.Run("same number under another account is a new row", func(t *testing.T) {
		n, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{newSummary("C2", "SO1", "Open", repoNow)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("empty input", func(t *testing.T) {
		n, err := repo.InsertIgnoringConflicts(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestGormOrderSummaryRepository_InsertClipsOverlongText(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()

	long := newSummary("C1", "SO1", "Open", repoNow)
	long.JobName = strings.Repeat("é", 300)
	long.ShipVia = strings.Repeat("x", 80)

	n, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{long, newSummary("C1", "SO2", "Open", repoNow)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, long.JobName, 600, "input row is left untouched")

	found, err := repo.FindByOrderNbr(ctx, "C1", "SO1")
	require.NoError(t, err)
	assert.Equal(t, 255, utf8.RuneCountInString(found.JobName))
	assert.Equal(t, strings.Repeat("x", 50), found.ShipVia)

	incoming := long
	incoming.Fit()
	assert.True(t, found.WatchedFieldsEqual(&incoming))
}

func TestGormOrderSummaryRepository_FindInWindow(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()
	cutoff := repoNow.AddDate(-1, 0, 0)

	inactive := newSummary("C1", "SO4", "Canceled", repoNow)
	inactive.IsActive = false
	_, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{
		newSummary("C1", "SO1", "Open", repoNow),
		newSummary("C1", "SO2", "Open", cutoff),
		newSummary("C1", "SO3", "Open", cutoff.Add(-time.Second)),
		inactive,
		newSummary("C2", "SO5", "Open", repoNow),
	})
	require.NoError(t, err)

	rows, err := repo.FindInWindow(ctx, "C1", cutoff)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "SO1", rows[0].OrderNbr)
	assert.Equal(t, "SO2", rows[1].OrderNbr)
	assert.True(t, rows[1].DeliveryDate.Equal(cutoff))
	assert.Equal(t, "SO4", rows[2].OrderNbr)
	assert.False(t, rows[2].IsActive)

	outside, err := repo.FindByOrderNbrs(ctx, "C1", []string{"SO3", "SO5", "SO404"})
	require.NoError(t, err)
	require.Len(t, outside, 1)
	assert.Equal(t, "SO3", outside[0].OrderNbr)
}

func TestGormOrderSummaryRepository_Update(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()

	row := newSummary("C1", "SO1", "Open", repoNow)
	row.IsActive = false
	_, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{row})
	require.NoError(t, err)

	later := repoNow.Add(time.Hour)
	row.Status = "Hold"
	row.JobName = "Warehouse B"
	row.IsActive = true
	row.LastSeenAt = later
	row.UpdatedAt = later
	require.NoError(t, repo.Update(ctx, &row))

	found, err := repo.FindByOrderNbr(ctx, "C1", "SO1")
	require.NoError(t, err)
	assert.Equal(t, "Hold", found.Status)
	assert.Equal(t, "Warehouse B", found.JobName)
	assert.True(t, found.IsActive)
	assert.True(t, found.UpdatedAt.Equal(later))

	t.Run("unknown id", func(t *testing.T) {
		ghost := newSummary("C1", "SO9", "Open", repoNow)
		assert.ErrorIs(t, repo.Update(ctx, &ghost), ordersync.ErrSummaryNotFound)
	})

	t.Run("unknown number", func(t *testing.T) {
		_, err := repo.FindByOrderNbr(ctx, "C1", "SO9")
		assert.ErrorIs(t, err, ordersync.ErrSummaryNotFound)
	})
}

func TestGormOrderSummaryRepository_TouchAndDeactivate(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()

	a := newSummary("C1", "SO1", "Open", repoNow)
	b := newSummary("C1", "SO2", "Open", repoNow)
	c := newSummary("C1", "SO3", "Open", repoNow)
	c.IsActive = false
	_, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{a, b, c})
	require.NoError(t, err)

	seen := repoNow.Add(2 * time.Hour)
	require.NoError(t, repo.TouchLastSeen(ctx, []uuid.UUID{a.ID}, seen))
	found, err := repo.FindByOrderNbr(ctx, "C1", "SO1")
	require.NoError(t, err)
	assert.True(t, found.LastSeenAt.Equal(seen))
	assert.True(t, found.UpdatedAt.Equal(repoNow))

	n, err := repo.Deactivate(ctx, []uuid.UUID{b.ID, c.ID}, seen)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err = repo.FindByOrderNbr(ctx, "C1", "SO2")
	require.NoError(t, err)
	assert.False(t, found.IsActive)
	assert.True(t, found.UpdatedAt.Equal(seen))
}

func TestGormOrderSummaryRepository_ResolveIDs(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()

	a := newSummary("C1", "SO1", "Open", repoNow)
	other := newSummary("C2", "SO2", "Open", repoNow)
	_, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{a, other})
	require.NoError(t, err)

	ids, err := repo.ResolveIDs(ctx, "C1", []string{"SO1", "SO2", "SO404"})
	require.NoError(t, err)
	assert.Equal(t, map[string]uuid.UUID{"SO1": a.ID}, ids)
}

func TestGormOrderSummaryRepository_FindPurgeCandidates(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()
	cutoff := repoNow.AddDate(-1, 0, 0)
	old := cutoff.AddDate(0, -1, 0)

	_, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{
		newSummary("C1", "SO1", "Canceled", old),
		newSummary("C1", "SO2", "CREDIT HOLD", old.Add(time.Hour)),
		newSummary("C2", "qt3", "Open", old.Add(2*time.Hour)),
		newSummary("C1", "SO4", "Open", old),
		newSummary("C1", "SO5", "Canceled", cutoff),
		newSummary("C1", "SO6", "Completed", old),
	})
	require.NoError(t, err)

	rules := ordersync.NewPurgeRules(nil, "")
	rows, err := repo.FindPurgeCandidates(ctx, cutoff, rules, 100)
	require.NoError(t, err)
	var nbrs []string
	for _, r := range rows {
		nbrs = append(nbrs, r.OrderNbr)
		assert.True(t, rules.Eligible(&r, cutoff), r.OrderNbr)
	}
	assert.Equal(t, []string{"SO1", "SO2", "qt3"}, nbrs)

	limited, err := repo.FindPurgeCandidates(ctx, cutoff, rules, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGormOrderSummaryRepository_DeleteWithDetails(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	details := NewGormOrderDetailRepository(db)
	ctx := context.Background()

	gone := newSummary("C1", "SO1", "Canceled", repoNow)
	kept := newSummary("C1", "SO2", "Open", repoNow)
	_, err := repo.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{gone, kept})
	require.NoError(t, err)

	for _, s := range []ordersync.OrderSummary{gone, kept} {
		_, err = details.ReplaceLines(ctx, []uuid.UUID{s.ID}, []ordersync.OrderLine{{OrderSummaryID: s.ID, OrderNbr: s.OrderNbr, LineNbr: 1}})
		require.NoError(t, err)
		_, err = details.UpsertPayments(ctx, []ordersync.OrderPayment{{OrderSummaryID: s.ID, OrderNbr: s.OrderNbr, PaidAmount: decimal.NewFromInt(5)}})
		require.NoError(t, err)
	}

	n, err := repo.DeleteWithDetails(ctx, []uuid.UUID{gone.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var lines, payments int64
	require.NoError(t, db.Model(&models.OrderLineModel{}).Where("order_summary_id = ?", gone.ID).Count(&lines).Error)
	require.NoError(t, db.Model(&models.OrderPaymentModel{}).Where("order_summary_id = ?", gone.ID).Count(&payments).Error)
	assert.Zero(t, lines)
	assert.Zero(t, payments)

	keptLines, err := details.LinesFor(ctx, kept.ID)
	require.NoError(t, err)
	assert.Len(t, keptLines, 1)
}

func TestGormOrderSummaryRepository_WithTx(t *testing.T) {
	db := setupOrderSyncTestDB(t)
	repo := NewGormOrderSummaryRepository(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		n, err := repo.WithTx(tx).InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{newSummary("C1", "SO1", "Open", repoNow)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = repo.WithTx(tx).FindByOrderNbr(ctx, "C1", "SO1")
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = repo.FindByOrderNbr(ctx, "C1", "SO1")
	assert.ErrorIs(t, err, ordersync.ErrSummaryNotFound)
}
