package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
)

// GormOrderDetailRepository implements OrderDetailRepository using GORM
type GormOrderDetailRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormOrderDetailRepository creates a new GormOrderDetailRepository
func NewGormOrderDetailRepository(db *gorm.DB) *GormOrderDetailRepository {
	return &GormOrderDetailRepository{db: db, now: time.Now}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormOrderDetailRepository) WithTx(tx *gorm.DB) *GormOrderDetailRepository {
	return &GormOrderDetailRepository{db: tx, now: r.now}
}

// ReplaceLines deletes the lines of the given summaries and inserts lines in one transaction
func (r *GormOrderDetailRepository) ReplaceLines(ctx context.Context, summaryIDs []uuid.UUID, lines []ordersync.OrderLine) (int64, error) {
	now := r.now().UTC()
	ms := make([]*models.OrderLineModel, len(lines))
	for i := range lines {
		ms[i] = models.OrderLineModelFromDomain(&lines[i], now)
		if ms[i].ID == uuid.Nil {
			ms[i].ID = uuid.New()
		}
	}

	var inserted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, batch := range chunks(summaryIDs) {
			if err := tx.Where("order_summary_id IN ?", batch).Delete(&models.OrderLineModel{}).Error; err != nil {
				return err
			}
		}
		if len(ms) == 0 {
			return nil
		}
		result := tx.CreateInBatches(ms, insertBatchSize)
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replace lines: %w", err)
	}
	return inserted, nil
}

// upsert writes rows keyed by order_summary_id, updating columns on conflict.
// Later rows for the same summary win.
func upsert[M any](ctx context.Context, db *gorm.DB, rows []*M, key func(*M) uuid.UUID, columns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	last := make(map[uuid.UUID]int, len(rows))
	for i, m := range rows {
		last[key(m)] = i
	}
	unique := make([]*M, 0, len(last))
	for i, m := range rows {
		if last[key(m)] == i {
			unique = append(unique, m)
		}
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_summary_id"}},
			DoUpdates: clause.AssignmentColumns(append(columns, "order_nbr", "updated_at")),
		}).
		CreateInBatches(unique, insertBatchSize)
	return result.RowsAffected, result.Error
}

// UpsertAddresses inserts or updates ship-to addresses
func (r *GormOrderDetailRepository) UpsertAddresses(ctx context.Context, rows []ordersync.OrderAddress) (int64, error) {
	now := r.now().UTC()
	ms := make([]*models.OrderAddressModel, len(rows))
	for i := range rows {
		ms[i] = models.OrderAddressModelFromDomain(&rows[i], now)
	}
	n, err := upsert(ctx, r.db, ms, func(m *models.OrderAddressModel) uuid.UUID { return m.OrderSummaryID },
		[]string{"address_line1", "address_line2", "city", "state", "postal_code", "country"})
	if err != nil {
		return 0, fmt.Errorf("upsert addresses: %w", err)
	}
	return n, nil
}

// UpsertContacts inserts or updates ship-to contacts
func (r *GormOrderDetailRepository) UpsertContacts(ctx context.Context, rows []ordersync.OrderContact) (int64, error) {
	now := r.now().UTC()
	ms := make([]*models.OrderContactModel, len(rows))
	for i := range rows {
		ms[i] = models.OrderContactModelFromDomain(&rows[i], now)
	}
	n, err := upsert(ctx, r.db, ms, func(m *models.OrderContactModel) uuid.UUID { return m.OrderSummaryID },
		[]string{"attention", "company_name", "email", "phone"})
	if err != nil {
		return 0, fmt.Errorf("upsert contacts: %w", err)
	}
	return n, nil
}

// UpsertPayments inserts or updates payment aggregates
func (r *GormOrderDetailRepository) UpsertPayments(ctx context.Context, rows []ordersync.OrderPayment) (int64, error) {
	now := r.now().UTC()
	ms := make([]*models.OrderPaymentModel, len(rows))
	for i := range rows {
		ms[i] = models.OrderPaymentModelFromDomain(&rows[i], now)
	}
	n, err := upsert(ctx, r.db, ms, func(m *models.OrderPaymentModel) uuid.UUID { return m.OrderSummaryID },
		[]string{"order_total", "tax_total", "unpaid_balance", "currency_id", "terms",
			"payment_count", "paid_amount", "last_payment_date", "last_payment_ref"})
	if err != nil {
		return 0, fmt.Errorf("upsert payments: %w", err)
	}
	return n, nil
}

// LinesFor returns the lines of one summary ordered by line number
func (r *GormOrderDetailRepository) LinesFor(ctx context.Context, summaryID uuid.UUID) ([]ordersync.OrderLine, error) {
	var ms []models.OrderLineModel
	err := r.db.WithContext(ctx).
		Where("order_summary_id = ?", summaryID).
		Order("line_nbr").
		Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]ordersync.OrderLine, len(ms))
	for i := range ms {
		out[i] = ms[i].ToDomain()
	}
	return out, nil
}

var _ ordersync.OrderDetailRepository = (*GormOrderDetailRepository)(nil)
