package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
)

const (
	// maxInParams bounds the size of one IN list
	maxInParams = 1000
	// insertBatchSize is the number of rows per bulk insert statement
	insertBatchSize = 500
)

// GormOrderSummaryRepository implements OrderSummaryRepository using GORM
type GormOrderSummaryRepository struct {
	db *gorm.DB
}

// NewGormOrderSummaryRepository creates a new GormOrderSummaryRepository
func NewGormOrderSummaryRepository(db *gorm.DB) *GormOrderSummaryRepository {
	return &GormOrderSummaryRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormOrderSummaryRepository) WithTx(tx *gorm.DB) *GormOrderSummaryRepository {
	return &GormOrderSummaryRepository{db: tx}
}

func toSummaries(ms []models.OrderSummaryModel) []ordersync.OrderSummary {
	out := make([]ordersync.OrderSummary, len(ms))
	for i := range ms {
		out[i] = ms[i].ToDomain()
	}
	return out
}

// chunks splits values into slices of at most maxInParams.
func chunks[T any](values []T) [][]T {
	var out [][]T
	for start := 0; start < len(values); start += maxInParams {
		out = append(out, values[start:min(start+maxInParams, len(values))])
	}
	return out
}

// FindInWindow returns every summary of the account delivered on or after cutoff
func (r *GormOrderSummaryRepository) FindInWindow(ctx context.Context, accountKey string, cutoff time.Time) ([]ordersync.OrderSummary, error) {
	var ms []models.OrderSummaryModel
	err := r.db.WithContext(ctx).
		Where("account_key = ? AND delivery_date >= ?", accountKey, cutoff.UTC()).
		Order("order_nbr").
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("find summaries in window: %w", err)
	}
	return toSummaries(ms), nil
}

// FindByOrderNbrs returns the summaries of the account matching orderNbrs
func (r *GormOrderSummaryRepository) FindByOrderNbrs(ctx context.Context, accountKey string, orderNbrs []string) ([]ordersync.OrderSummary, error) {
	var out []ordersync.OrderSummary
	for _, batch := range chunks(orderNbrs) {
		var ms []models.OrderSummaryModel
		err := r.db.WithContext(ctx).
			Where("account_key = ? AND order_nbr IN ?", accountKey, batch).
			Find(&ms).Error
		if err != nil {
			return nil, fmt.Errorf("find summaries by order number: %w", err)
		}
		out = append(out, toSummaries(ms)...)
	}
	return out, nil
}

// FindByOrderNbr returns one summary or ErrSummaryNotFound
func (r *GormOrderSummaryRepository) FindByOrderNbr(ctx context.Context, accountKey, orderNbr string) (*ordersync.OrderSummary, error) {
	var m models.OrderSummaryModel
	err := r.db.WithContext(ctx).
		Where("account_key = ? AND order_nbr = ?", accountKey, orderNbr).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ordersync.ErrSummaryNotFound
		}
		return nil, err
	}
	s := m.ToDomain()
	return &s, nil
}

// InsertIgnoringConflicts bulk-inserts rows, skipping natural key conflicts
func (r *GormOrderSummaryRepository) InsertIgnoringConflicts(ctx context.Context, rows []ordersync.OrderSummary) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	ms := make([]*models.OrderSummaryModel, len(rows))
	for i := range rows {
		ms[i] = models.OrderSummaryModelFromDomain(&rows[i])
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_key"}, {Name: "order_nbr"}},
			DoNothing: true,
		}).
		CreateInBatches(ms, insertBatchSize)
	if result.Error != nil {
		return 0, fmt.Errorf("insert summaries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Update writes the watched fields, activity flag and last-seen time of a row
func (r *GormOrderSummaryRepository) Update(ctx context.Context, row *ordersync.OrderSummary) error {
	m := models.OrderSummaryModelFromDomain(row)
	result := r.db.WithContext(ctx).
		Model(&models.OrderSummaryModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"status":        m.Status,
			"delivery_date": m.DeliveryDate,
			"ship_via":      m.ShipVia,
			"job_name":      m.JobName,
			"customer_name": m.CustomerName,
			"buyer_group":   m.BuyerGroup,
			"note_id":       m.NoteID,
			"location_id":   m.LocationID,
			"is_active":     m.IsActive,
			"last_seen_at":  m.LastSeenAt,
			"updated_at":    m.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ordersync.ErrSummaryNotFound
	}
	return nil
}

// TouchLastSeen sets last_seen_at without bumping updated_at
func (r *GormOrderSummaryRepository) TouchLastSeen(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	for _, batch := range chunks(ids) {
		err := r.db.WithContext(ctx).
			Model(&models.OrderSummaryModel{}).
			Where("id IN ?", batch).
			UpdateColumn("last_seen_at", at).Error
		if err != nil {
			return fmt.Errorf("touch summaries: %w", err)
		}
	}
	return nil
}

// Deactivate clears is_active on the given rows that are still active
func (r *GormOrderSummaryRepository) Deactivate(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	var n int64
	for _, batch := range chunks(ids) {
		result := r.db.WithContext(ctx).
			Model(&models.OrderSummaryModel{}).
			Where("id IN ? AND is_active = ?", batch, true).
			Updates(map[string]any{"is_active": false, "updated_at": at})
		if result.Error != nil {
			return n, fmt.Errorf("deactivate summaries: %w", result.Error)
		}
		n += result.RowsAffected
	}
	return n, nil
}

type summaryKey struct {
	ID       uuid.UUID
	OrderNbr string
}

// ResolveIDs maps order numbers of the account to summary ids
func (r *GormOrderSummaryRepository) ResolveIDs(ctx context.Context, accountKey string, orderNbrs []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(orderNbrs))
	for _, batch := range chunks(orderNbrs) {
		var keys []summaryKey
		err := r.db.WithContext(ctx).
			Model(&models.OrderSummaryModel{}).
			Select("id", "order_nbr").
			Where("account_key = ? AND order_nbr IN ?", accountKey, batch).
			Scan(&keys).Error
		if err != nil {
			return nil, fmt.Errorf("resolve summary ids: %w", err)
		}
		for _, k := range keys {
			out[k.OrderNbr] = k.ID
		}
	}
	return out, nil
}

// FindPurgeCandidates returns summaries of every account delivered before
// cutoff whose status is a purge status or whose number has the quote prefix
func (r *GormOrderSummaryRepository) FindPurgeCandidates(ctx context.Context, cutoff time.Time, rules ordersync.PurgeRules, limit int) ([]ordersync.OrderSummary, error) {
	match := r.db.Where("LOWER(TRIM(status)) IN ?", rules.Statuses())
	if prefix := rules.QuotePrefix(); prefix != "" {
		match = match.Or("UPPER(order_nbr) LIKE ?", likePrefix(strings.ToUpper(prefix)))
	}

	var ms []models.OrderSummaryModel
	err := r.db.WithContext(ctx).
		Where("delivery_date < ?", cutoff.UTC()).
		Where(match).
		Order("delivery_date, id").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("find purge candidates: %w", err)
	}
	return toSummaries(ms), nil
}

func likePrefix(prefix string) string {
	prefix = strings.NewReplacer(`%`, ``, `_`, ``).Replace(prefix)
	return prefix + "%"
}

// DeleteWithDetails deletes the summaries and their detail rows in one transaction
func (r *GormOrderSummaryRepository) DeleteWithDetails(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, batch := range chunks(ids) {
			for _, detail := range []any{
				&models.OrderLineModel{},
				&models.OrderAddressModel{},
				&models.OrderContactModel{},
				&models.OrderPaymentModel{},
			} {
				if err := tx.Where("order_summary_id IN ?", batch).Delete(detail).Error; err != nil {
					return err
				}
			}
			result := tx.Where("id IN ?", batch).Delete(&models.OrderSummaryModel{})
			if result.Error != nil {
				return result.Error
			}
			deleted += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete summaries: %w", err)
	}
	return deleted, nil
}

var _ ordersync.OrderSummaryRepository = (*GormOrderSummaryRepository)(nil)
