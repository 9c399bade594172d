package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/erp"
)

// ReconcilerConfig holds the tunables of the reconciler.
type ReconcilerConfig struct {
	// UpdateConcurrency bounds concurrent single-row updates
	UpdateConcurrency int
	// DeactivateChunk is the number of ids per deactivate/touch statement
	DeactivateChunk int
}

// DefaultReconcilerConfig returns the default reconciler tunables.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{UpdateConcurrency: 8, DeactivateChunk: 500}
}

// ReconcileOptions describe the snapshot being reconciled.
type ReconcileOptions struct {
	// Truncated marks an incomplete snapshot; deactivation is skipped
	Truncated bool
}

// ReconcileResult counts the decisions of one reconciliation.
type ReconcileResult struct {
	Incoming            int   `json:"incoming"`
	Inserted            int64 `json:"inserted"`
	Updated             int64 `json:"updated"`
	Unchanged           int   `json:"unchanged"`
	Deactivated         int64 `json:"deactivated"`
	Dropped             int   `json:"dropped"`
	FailedUpdates       int   `json:"failed_updates"`
	DeactivationSkipped bool  `json:"deactivation_skipped"`
}

// Reconciler diffs a snapshot of upstream summaries against the persisted
// window of an account and applies insert, update and deactivate decisions.
type Reconciler struct {
	repo   ordersync.OrderSummaryRepository
	cfg    ReconcilerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(repo ordersync.OrderSummaryRepository, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.UpdateConcurrency <= 0 {
		cfg.UpdateConcurrency = 8
	}
	if cfg.DeactivateChunk <= 0 {
		cfg.DeactivateChunk = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

// Reconcile applies incoming to the account. Inserts complete before the set
// of missing orders is computed, and every order number present in incoming
// (valid or not) counts as seen, so nothing present in the snapshot is
// deactivated by the same run.
func (r *Reconciler) Reconcile(ctx context.Context, accountKey string, incoming []ordersync.OrderSummary, cutoff time.Time, opts ReconcileOptions) (*ReconcileResult, error) {
	log := r.logger.With(zap.String("account_key", accountKey))
	now := r.now().UTC()
	result := &ReconcileResult{Incoming: len(incoming)}

	seen := make(map[string]struct{}, len(incoming))
	valid := make(map[string]ordersync.OrderSummary, len(incoming))
	order := make([]string, 0, len(incoming))
	for _, row := range incoming {
		nbr := strings.TrimSpace(row.OrderNbr)
		if nbr != "" {
			seen[nbr] = struct{}{}
		}
		if !row.HasRequiredKeys() {
			result.Dropped++
			log.Debug("Dropping summary without required keys",
				zap.String("order_nbr", nbr),
				zap.Error(ordersync.ErrMissingRequiredKey),
			)
			continue
		}
		row.AccountKey = accountKey
		row.OrderNbr = nbr
		if _, dup := valid[nbr]; !dup {
			order = append(order, nbr)
		}
		valid[nbr] = row
	}

	existing, err := r.repo.FindInWindow(ctx, accountKey, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	byNbr := make(map[string]ordersync.OrderSummary, len(existing))
	for _, ex := range existing {
		byNbr[ex.OrderNbr] = ex
	}

	// Rows that exist outside the window are updated in place, never re-inserted.
	var unknown []string
	for _, nbr := range order {
		if _, ok := byNbr[nbr]; !ok {
			unknown = append(unknown, nbr)
		}
	}
	if len(unknown) > 0 {
		outside, err := r.repo.FindByOrderNbrs(ctx, accountKey, unknown)
		if err != nil {
			return nil, fmt.Errorf("load rows outside window: %w", err)
		}
		for _, ex := range outside {
			byNbr[ex.OrderNbr] = ex
		}
	}

	var (
		inserts   []ordersync.OrderSummary
		changed   []ordersync.OrderSummary
		untouched []uuid.UUID
	)
	for _, nbr := range order {
		row := valid[nbr]
		ex, ok := byNbr[nbr]
		switch {
		case !ok:
			row.ID = uuid.New()
			row.IsActive = true
			row.LastSeenAt = now
			row.CreatedAt = now
			row.UpdatedAt = now
			inserts = append(inserts, row)
		case !ex.IsActive || !ex.WatchedFieldsEqual(&row):
			ex.ApplyWatchedFields(&row)
			ex.IsActive = true
			ex.LastSeenAt = now
			ex.UpdatedAt = now
			changed = append(changed, ex)
		default:
			untouched = append(untouched, ex.ID)
		}
	}
	result.Unchanged = len(untouched)

	if len(inserts) > 0 {
		n, err := r.repo.InsertIgnoringConflicts(ctx, inserts)
		if err != nil {
			return nil, fmt.Errorf("insert summaries: %w", err)
		}
		result.Inserted = n
	}

	var updateErr error
	if len(changed) > 0 {
		errs := erp.RunPool(ctx, len(changed), r.cfg.UpdateConcurrency, func(ctx context.Context, i int) error {
			return r.repo.Update(ctx, &changed[i])
		})
		var failed []error
		for i, err := range errs {
			if err != nil {
				failed = append(failed, err)
				log.Warn("Failed to update summary",
					zap.String("order_nbr", changed[i].OrderNbr),
					zap.Error(err),
				)
			}
		}
		result.FailedUpdates = len(failed)
		result.Updated = int64(len(changed) - len(failed))
		if len(failed) > 0 {
			updateErr = fmt.Errorf("update %d of %d summaries: %w", len(failed), len(changed), errors.Join(failed...))
		}
	}

	for _, ids := range chunkIDs(untouched, r.cfg.DeactivateChunk) {
		if err := r.repo.TouchLastSeen(ctx, ids, now); err != nil {
			return result, fmt.Errorf("touch last seen: %w", err)
		}
	}

	if opts.Truncated {
		result.DeactivationSkipped = true
		log.Warn("Snapshot truncated, skipping deactivation", zap.Int("incoming", len(incoming)))
		return result, updateErr
	}

	var stale []uuid.UUID
	for _, ex := range existing {
		if !ex.IsActive {
			continue
		}
		if _, ok := seen[ex.OrderNbr]; !ok {
			stale = append(stale, ex.ID)
		}
	}
	for _, ids := range chunkIDs(stale, r.cfg.DeactivateChunk) {
		n, err := r.repo.Deactivate(ctx, ids, now)
		if err != nil {
			return result, fmt.Errorf("deactivate summaries: %w", err)
		}
		result.Deactivated += n
	}

	log.Info("Reconciled summaries",
		zap.Int("incoming", result.Incoming),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int64("deactivated", result.Deactivated),
		zap.Int("dropped", result.Dropped),
	)
	return result, updateErr
}

func chunkIDs(ids []uuid.UUID, size int) [][]uuid.UUID {
	var out [][]uuid.UUID
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}
