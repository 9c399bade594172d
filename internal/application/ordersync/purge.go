package ordersync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// Archiver stores purge candidates before they are deleted.
type Archiver interface {
	// Archive persists one batch and returns its location.
	Archive(ctx context.Context, cutoff time.Time, batch []ordersync.OrderSummary) (string, error)
}

// PurgeConfig holds the purge tunables.
type PurgeConfig struct {
	BatchSize int
	Rules     ordersync.PurgeRules
}

// PurgeResult counts the work of one purge sweep.
type PurgeResult struct {
	Cutoff     time.Time `json:"cutoff"`
	Candidates int       `json:"candidates"`
	Deleted    int64     `json:"deleted"`
	Archived   int       `json:"archived"`
	Batches    int       `json:"batches"`
	Archives   []string  `json:"archives,omitempty"`
}

// PurgeJob hard-deletes stale terminal orders across all accounts.
type PurgeJob struct {
	repo     ordersync.OrderSummaryRepository
	archiver Archiver
	cfg      PurgeConfig
	recorder Recorder
	logger   *zap.Logger
}

// NewPurgeJob creates a purge job. archiver may be nil.
func NewPurgeJob(repo ordersync.OrderSummaryRepository, archiver Archiver, cfg PurgeConfig, recorder Recorder, logger *zap.Logger) *PurgeJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if len(cfg.Rules.Statuses()) == 0 && cfg.Rules.QuotePrefix() == "" {
		cfg.Rules = ordersync.NewPurgeRules(nil, "")
	}
	if recorder == nil {
		recorder = NopRecorder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurgeJob{repo: repo, archiver: archiver, cfg: cfg, recorder: recorder, logger: logger}
}

// Rules returns the effective purge rules.
func (j *PurgeJob) Rules() ordersync.PurgeRules {
	return j.cfg.Rules
}

// Purge deletes, batch by batch, every summary with a delivery date before
// cutoff whose status is a cancelled/hold variant or whose number carries
// the quote prefix. Candidates are re-checked before deletion.
func (j *PurgeJob) Purge(ctx context.Context, cutoff time.Time) (*PurgeResult, error) {
	result := &PurgeResult{Cutoff: cutoff}
	log := j.logger.With(zap.Time("cutoff", cutoff))

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		candidates, err := j.repo.FindPurgeCandidates(ctx, cutoff, j.cfg.Rules, j.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("find purge candidates: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		batch := make([]ordersync.OrderSummary, 0, len(candidates))
		ids := make([]uuid.UUID, 0, len(candidates))
		for i := range candidates {
			if !j.cfg.Rules.Eligible(&candidates[i], cutoff) {
				log.Warn("Skipping ineligible purge candidate",
					zap.String("account_key", candidates[i].AccountKey),
					zap.String("order_nbr", candidates[i].OrderNbr),
				)
				continue
			}
			batch = append(batch, candidates[i])
			ids = append(ids, candidates[i].ID)
		}
		if len(ids) == 0 {
			break
		}
		result.Candidates += len(ids)
		result.Batches++

		if j.archiver != nil {
			loc, err := j.archiver.Archive(ctx, cutoff, batch)
			if err != nil {
				return result, fmt.Errorf("archive purge batch: %w", err)
			}
			result.Archived += len(batch)
			result.Archives = append(result.Archives, loc)
		}

		n, err := j.repo.DeleteWithDetails(ctx, ids)
		if err != nil {
			return result, fmt.Errorf("delete purge batch: %w", err)
		}
		result.Deleted += n
		j.recorder.RecordPurge(ctx, n)

		if n == 0 || len(candidates) < j.cfg.BatchSize {
			break
		}
	}

	log.Info("Purge finished",
		zap.Int("candidates", result.Candidates),
		zap.Int64("deleted", result.Deleted),
		zap.Int("archived", result.Archived),
		zap.Int("batches", result.Batches),
	)
	return result, nil
}
