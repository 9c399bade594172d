package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appsync "github.com/erp/ordersync/internal/application/ordersync"
	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
)

// Ingester runs one account sync
type Ingester interface {
	Ingest(ctx context.Context, accountKey string, opts appsync.IngestOptions) (*appsync.IngestResult, error)
}

// SyncSchedulerConfig holds configuration for the sync scheduler
type SyncSchedulerConfig struct {
	// MaxConcurrentJobs is the number of workers
	MaxConcurrentJobs int
	// JobTimeout bounds one attempt
	JobTimeout time.Duration
	// RetryAttempts is the number of retries after a failed attempt
	RetryAttempts int
	// RetryDelay is the base delay of the exponential backoff
	RetryDelay time.Duration
	QueueSize  int
	MaxHistory int
}

// DefaultSyncSchedulerConfig returns default configuration
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		MaxConcurrentJobs: 2,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Minute,
		QueueSize:         100,
		MaxHistory:        100,
	}
}

// Validate validates the configuration
func (c *SyncSchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 || c.JobTimeout <= 0 || c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return ErrInvalidConfig
	}
	if c.QueueSize <= 0 || c.MaxHistory <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// SyncScheduler runs queued sync jobs on a fixed worker pool
type SyncScheduler struct {
	config   SyncSchedulerConfig
	ingester Ingester
	logger   *zap.Logger

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	retries   map[*SyncJob]*time.Timer

	historyMu sync.RWMutex
	history   []*SyncJob
}

// NewSyncScheduler creates a new scheduler
func NewSyncScheduler(config SyncSchedulerConfig, ingester Ingester, logger *zap.Logger) (*SyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		config:   config,
		ingester: ingester,
		logger:   logger,
		jobs:     make(chan *SyncJob, config.QueueSize),
		retries:  make(map[*SyncJob]*time.Timer),
		history:  make([]*SyncJob, 0, config.MaxHistory),
	}, nil
}

// Start starts the worker pool
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for job, timer := range s.retries {
		timer.Stop()
		delete(s.retries, job)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the workers are started
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitJob queues a sync of accountKey and returns the queued job
func (s *SyncScheduler) SubmitJob(accountKey string, purge bool) (*SyncJob, error) {
	job := NewSyncJob(accountKey, purge, s.config.RetryAttempts)
	if err := s.enqueue(job); err != nil {
		return nil, err
	}
	s.logger.Debug("Sync job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("account_key", accountKey),
	)
	return job.clone(), nil
}

func (s *SyncScheduler) enqueue(job *SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	select {
	case s.jobs <- job:
		return nil
	default:
		return ErrJobQueueFull
	}
}

func (s *SyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *SyncScheduler) processJob(ctx context.Context, job *SyncJob, workerID int) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "sync_job",
		telemetry.SpanAttrJobID, job.ID.String(),
		telemetry.SpanAttrAccountKey, job.AccountKey,
	)
	defer span.End()

	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("account_key", job.AccountKey),
	)

	job.Start()
	log.Info("Processing sync job", zap.Int("attempt", job.RetryCount+1))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	result, err := s.ingester.Ingest(jobCtx, job.AccountKey, appsync.IngestOptions{Purge: job.Purge})
	cancel()

	if err != nil {
		telemetry.RecordError(span, err)
		job.Fail(err.Error())
		job.Result = result
		log.Error("Sync job failed", zap.Error(err))

		// a concurrent run for the same account is not a failure worth retrying
		if !errors.Is(err, ordersync.ErrSyncInProgress) && ctx.Err() == nil && job.ShouldRetry() {
			s.addToHistory(job)
			s.scheduleRetry(job, log)
			return
		}
		s.addToHistory(job)
		return
	}

	job.Complete(result)
	telemetry.SetOK(span)
	log.Info("Sync job completed", zap.String("status", string(job.Status)))
	s.addToHistory(job)
}

func (s *SyncScheduler) scheduleRetry(job *SyncJob, log *zap.Logger) {
	delay := job.ScheduleRetry(s.config.RetryDelay)
	log.Info("Sync job scheduled for retry",
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
		zap.Duration("delay", delay),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.retries[job] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retries, job)
		s.mu.Unlock()
		if err := s.enqueue(job); err != nil {
			log.Warn("Failed to re-queue sync job for retry", zap.Error(err))
		}
	})
}

// addToHistory stores a snapshot of the job, newest first
func (s *SyncScheduler) addToHistory(job *SyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*SyncJob{job.clone()}, s.history...)
	if len(s.history) > s.config.MaxHistory {
		s.history = s.history[:s.config.MaxHistory]
	}
}

// GetJobHistory returns up to limit recent job snapshots, newest first
func (s *SyncScheduler) GetJobHistory(limit int) []*SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*SyncJob, limit)
	copy(result, s.history[:limit])
	return result
}

// GetJobHistoryByAccount returns recent snapshots of one account's jobs
func (s *SyncScheduler) GetJobHistoryByAccount(accountKey string, limit int) []*SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	result := make([]*SyncJob, 0)
	for _, job := range s.history {
		if job.AccountKey != accountKey {
			continue
		}
		result = append(result, job)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}
