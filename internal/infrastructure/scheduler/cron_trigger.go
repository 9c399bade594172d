package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appsync "github.com/erp/ordersync/internal/application/ordersync"
)

// JobSubmitter queues account syncs
type JobSubmitter interface {
	SubmitJob(accountKey string, purge bool) (*SyncJob, error)
}

// Purger runs the retention purge
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (*appsync.PurgeResult, error)
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// SyncInterval is how often every configured account is synced
	SyncInterval time.Duration
	// PurgeHour is the local hour of the daily purge; negative disables it
	PurgeHour int
	// CheckInterval is how often the purge hour is checked
	CheckInterval time.Duration
	Accounts      []string
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		SyncInterval:  30 * time.Minute,
		PurgeHour:     3,
		CheckInterval: time.Minute,
	}
}

// CronTrigger submits periodic account syncs and runs the daily purge
type CronTrigger struct {
	config    CronTriggerConfig
	submitter JobSubmitter
	purger    Purger
	cutoff    func(time.Time) time.Time
	logger    *zap.Logger
	now       func() time.Time

	cancel        context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	lastPurgeDate string
}

// NewCronTrigger creates a new cron trigger. purger may be nil, in which case
// no daily purge runs. cutoff maps "now" to the purge cutoff.
func NewCronTrigger(
	config CronTriggerConfig,
	submitter JobSubmitter,
	purger Purger,
	cutoff func(time.Time) time.Time,
	logger *zap.Logger,
) *CronTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronTrigger{
		config:    config,
		submitter: submitter,
		purger:    purger,
		cutoff:    cutoff,
		logger:    logger,
		now:       time.Now,
	}
}

// Start starts the trigger loops
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	c.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.config.SyncInterval > 0 && len(c.config.Accounts) > 0 {
		c.wg.Add(1)
		go c.syncLoop(ctx)
	}
	if c.purger != nil && c.config.PurgeHour >= 0 {
		c.wg.Add(1)
		go c.purgeLoop(ctx)
	}

	c.logger.Info("Cron trigger started",
		zap.Duration("sync_interval", c.config.SyncInterval),
		zap.Int("purge_hour", c.config.PurgeHour),
		zap.Int("accounts", len(c.config.Accounts)),
	)
	return nil
}

// Stop stops the cron trigger
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) syncLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SyncInterval)
	defer ticker.Stop()

	c.TriggerSyncAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.TriggerSyncAll()
		}
	}
}

func (c *CronTrigger) purgeLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkPurge(ctx)
		}
	}
}

// TriggerSyncAll submits one job per configured account and returns how many
// were queued.
func (c *CronTrigger) TriggerSyncAll() int {
	queued := 0
	for _, account := range c.config.Accounts {
		if _, err := c.submitter.SubmitJob(account, false); err != nil {
			level := zap.ErrorLevel
			if errors.Is(err, ErrJobQueueFull) {
				level = zap.WarnLevel
			}
			c.logger.Log(level, "Failed to submit scheduled sync",
				zap.String("account_key", account),
				zap.Error(err),
			)
			continue
		}
		queued++
	}
	c.logger.Debug("Scheduled syncs submitted", zap.Int("queued", queued))
	return queued
}

// checkPurge runs the purge once per day, during the configured hour.
func (c *CronTrigger) checkPurge(ctx context.Context) bool {
	now := c.now()
	today := now.Format("2006-01-02")
	if now.Hour() != c.config.PurgeHour {
		return false
	}

	c.mu.Lock()
	if c.lastPurgeDate == today {
		c.mu.Unlock()
		return false
	}
	c.lastPurgeDate = today
	c.mu.Unlock()

	cutoff := c.cutoff(now)
	c.logger.Info("Triggering daily purge", zap.Time("cutoff", cutoff))
	result, err := c.purger.Purge(ctx, cutoff)
	if err != nil {
		c.logger.Error("Daily purge failed", zap.Error(err))
		return true
	}
	c.logger.Info("Daily purge finished",
		zap.Int64("deleted", result.Deleted),
		zap.Int("batches", result.Batches),
	)
	return true
}
