package scheduler

import (
	"time"

	"github.com/google/uuid"

	appsync "github.com/erp/ordersync/internal/application/ordersync"
)

// SyncJobStatus represents the status of a sync job
type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "PENDING"
	SyncJobStatusRunning   SyncJobStatus = "RUNNING"
	SyncJobStatusCompleted SyncJobStatus = "COMPLETED"
	SyncJobStatusPartial   SyncJobStatus = "PARTIAL"
	SyncJobStatusFailed    SyncJobStatus = "FAILED"
)

// maxRetryDelay caps the exponential backoff between attempts
const maxRetryDelay = 30 * time.Minute

// SyncJob is one queued ingest run for an account
type SyncJob struct {
	ID          uuid.UUID             `json:"id"`
	AccountKey  string                `json:"account_key"`
	Purge       bool                  `json:"purge"`
	Status      SyncJobStatus         `json:"status"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	RetryCount  int                   `json:"retry_count"`
	MaxRetries  int                   `json:"max_retries"`
	NextRetryAt *time.Time            `json:"next_retry_at,omitempty"`
	Result      *appsync.IngestResult `json:"result,omitempty"`
}

// NewSyncJob creates a pending job
func NewSyncJob(accountKey string, purge bool, maxRetries int) *SyncJob {
	return &SyncJob{
		ID:         uuid.New(),
		AccountKey: accountKey,
		Purge:      purge,
		Status:     SyncJobStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *SyncJob) Start() {
	now := time.Now()
	j.Status = SyncJobStatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
	j.NextRetryAt = nil
	j.Error = ""
}

// Complete records the ingest result. A run with failed families is PARTIAL.
func (j *SyncJob) Complete(result *appsync.IngestResult) {
	now := time.Now()
	j.Result = result
	j.CompletedAt = &now
	if result == nil || result.OK() {
		j.Status = SyncJobStatusCompleted
		return
	}
	j.Status = SyncJobStatusPartial
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err string) {
	now := time.Now()
	j.Status = SyncJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job failed and has attempts left
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == SyncJobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry moves the job back to PENDING and returns the delay before
// the next attempt: baseDelay * 2^(retryCount-1), capped at 30 minutes.
func (j *SyncJob) ScheduleRetry(baseDelay time.Duration) time.Duration {
	j.RetryCount++
	j.Status = SyncJobStatusPending

	delay := maxRetryDelay
	if shift := j.RetryCount - 1; shift < 16 {
		if d := baseDelay << shift; d > 0 && d < maxRetryDelay {
			delay = d
		}
	}
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	return delay
}

// clone returns a copy that is safe to hand out while the job is retried.
func (j *SyncJob) clone() *SyncJob {
	c := *j
	return &c
}
