package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsync "github.com/erp/ordersync/internal/application/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/scheduler"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
	"github.com/erp/ordersync/internal/interfaces/http/router"
)

const defaultJobsLimit = 20

// SyncService runs syncs and single order refreshes.
type SyncService interface {
	Ingest(ctx context.Context, accountKey string, opts appsync.IngestOptions) (*appsync.IngestResult, error)
	RefreshOrder(ctx context.Context, accountKey, orderNbr string) (*appsync.RefreshResult, error)
	Cutoff(t time.Time) time.Time
}

// Purger runs the retention purge.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (*appsync.PurgeResult, error)
}

// JobQueue queues background syncs and reports their history.
type JobQueue interface {
	SubmitJob(accountKey string, purge bool) (*scheduler.SyncJob, error)
	GetJobHistory(limit int) []*scheduler.SyncJob
	GetJobHistoryByAccount(accountKey string, limit int) []*scheduler.SyncJob
}

// SyncHandler exposes sync, refresh, purge and job history.
type SyncHandler struct {
	BaseHandler
	service SyncService
	purger  Purger
	jobs    JobQueue
	now     func() time.Time
}

// NewSyncHandler creates a SyncHandler. jobs may be nil when the scheduler
// is disabled; async syncs and job history then answer 503.
func NewSyncHandler(service SyncService, purger Purger, jobs JobQueue) *SyncHandler {
	return &SyncHandler{
		service: service,
		purger:  purger,
		jobs:    jobs,
		now:     time.Now,
	}
}

// RegisterRoutes implements router.RouteRegistrar.
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	accounts := router.NewDomainGroup("accounts", "/accounts/:account_key")
	accounts.POST("/sync", h.Sync)
	accounts.POST("/orders/:order_nbr/refresh", h.RefreshOrder)

	maintenance := router.NewDomainGroup("maintenance", "/maintenance")
	maintenance.POST("/purge", h.Purge)

	jobs := router.NewDomainGroup("sync", "/sync")
	jobs.GET("/jobs", h.ListJobs)

	for _, g := range []*router.DomainGroup{accounts, maintenance, jobs} {
		g.RegisterRoutes(rg)
	}
}

// Sync runs a full sync of one account, or queues it with ?async=true.
//
// POST /api/v1/accounts/:account_key/sync?purge=true
func (h *SyncHandler) Sync(c *gin.Context) {
	var uri dto.AccountURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	var q dto.SyncQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.ValidationError(c, err)
		return
	}

	if q.Async {
		if h.jobs == nil {
			h.Error(c, dto.ErrCodeSchedulerDisabled, "scheduler is disabled")
			return
		}
		job, err := h.jobs.SubmitJob(uri.AccountKey, q.Purge)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Accepted(c, job)
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), uri.AccountKey, appsync.IngestOptions{Purge: q.Purge})
	if err != nil {
		if result != nil {
			h.HandleErrorWithData(c, err, result)
			return
		}
		h.HandleError(c, err)
		return
	}
	if !result.OK() {
		logger.FromContext(c.Request.Context()).Warn("Sync finished with failed families",
			zap.String("account_key", uri.AccountKey))
	}
	h.Success(c, result)
}

// RefreshOrder re-fetches one order with all of its details.
//
// POST /api/v1/accounts/:account_key/orders/:order_nbr/refresh
func (h *SyncHandler) RefreshOrder(c *gin.Context) {
	var uri dto.OrderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}

	result, err := h.service.RefreshOrder(c.Request.Context(), uri.AccountKey, uri.OrderNbr)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Purge hard-deletes stale inactive summaries. The cutoff defaults to now
// minus the sync window.
//
// POST /api/v1/maintenance/purge
func (h *SyncHandler) Purge(c *gin.Context) {
	var req dto.PurgeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.ValidationError(c, err)
			return
		}
	}

	cutoff := h.service.Cutoff(h.now())
	if req.Cutoff != nil {
		if req.Cutoff.After(h.now()) {
			h.Error(c, dto.ErrCodeValidation, "cutoff must not be in the future")
			return
		}
		cutoff = req.Cutoff.UTC()
	}

	result, err := h.purger.Purge(c.Request.Context(), cutoff)
	if err != nil {
		if result != nil {
			h.HandleErrorWithData(c, err, result)
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// ListJobs returns the most recent scheduler jobs, newest first.
//
// GET /api/v1/sync/jobs?limit=20&account_key=ACME
func (h *SyncHandler) ListJobs(c *gin.Context) {
	if h.jobs == nil {
		h.Error(c, dto.ErrCodeSchedulerDisabled, "scheduler is disabled")
		return
	}
	var q dto.JobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.ValidationError(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultJobsLimit
	}

	var jobs []*scheduler.SyncJob
	if q.AccountKey != "" {
		jobs = h.jobs.GetJobHistoryByAccount(q.AccountKey, q.Limit)
	} else {
		jobs = h.jobs.GetJobHistory(q.Limit)
	}
	if jobs == nil {
		jobs = []*scheduler.SyncJob{}
	}
	h.List(c, jobs, len(jobs), q.Limit)
}

var _ router.RouteRegistrar = (*SyncHandler)(nil)

// compile-time checks against the concrete services
var (
	_ SyncService = (*appsync.IngestService)(nil)
	_ Purger      = (*appsync.PurgeJob)(nil)
	_ JobQueue    = (*scheduler.SyncScheduler)(nil)
)
