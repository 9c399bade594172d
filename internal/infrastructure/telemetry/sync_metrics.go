package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/erp/ordersync/internal/infrastructure/erp"
)

// MeterName is the instrumentation scope of the sync metrics.
const MeterName = "github.com/erp/ordersync"

// SyncMetrics records fetch-layer and reconciliation metrics. It observes the
// ERP client and records sync runs.
type SyncMetrics struct {
	requests        *Counter
	requestDuration *Histogram
	pageRows        *Histogram
	splits          *Counter
	retries         *Counter
	rows            *Counter
	runDuration     *Histogram
	purged          *Counter
}

// NewSyncMetrics creates the instruments on the given meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error

	if m.requests, err = NewCounter(meter, "erp_requests_total", "Upstream requests by entity and status class", "{request}"); err != nil {
		return nil, err
	}
	if m.requestDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "erp_request_duration_seconds",
		Description: "Upstream request latency",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.pageRows, err = NewHistogram(meter, HistogramOpts{
		Name:        "erp_page_rows",
		Description: "Rows returned per page",
		Unit:        "{row}",
		Boundaries:  PageRowsBuckets,
	}); err != nil {
		return nil, err
	}
	if m.splits, err = NewCounter(meter, "erp_batch_splits_total", "Chunk bisections", "{split}"); err != nil {
		return nil, err
	}
	if m.retries, err = NewCounter(meter, "erp_retries_total", "Retried upstream requests", "{retry}"); err != nil {
		return nil, err
	}
	if m.rows, err = NewCounter(meter, "sync_rows_total", "Rows written or dropped by family and operation", "{row}"); err != nil {
		return nil, err
	}
	if m.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "sync_run_duration_seconds",
		Description: "Duration of one family run",
		Unit:        "s",
		Boundaries:  RunDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.purged, err = NewCounter(meter, "purge_deleted_total", "Summaries hard-deleted by the purge", "{row}"); err != nil {
		return nil, err
	}
	return m, nil
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", status/100)
}

// ObserveRequest counts one upstream request.
func (m *SyncMetrics) ObserveRequest(ctx context.Context, entity string, status int, elapsed time.Duration) {
	m.requests.Inc(ctx, AttrEntity.String(entity), AttrStatusClass.String(statusClass(status)))
	m.requestDuration.RecordDuration(ctx, elapsed, AttrEntity.String(entity))
}

// ObservePage records the size of one page.
func (m *SyncMetrics) ObservePage(ctx context.Context, entity string, _, rows int, _ time.Duration) {
	m.pageRows.Record(ctx, float64(rows), AttrEntity.String(entity))
}

// ObserveDecision counts splits and retries.
func (m *SyncMetrics) ObserveDecision(ctx context.Context, entity string, action erp.Action) {
	switch action {
	case erp.ActionSplit:
		m.splits.Inc(ctx, AttrEntity.String(entity))
	case erp.ActionRetry:
		m.retries.Inc(ctx, AttrEntity.String(entity))
	}
}

// RecordRows counts rows per family and operation.
func (m *SyncMetrics) RecordRows(ctx context.Context, family, op string, n int64) {
	if n <= 0 {
		return
	}
	m.rows.Add(ctx, n, AttrFamily.String(family), AttrOp.String(op))
}

// RecordRun observes the duration of one family run.
func (m *SyncMetrics) RecordRun(ctx context.Context, family, outcome string, elapsed time.Duration) {
	m.runDuration.RecordDuration(ctx, elapsed, AttrFamily.String(family), AttrOutcome.String(outcome))
}

// RecordPurge counts purged summaries.
func (m *SyncMetrics) RecordPurge(ctx context.Context, deleted int64) {
	if deleted <= 0 {
		return
	}
	m.purged.Add(ctx, deleted)
}

var _ erp.Observer = (*SyncMetrics)(nil)
