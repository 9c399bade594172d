package ordersync

import (
	"context"
	"time"
)

// Recorder receives the counts and timings of sync runs.
type Recorder interface {
	// RecordRows counts rows per family and operation (inserted, updated, deactivated, dropped, written)
	RecordRows(ctx context.Context, family, op string, n int64)
	// RecordRun observes the duration of one family run with its outcome (ok, partial, failed)
	RecordRun(ctx context.Context, family, outcome string, elapsed time.Duration)
	// RecordPurge counts purged summaries
	RecordPurge(ctx context.Context, deleted int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordRows(context.Context, string, string, int64)        {}
func (nopRecorder) RecordRun(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordPurge(context.Context, int64)                       {}

// NopRecorder returns a recorder that discards everything.
func NopRecorder() Recorder {
	return nopRecorder{}
}
