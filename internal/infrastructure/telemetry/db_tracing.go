package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool          // Include query variables in spans (dev only)
	SlowQueryThresh time.Duration // default: 200ms
	DBSystem        string        // default: "postgresql"
}

// DefaultDBTracingConfig returns default configuration for database tracing.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_start_time"

// DBTracingPlugin registers otelgorm plus slow query and error marking callbacks.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a new database tracing plugin.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// Register installs the otelgorm plugin and the timing callbacks.
func (p *DBTracingPlugin) Register(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	// callbacks registered first run first, so the slow query check sees the
	// otelgorm span before it ends
	if err := p.registerCallbacks(db); err != nil {
		return err
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
	)
	return nil
}

func (p *DBTracingPlugin) registerCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	register := []struct {
		before func() error
		after  func() error
	}{
		{
			func() error { return cb.Create().Before("gorm:create").Register("otel_timing:before_create", p.before) },
			func() error { return cb.Create().After("gorm:create").Register("otel_slow_query:create", p.after) },
		},
		{
			func() error { return cb.Query().Before("gorm:query").Register("otel_timing:before_query", p.before) },
			func() error { return cb.Query().After("gorm:query").Register("otel_slow_query:query", p.after) },
		},
		{
			func() error { return cb.Update().Before("gorm:update").Register("otel_timing:before_update", p.before) },
			func() error { return cb.Update().After("gorm:update").Register("otel_slow_query:update", p.after) },
		},
		{
			func() error { return cb.Delete().Before("gorm:delete").Register("otel_timing:before_delete", p.before) },
			func() error { return cb.Delete().After("gorm:delete").Register("otel_slow_query:delete", p.after) },
		},
		{
			func() error { return cb.Row().Before("gorm:row").Register("otel_timing:before_row", p.before) },
			func() error { return cb.Row().After("gorm:row").Register("otel_slow_query:row", p.after) },
		},
		{
			func() error { return cb.Raw().Before("gorm:raw").Register("otel_timing:before_raw", p.before) },
			func() error { return cb.Raw().After("gorm:raw").Register("otel_slow_query:raw", p.after) },
		},
	}
	for _, r := range register {
		if err := r.before(); err != nil {
			return err
		}
		if err := r.after(); err != nil {
			return err
		}
	}
	return nil
}

func (p *DBTracingPlugin) before(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartTimeKey, time.Now())
	}
}

// after marks errors and slow queries on the current span.
func (p *DBTracingPlugin) after(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	if start, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		elapsed := time.Since(start)
		if elapsed > p.config.SlowQueryThresh {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
			p.logger.Warn("Slow query",
				zap.String("table", db.Statement.Table),
				zap.Duration("elapsed", elapsed),
			)
		}
	}
}
