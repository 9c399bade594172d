package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appsync "github.com/erp/ordersync/internal/application/ordersync"
	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/cache"
	"github.com/erp/ordersync/internal/infrastructure/config"
	"github.com/erp/ordersync/internal/infrastructure/erp"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/persistence"
	"github.com/erp/ordersync/internal/infrastructure/scheduler"
	"github.com/erp/ordersync/internal/infrastructure/storage"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
	"github.com/erp/ordersync/internal/interfaces/http/handler"
	"github.com/erp/ordersync/internal/interfaces/http/middleware"
	"github.com/erp/ordersync/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	baseCore, err := logger.NewCore(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	bootLog := zap.New(baseCore, zap.AddCaller())

	ctx := context.Background()

	// Telemetry providers; each is a no-op when disabled
	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = cfg.App.Name
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       serviceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize logger provider", zap.Error(err))
	}

	// Tee stdout logs into the OTEL pipeline
	log := telemetry.NewBridgedLogger(baseCore, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
		ServiceName:    serviceName,
		LoggerProvider: loggerProvider,
		Level:          logger.ParseLevel(cfg.Log.Level),
	}), zap.AddCaller())
	defer func() {
		_ = log.Sync()
	}()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilingEndpoint,
		ApplicationName: serviceName,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	log.Info("Starting order sync",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Database with zap-backed gorm logger and otelgorm
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithGormLogger(gormLog),
		persistence.WithPlugin(dbTracing.Register),
	)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	summaryRepo := persistence.NewGormOrderSummaryRepository(db.DB)
	detailRepo := persistence.NewGormOrderDetailRepository(db.DB)

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter(telemetry.MeterName))
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Upstream client and credentials
	client, err := erp.NewClient(erpClientConfig(cfg.ERP),
		erp.WithLogger(log.Named("erp")),
		erp.WithObserver(syncMetrics),
		erp.WithTracer(tracerProvider.Tracer(telemetry.TracerName)),
	)
	if err != nil {
		log.Fatal("Invalid ERP client configuration", zap.Error(err))
	}
	tokens, err := newTokenProvider(cfg.ERP, log)
	if err != nil {
		log.Fatal("Invalid ERP credentials configuration", zap.Error(err))
	}

	lockerFactory := cache.NewLockerFactory(cfg.Redis, cfg.Sync.LockTTL, cache.WithLogger(log))
	locker, closeLocker, err := lockerFactory.CreateLocker(ctx)
	if err != nil {
		log.Fatal("Failed to create account locker", zap.Error(err))
	}

	var archiver appsync.Archiver
	if cfg.Storage.Enabled {
		s3Archiver, err := storage.NewS3Archiver(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create purge archiver", zap.Error(err))
		}
		if err := s3Archiver.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare archive bucket", zap.Error(err))
		}
		archiver = s3Archiver
	}

	// Application services
	reconciler := appsync.NewReconciler(summaryRepo, appsync.ReconcilerConfig{
		UpdateConcurrency: cfg.Sync.UpdateConcurrency,
		DeactivateChunk:   cfg.Sync.DeactivateChunk,
	}, log.Named("reconciler"))
	detailWriter := appsync.NewDetailWriter(summaryRepo, detailRepo, log.Named("details"))
	purgeJob := appsync.NewPurgeJob(summaryRepo, archiver, appsync.PurgeConfig{
		BatchSize: cfg.Sync.PurgeBatchSize,
		Rules:     ordersync.NewPurgeRules(cfg.Sync.PurgeStatuses, cfg.Sync.QuotePrefix),
	}, syncMetrics, log.Named("purge"))
	ingestService := appsync.NewIngestService(
		erp.NewSource(client),
		tokens,
		summaryRepo,
		reconciler,
		detailWriter,
		appsync.IngestConfig{
			CutoffWindow:    cfg.Sync.CutoffWindow,
			ExcludeStatuses: cfg.Sync.ExcludeStatuses,
			ExcludeShipVia:  cfg.Sync.ExcludeShipVia,
		},
		log.Named("ingest"),
		appsync.WithRecorder(syncMetrics),
		appsync.WithLocker(locker),
		appsync.WithPurgeJob(purgeJob),
	)

	// Background scheduling
	var (
		syncScheduler *scheduler.SyncScheduler
		cronTrigger   *scheduler.CronTrigger
		jobs          handler.JobQueue
	)
	if cfg.Scheduler.Enabled {
		schedCfg := scheduler.DefaultSyncSchedulerConfig()
		schedCfg.MaxConcurrentJobs = cfg.Scheduler.MaxConcurrentJobs
		schedCfg.JobTimeout = cfg.Scheduler.JobTimeout
		schedCfg.RetryAttempts = cfg.Scheduler.RetryAttempts
		schedCfg.RetryDelay = cfg.Scheduler.RetryDelay
		syncScheduler, err = scheduler.NewSyncScheduler(schedCfg, ingestService, log.Named("scheduler"))
		if err != nil {
			log.Fatal("Invalid scheduler configuration", zap.Error(err))
		}
		if err := syncScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		cronTrigger = scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
			SyncInterval: cfg.Scheduler.SyncInterval,
			PurgeHour:    cfg.Scheduler.PurgeHour,
			Accounts:     cfg.Sync.Accounts,
		}, syncScheduler, purgeJob, ingestService.Cutoff, log.Named("cron"))
		if err := cronTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start cron trigger", zap.Error(err))
		}
		jobs = syncScheduler
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	tracingCfg := middleware.DefaultTracingConfig()
	tracingCfg.ServiceName = serviceName
	tracingCfg.Enabled = tracerProvider.IsEnabled()
	profilingCfg := middleware.DefaultProfilingConfig()
	profilingCfg.Enabled = profiler.IsEnabled()

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(tracingCfg))
	engine.Use(middleware.SpanAttributes())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		Enabled:       meterProvider.IsEnabled(),
	}))
	engine.Use(middleware.ProfilingWithConfig(profilingCfg))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	if cfg.HTTP.RateLimitEnabled {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)))
	}

	systemHandler := handler.NewSystemHandler(db, cfg.App.Name, version)
	systemHandler.RegisterHealth(engine)
	syncHandler := handler.NewSyncHandler(ingestService, purgeJob, jobs)

	router.NewRouter(engine).
		Register(systemHandler).
		Register(syncHandler).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if cronTrigger != nil {
		if err := cronTrigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping cron trigger", zap.Error(err))
		}
	}
	if syncScheduler != nil {
		if err := syncScheduler.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping scheduler", zap.Error(err))
		}
	}
	if err := closeLocker(); err != nil {
		log.Error("Error closing account locker", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	_ = log.Sync()
	// logs emitted above still flow to the collector until here
	if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
		bootLog.Error("Error shutting down logger provider", zap.Error(err))
	}
}

// erpClientConfig overlays configured tunables on the client defaults.
func erpClientConfig(c config.ERPConfig) erp.ClientConfig {
	cc := erp.DefaultClientConfig()
	cc.BaseURL = c.BaseURL
	if c.Endpoint != "" {
		cc.Endpoint = c.Endpoint
	}
	if c.Version != "" {
		cc.Version = c.Version
	}
	if c.BatchSize > 0 {
		cc.BatchSize = c.BatchSize
	}
	if c.PoolSize > 0 {
		cc.PoolSize = c.PoolSize
	}
	if c.MaxSockets > 0 {
		cc.MaxSockets = c.MaxSockets
	}
	if c.Retries >= 0 {
		cc.Retries = c.Retries
	}
	if c.MaxURLLength > 0 {
		cc.MaxURLLength = c.MaxURLLength
	}
	if c.RequestTimeout > 0 {
		cc.RequestTimeout = c.RequestTimeout
	}
	if c.MinDelay > 0 {
		cc.MinDelay = c.MinDelay
	}
	if c.PageSize > 0 {
		cc.PageSize = c.PageSize
	}
	if c.MaxPages > 0 {
		cc.MaxPages = c.MaxPages
	}
	if c.BackoffBase > 0 {
		cc.BackoffBase = c.BackoffBase
	}
	if c.MaxRetryAfter > 0 {
		cc.MaxRetryAfter = c.MaxRetryAfter
	}
	return cc
}

// newTokenProvider prefers a static access token over the password grant.
func newTokenProvider(c config.ERPConfig, log *zap.Logger) (ordersync.TokenProvider, error) {
	if c.AccessToken != "" {
		return erp.NewStaticTokenProvider(c.AccessToken, c.BaseURL), nil
	}
	return erp.NewPasswordTokenProvider(erp.PasswordGrantConfig{
		BaseURL:      c.BaseURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Username:     c.Username,
		Password:     c.Password,
		Scope:        c.Scope,
	}, &http.Client{Timeout: 30 * time.Second}, log.Named("erp.token"))
}
