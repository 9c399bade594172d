package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	ERP       ERPConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool // use redis for the account lock; in-memory otherwise
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	LogsEnabled       bool    // Tee zap logs into the OTEL log pipeline
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
	// Continuous profiling
	ProfilingEnabled  bool
	ProfilingEndpoint string // Pyroscope server address
}

// ERPConfig holds the upstream endpoint, credentials and fetch tunables
type ERPConfig struct {
	BaseURL  string
	Endpoint string
	Version  string

	// Static bearer token; takes precedence over the password grant
	AccessToken string
	// OAuth2 password grant
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string

	BatchSize      int
	PoolSize       int
	MaxSockets     int
	Retries        int
	MaxURLLength   int
	RequestTimeout time.Duration
	MinDelay       time.Duration
	PageSize       int
	MaxPages       int
	BackoffBase    time.Duration
	MaxRetryAfter  time.Duration
}

// SyncConfig holds reconciliation and purge settings
type SyncConfig struct {
	CutoffWindow      time.Duration
	UpdateConcurrency int
	DeactivateChunk   int
	PurgeBatchSize    int
	LockTTL           time.Duration
	PurgeStatuses     []string
	QuotePrefix       string
	ExcludeStatuses   []string
	ExcludeShipVia    []string
	Accounts          []string // account keys of scheduled runs
}

// SchedulerConfig holds sync scheduler configuration
type SchedulerConfig struct {
	Enabled           bool
	SyncInterval      time.Duration
	PurgeHour         int
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// StorageConfig holds the S3-compatible purge archive settings
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ORDERSYNC_ prefix (e.g., ORDERSYNC_DATABASE_PASSWORD, ORDERSYNC_ERP_BATCH_SIZE)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ORDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingEndpoint: v.GetString("telemetry.profiling_endpoint"),
		},
		ERP: ERPConfig{
			BaseURL:        v.GetString("erp.base_url"),
			Endpoint:       v.GetString("erp.endpoint"),
			Version:        v.GetString("erp.version"),
			AccessToken:    v.GetString("erp.access_token"),
			ClientID:       v.GetString("erp.client_id"),
			ClientSecret:   v.GetString("erp.client_secret"),
			Username:       v.GetString("erp.username"),
			Password:       v.GetString("erp.password"),
			Scope:          v.GetString("erp.scope"),
			BatchSize:      v.GetInt("erp.batch_size"),
			PoolSize:       v.GetInt("erp.pool_size"),
			MaxSockets:     v.GetInt("erp.max_sockets"),
			Retries:        v.GetInt("erp.retries"),
			MaxURLLength:   v.GetInt("erp.max_url_length"),
			RequestTimeout: v.GetDuration("erp.request_timeout"),
			MinDelay:       v.GetDuration("erp.min_delay"),
			PageSize:       v.GetInt("erp.page_size"),
			MaxPages:       v.GetInt("erp.max_pages"),
			BackoffBase:    v.GetDuration("erp.backoff_base"),
			MaxRetryAfter:  v.GetDuration("erp.max_retry_after"),
		},
		Sync: SyncConfig{
			CutoffWindow:      v.GetDuration("sync.cutoff_window"),
			UpdateConcurrency: v.GetInt("sync.update_concurrency"),
			DeactivateChunk:   v.GetInt("sync.deactivate_chunk"),
			PurgeBatchSize:    v.GetInt("sync.purge_batch_size"),
			LockTTL:           v.GetDuration("sync.lock_ttl"),
			PurgeStatuses:     v.GetStringSlice("sync.purge_statuses"),
			QuotePrefix:       v.GetString("sync.quote_prefix"),
			ExcludeStatuses:   v.GetStringSlice("sync.exclude_statuses"),
			ExcludeShipVia:    v.GetStringSlice("sync.exclude_ship_via"),
			Accounts:          v.GetStringSlice("sync.accounts"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			SyncInterval:      v.GetDuration("scheduler.sync_interval"),
			PurgeHour:         v.GetInt("scheduler.purge_hour"),
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
			RetryAttempts:     v.GetInt("scheduler.retry_attempts"),
			RetryDelay:        v.GetDuration("scheduler.retry_delay"),
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			Prefix:       v.GetString("storage.prefix"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
		},
	}

	// purge_hour 0 (midnight) is a valid setting, so only default when unset
	if !v.IsSet("scheduler.purge_hour") {
		cfg.Scheduler.PurgeHour = 3
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erp-ordersync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ordersync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// sync runs are long; the write timeout covers the whole request
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 30
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erp-ordersync"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.ProfilingEndpoint == "" {
		cfg.Telemetry.ProfilingEndpoint = "http://localhost:4040"
	}

	// ERP fetch tunables
	if cfg.ERP.Endpoint == "" {
		cfg.ERP.Endpoint = "Default"
	}
	if cfg.ERP.Version == "" {
		cfg.ERP.Version = "22.200.001"
	}
	if cfg.ERP.Scope == "" {
		cfg.ERP.Scope = "api"
	}
	if cfg.ERP.BatchSize == 0 {
		cfg.ERP.BatchSize = 25
	}
	if cfg.ERP.PoolSize == 0 {
		cfg.ERP.PoolSize = 6
	}
	if cfg.ERP.MaxSockets == 0 {
		cfg.ERP.MaxSockets = 10
	}
	if cfg.ERP.Retries == 0 {
		cfg.ERP.Retries = 3
	}
	if cfg.ERP.MaxURLLength == 0 {
		cfg.ERP.MaxURLLength = 7000
	}
	if cfg.ERP.RequestTimeout == 0 {
		cfg.ERP.RequestTimeout = 25 * time.Second
	}
	if cfg.ERP.MinDelay == 0 {
		cfg.ERP.MinDelay = 150 * time.Millisecond
	}
	if cfg.ERP.PageSize == 0 {
		cfg.ERP.PageSize = 500
	}
	if cfg.ERP.MaxPages == 0 {
		cfg.ERP.MaxPages = 50
	}
	if cfg.ERP.BackoffBase == 0 {
		cfg.ERP.BackoffBase = 500 * time.Millisecond
	}
	if cfg.ERP.MaxRetryAfter == 0 {
		cfg.ERP.MaxRetryAfter = 60 * time.Second
	}

	// Sync defaults
	if cfg.Sync.CutoffWindow == 0 {
		cfg.Sync.CutoffWindow = 365 * 24 * time.Hour
	}
	if cfg.Sync.UpdateConcurrency == 0 {
		cfg.Sync.UpdateConcurrency = 8
	}
	if cfg.Sync.DeactivateChunk == 0 {
		cfg.Sync.DeactivateChunk = 500
	}
	if cfg.Sync.PurgeBatchSize == 0 {
		cfg.Sync.PurgeBatchSize = 500
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 15 * time.Minute
	}
	if cfg.Sync.QuotePrefix == "" {
		cfg.Sync.QuotePrefix = "QT"
	}

	// Scheduler defaults
	if cfg.Scheduler.SyncInterval == 0 {
		cfg.Scheduler.SyncInterval = 30 * time.Minute
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 2
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = time.Minute
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "purge"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.ERP.BatchSize < 0 || c.ERP.PoolSize < 0 || c.ERP.PageSize < 0 {
		return fmt.Errorf("erp.batch_size, erp.pool_size and erp.page_size must be positive")
	}
	if c.ERP.Retries < 0 {
		return fmt.Errorf("erp.retries cannot be negative")
	}
	if c.ERP.MaxURLLength < 512 {
		return fmt.Errorf("erp.max_url_length must be at least 512, got %d", c.ERP.MaxURLLength)
	}
	if c.Sync.UpdateConcurrency < 0 || c.Sync.DeactivateChunk < 0 || c.Sync.PurgeBatchSize < 0 {
		return fmt.Errorf("sync concurrency and batch sizes must be positive")
	}
	if c.Scheduler.PurgeHour < 0 || c.Scheduler.PurgeHour > 23 {
		return fmt.Errorf("scheduler.purge_hour must be between 0 and 23, got %d", c.Scheduler.PurgeHour)
	}
	if c.Scheduler.Enabled && c.ERP.BaseURL == "" {
		return fmt.Errorf("erp.base_url is required when the scheduler is enabled")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
