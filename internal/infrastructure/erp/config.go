package erp

import (
	"errors"
	"time"
)

// ClientConfig holds the tunables of the ERP fetch layer.
type ClientConfig struct {
	// BaseURL is used when the token does not carry one
	BaseURL string
	// Endpoint and Version select the contract-based REST endpoint
	Endpoint string
	Version  string
	// BatchSize is the number of keys per chunk before the URL length check
	BatchSize int
	// PoolSize is the number of concurrent chunk fetchers
	PoolSize int
	// MaxSockets caps connections per upstream host
	MaxSockets int
	// Retries is the maximum number of retries per leaf fetch
	Retries int
	// MaxURLLength triggers chunk bisection
	MaxURLLength int
	// RequestTimeout bounds each attempt
	RequestTimeout time.Duration
	// MinDelay is the pacing floor between requests
	MinDelay time.Duration
	// PageSize is the number of rows per page for list queries
	PageSize int
	// MaxPages stops runaway pagination
	MaxPages int
	// BackoffBase is the base of the exponential backoff
	BackoffBase time.Duration
	// MaxRetryAfter caps waits requested by the upstream
	MaxRetryAfter time.Duration
	// MaxResponseSize caps the bytes read from one response
	MaxResponseSize int64
}

const (
	defaultEndpoint        = "Default"
	defaultVersion         = "22.200.001"
	defaultMaxResponseSize = 64 * 1024 * 1024
	minMaxURLLength        = 512
)

// Errors for ERP client configuration
var (
	ErrConfigInvalidBatchSize    = errors.New("erp: batch size must be positive")
	ErrConfigInvalidPoolSize     = errors.New("erp: pool size must be positive")
	ErrConfigInvalidRetries      = errors.New("erp: retries cannot be negative")
	ErrConfigInvalidMaxURLLength = errors.New("erp: max url length must be at least 512")
	ErrConfigInvalidPageSize     = errors.New("erp: page size must be positive")
)

// DefaultClientConfig returns the default tunables.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:        defaultEndpoint,
		Version:         defaultVersion,
		BatchSize:       25,
		PoolSize:        6,
		MaxSockets:      10,
		Retries:         3,
		MaxURLLength:    7000,
		RequestTimeout:  25 * time.Second,
		MinDelay:        150 * time.Millisecond,
		PageSize:        500,
		MaxPages:        50,
		BackoffBase:     500 * time.Millisecond,
		MaxRetryAfter:   60 * time.Second,
		MaxResponseSize: defaultMaxResponseSize,
	}
}

// Validate checks the configuration and fills defaults for unset optional values.
func (c *ClientConfig) Validate() error {
	if c.BatchSize <= 0 {
		return ErrConfigInvalidBatchSize
	}
	if c.PoolSize <= 0 {
		return ErrConfigInvalidPoolSize
	}
	if c.Retries < 0 {
		return ErrConfigInvalidRetries
	}
	if c.MaxURLLength < minMaxURLLength {
		return ErrConfigInvalidMaxURLLength
	}
	if c.PageSize <= 0 {
		return ErrConfigInvalidPageSize
	}
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.Version == "" {
		c.Version = defaultVersion
	}
	if c.MaxSockets <= 0 {
		c.MaxSockets = c.PoolSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 25 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = 60 * time.Second
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = defaultMaxResponseSize
	}
	return nil
}
