package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

const tracerName = "github.com/erp/ordersync/internal/infrastructure/erp"

// Observer receives fetch-layer observations. Telemetry implements it.
type Observer interface {
	ObserveRequest(ctx context.Context, entity string, status int, elapsed time.Duration)
	ObservePage(ctx context.Context, entity string, page, rows int, elapsed time.Duration)
	ObserveDecision(ctx context.Context, entity string, action Action)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(context.Context, string, int, time.Duration)   {}
func (nopObserver) ObservePage(context.Context, string, int, int, time.Duration) {}
func (nopObserver) ObserveDecision(context.Context, string, Action)              {}

// Response is one upstream reply.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	URLLength int
	Elapsed   time.Duration
}

// Client talks to the ERP contract-based REST API.
// One Client shares a connection pool and a pacing gate across all its callers.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	pacer      *Pacer
	policy     *RetryPolicy
	logger     *zap.Logger
	observer   Observer
	tracer     trace.Tracer
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver sets the observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithSleep replaces the backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a client. The configuration is validated.
func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.MaxSockets
	transport.MaxIdleConnsPerHost = cfg.MaxSockets

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		pacer:      NewPacer(cfg.MinDelay),
		policy:     NewRetryPolicy(cfg),
		logger:     zap.NewNop(),
		observer:   nopObserver{},
		tracer:     otel.Tracer(tracerName),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the validated configuration.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// URL renders the request URL of a query against an entity.
func (c *Client) URL(tok ordersync.Token, entity string, q Query) (string, error) {
	base := tok.BaseURL
	if base == "" {
		base = c.cfg.BaseURL
	}
	if base == "" {
		return "", ordersync.ErrUpstreamNotConfigured
	}
	return URLFor(base, c.cfg.Endpoint, c.cfg.Version, entity, q), nil
}

// Get performs one paced GET bounded by the per-attempt timeout.
// Transport failures and timeouts are returned as errors; any HTTP status is a Response.
func (c *Client) Get(ctx context.Context, tok ordersync.Token, entity, rawURL string) (*Response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "erp.get "+entity, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("erp.entity", entity),
		attribute.Int("erp.url_length", len(rawURL)),
	)

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.observer.ObserveRequest(ctx, entity, 0, time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize))
	elapsed := time.Since(start)
	c.observer.ObserveRequest(ctx, entity, resp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	return &Response{
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      body,
		URLLength: len(rawURL),
		Elapsed:   elapsed,
	}, nil
}

// DecodeRows decodes a list response. Both a bare JSON array and an
// OData {"value": [...]} envelope are accepted.
func DecodeRows(body []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ordersync.ErrMalformedResponse)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	switch trimmed[0] {
	case '[':
		var rows []Record
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("%w: %v", ordersync.ErrMalformedResponse, err)
		}
		return rows, nil
	case '{':
		var env struct {
			Value []Record `json:"value"`
		}
		if err := dec.Decode(&env); err != nil {
			return nil, fmt.Errorf("%w: %v", ordersync.ErrMalformedResponse, err)
		}
		if env.Value == nil {
			return nil, fmt.Errorf("%w: object without value array", ordersync.ErrMalformedResponse)
		}
		return env.Value, nil
	default:
		return nil, fmt.Errorf("%w: not json", ordersync.ErrMalformedResponse)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
