package erp

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// Action is the next step of a leaf fetch after one attempt.
type Action int

const (
	// ActionSuccess accepts the response
	ActionSuccess Action = iota
	// ActionSplit bisects the chunk and fetches both halves
	ActionSplit
	// ActionRetry waits and repeats the same request
	ActionRetry
	// ActionFatal gives up on the chunk
	ActionFatal
)

// String returns the action name used in logs and metrics.
func (a Action) String() string {
	switch a {
	case ActionSuccess:
		return "success"
	case ActionSplit:
		return "split"
	case ActionRetry:
		return "retry"
	default:
		return "fatal"
	}
}

// Decision is the classification of one attempt.
type Decision struct {
	Action Action
	Wait   time.Duration
	Err    error
}

// Outcome describes one finished attempt.
type Outcome struct {
	Status    int
	Header    http.Header
	Body      []byte
	URLLength int
	ChunkLen  int
	Attempt   int
	// Err is set when no response was received (transport error or attempt timeout)
	Err error
}

// oversizeSignatures are body fragments the upstream (or a proxy in front of it)
// returns when a request is too large. Matched case-insensitively.
var oversizeSignatures = [][]byte{
	[]byte("request entity too large"),
	[]byte("request-uri too long"),
	[]byte("uri too long"),
	[]byte("request filtering module"),
	[]byte("404.15"),
	[]byte("maxquerystring"),
	[]byte("query string is too long"),
}

// longURLRatio is the share of MaxURLLength above which a bare 400 is read as a size rejection.
const longURLRatio = 0.8

// RetryPolicy classifies attempts into success, split, retry or fatal.
type RetryPolicy struct {
	retries       int
	maxURLLength  int
	backoffBase   time.Duration
	maxRetryAfter time.Duration
	now           func() time.Time
	jitter        func(max time.Duration) time.Duration
}

// NewRetryPolicy creates a policy from validated client configuration.
func NewRetryPolicy(cfg ClientConfig) *RetryPolicy {
	return &RetryPolicy{
		retries:       cfg.Retries,
		maxURLLength:  cfg.MaxURLLength,
		backoffBase:   cfg.BackoffBase,
		maxRetryAfter: cfg.MaxRetryAfter,
		now:           time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(max)))
		},
	}
}

// MaxAttempts is the bound on attempts per leaf fetch.
func (p *RetryPolicy) MaxAttempts() int {
	return p.retries + 1
}

// Classify decides what to do after an attempt.
func (p *RetryPolicy) Classify(o Outcome) Decision {
	if o.Err != nil {
		if o.Attempt < p.retries {
			return Decision{Action: ActionRetry, Wait: p.Backoff(o.Attempt)}
		}
		cause := fmt.Errorf("%w: %v", ordersync.ErrTransientUpstream, o.Err)
		return Decision{Action: ActionFatal, Err: ordersync.NewUpstreamError(ordersync.ErrPermanentUpstream, 0, o.URLLength, nil, cause)}
	}

	if o.Status >= 200 && o.Status < 300 {
		return Decision{Action: ActionSuccess}
	}

	oversized := p.isOversized(o)
	if oversized && o.ChunkLen > 1 {
		return Decision{Action: ActionSplit}
	}

	transient := o.Status == http.StatusTooManyRequests || (o.Status >= 500 && o.Status < 600)
	if transient && o.Attempt < p.retries {
		wait, ok := p.RetryAfter(o.Header)
		if !ok {
			wait = p.Backoff(o.Attempt)
		}
		return Decision{Action: ActionRetry, Wait: wait}
	}

	var cause error
	switch {
	case oversized && o.Status != http.StatusTooManyRequests:
		cause = ordersync.ErrOversizedRequest
	case transient:
		cause = fmt.Errorf("%w: status %d after %d attempts", ordersync.ErrTransientUpstream, o.Status, o.Attempt+1)
	}
	return Decision{
		Action: ActionFatal,
		Err:    ordersync.NewUpstreamError(ordersync.ErrPermanentUpstream, o.Status, o.URLLength, o.Body, cause),
	}
}

// isOversized reports a size rejection. A 429 carrying Retry-After is a plain
// rate limit and is retried instead of split.
func (p *RetryPolicy) isOversized(o Outcome) bool {
	switch o.Status {
	case http.StatusRequestEntityTooLarge, http.StatusRequestURITooLong:
		return true
	case http.StatusTooManyRequests:
		return o.Header.Get("Retry-After") == ""
	}
	if o.Status == http.StatusBadRequest && float64(o.URLLength) > longURLRatio*float64(p.maxURLLength) {
		return true
	}
	return HasOversizeSignature(o.Body)
}

// HasOversizeSignature reports whether a response body matches a known size rejection.
func HasOversizeSignature(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, sig := range oversizeSignatures {
		if bytes.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// RetryAfter parses a Retry-After header given as delta seconds or an HTTP-date.
// The result is clamped to [0, MaxRetryAfter].
func (p *RetryPolicy) RetryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs > int64(24*time.Hour/time.Second) {
			secs = int64(24 * time.Hour / time.Second)
		}
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = t.Sub(p.now())
	} else {
		return 0, false
	}
	if d < 0 {
		d = 0
	}
	if p.maxRetryAfter > 0 && d > p.maxRetryAfter {
		d = p.maxRetryAfter
	}
	return d, true
}

// Backoff returns base * 2^attempt plus up to one base of jitter.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	return p.backoffBase*time.Duration(1<<attempt) + p.jitter(p.backoffBase)
}
