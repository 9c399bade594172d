package ordersync

import (
	"errors"
	"fmt"
)

var (
	// Upstream errors
	ErrTransientUpstream     = errors.New("ordersync: transient upstream failure")
	ErrOversizedRequest      = errors.New("ordersync: upstream rejected request size")
	ErrPermanentUpstream     = errors.New("ordersync: upstream request failed")
	ErrMalformedResponse     = errors.New("ordersync: unparseable upstream response")
	ErrTokenUnavailable      = errors.New("ordersync: upstream token unavailable")
	ErrOrderNotFound         = errors.New("ordersync: order not found upstream")
	ErrUpstreamNotConfigured = errors.New("ordersync: upstream base url not configured")

	// Reconciliation skips. These are counted, never returned from a sync run.
	ErrMissingRequiredKey = errors.New("ordersync: row missing required key")
	ErrParentNotFound     = errors.New("ordersync: parent order summary not found")

	// Store errors
	ErrSummaryNotFound = errors.New("ordersync: order summary not found")

	// Run errors
	ErrSyncInProgress  = errors.New("ordersync: sync already running for account")
	ErrInvalidAccount  = errors.New("ordersync: invalid account key")
	ErrInvalidOrderNbr = errors.New("ordersync: invalid order number")
)

// maxErrorBody bounds the response body kept on an UpstreamError.
const maxErrorBody = 512

// UpstreamError describes a failed upstream call.
// Kind is one of the upstream sentinels above and is what errors.Is matches.
type UpstreamError struct {
	Kind       error
	StatusCode int
	URLLength  int
	Body       string
	Cause      error
}

// NewUpstreamError builds an UpstreamError, truncating the body.
func NewUpstreamError(kind error, status, urlLen int, body []byte, cause error) *UpstreamError {
	b := string(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return &UpstreamError{Kind: kind, StatusCode: status, URLLength: urlLen, Body: b, Cause: cause}
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%v (status=%d url_len=%d)", e.Kind, e.StatusCode, e.URLLength)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	} else if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *UpstreamError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}
