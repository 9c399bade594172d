package ordersync

import (
	"context"
	"errors"
	"time"
)

// SummaryQuery selects the summaries of one account.
type SummaryQuery struct {
	AccountKey      string
	Since           time.Time
	ExcludeStatuses []string
	ExcludeShipVia  []string
}

// SummarySnapshot is the result of a paged summary fetch.
// Rows may include entries missing required keys; the reconciler drops them.
type SummarySnapshot struct {
	Rows      []OrderSummary
	Pages     int
	Truncated bool
}

// FetchReport carries request statistics and per-chunk failures of a batched fetch.
type FetchReport struct {
	Requests    int
	Leaves      int
	Splits      int
	Retries     int
	Malformed   int
	ChunkErrors []error
}

// Err joins the chunk errors, or returns nil.
func (r FetchReport) Err() error {
	return errors.Join(r.ChunkErrors...)
}

// Merge adds the counters and errors of o to r.
func (r *FetchReport) Merge(o FetchReport) {
	r.Requests += o.Requests
	r.Leaves += o.Leaves
	r.Splits += o.Splits
	r.Retries += o.Retries
	r.Malformed += o.Malformed
	r.ChunkErrors = append(r.ChunkErrors, o.ChunkErrors...)
}

// DetailFetch is the result of a batched detail fetch.
// OrderNbrs lists the orders the upstream actually returned; only those are rewritten.
type DetailFetch[T any] struct {
	Rows      []T
	OrderNbrs []string
	Report    FetchReport
}

// ShipToFetch carries addresses and contacts fetched in one pass.
type ShipToFetch struct {
	Addresses []OrderAddress
	Contacts  []OrderContact
	OrderNbrs []string
	Report    FetchReport
}

// OrderBundle is a single order with all of its details.
type OrderBundle struct {
	Summary OrderSummary
	Lines   []OrderLine
	Address *OrderAddress
	Contact *OrderContact
	Payment *OrderPayment
}

// OrderSource reads orders from the ERP.
type OrderSource interface {
	// FetchSummaries pages through every summary matching q.
	FetchSummaries(ctx context.Context, tok Token, q SummaryQuery) (SummarySnapshot, error)

	// FetchLines fetches lines for the given orders. Chunk failures are reported, not returned.
	FetchLines(ctx context.Context, tok Token, accountKey string, orderNbrs []string) (DetailFetch[OrderLine], error)

	// FetchShipTo fetches ship-to addresses and contacts for the given orders.
	FetchShipTo(ctx context.Context, tok Token, accountKey string, orderNbrs []string) (ShipToFetch, error)

	// FetchPayments fetches payment aggregates for the given orders.
	FetchPayments(ctx context.Context, tok Token, accountKey string, orderNbrs []string) (DetailFetch[OrderPayment], error)

	// FetchOrder fetches one order with every detail. It returns ErrOrderNotFound when absent.
	FetchOrder(ctx context.Context, tok Token, accountKey, orderNbr string) (*OrderBundle, error)
}
