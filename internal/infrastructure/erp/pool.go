package erp

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// ConcurrencyPool
// ---------------------------------------------------------------------------

// RunPool runs fn for every index in [0, n) on at most workers goroutines.
// Workers claim indexes from a shared counter in FIFO order. The returned slice
// holds the error of each index at its own position; a failing index does not
// stop its siblings. Cancelling ctx stops new claims and marks unclaimed
// indexes with the context error.
func RunPool(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	var next atomic.Int64
	claimed := make([]bool, n)

	// errgroup only bounds and joins the workers; task errors are kept per index.
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				claimed[i] = true
				errs[i] = fn(ctx, i)
			}
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for i := range errs {
			if !claimed[i] {
				errs[i] = err
			}
		}
	}
	return errs
}

// FirstError returns the first non-nil error, for callers that want fail-fast semantics.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Pacer
// ---------------------------------------------------------------------------

// Pacer enforces a minimum delay between requests sharing one upstream connection.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer. A non-positive minDelay disables pacing.
func NewPacer(minDelay time.Duration) *Pacer {
	if minDelay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(minDelay), 1)}
}

// Wait blocks until the next request may be sent.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
