package erp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// QueryBuilder renders the query for one chunk of keys.
type QueryBuilder func(keys []string) Query

// BatchStats counts the work done by one batched fetch.
type BatchStats struct {
	Requests  int
	Leaves    int
	Splits    int
	Retries   int
	Malformed int
}

func (s *BatchStats) add(o BatchStats) {
	s.Requests += o.Requests
	s.Leaves += o.Leaves
	s.Splits += o.Splits
	s.Retries += o.Retries
	s.Malformed += o.Malformed
}

// ChunkError is the failure of one leaf chunk.
type ChunkError struct {
	Keys []string
	Err  error
}

func (e *ChunkError) Error() string {
	first := ""
	if len(e.Keys) > 0 {
		first = e.Keys[0]
	}
	return fmt.Sprintf("chunk of %d keys starting at %q: %v", len(e.Keys), first, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// BatchResult holds the merged rows of every successful chunk plus the
// failures of the others.
type BatchResult struct {
	Rows   []Record
	Errors []*ChunkError
	Stats  BatchStats
}

// Report converts the result into the domain fetch report.
func (r *BatchResult) Report() ordersync.FetchReport {
	rep := ordersync.FetchReport{
		Requests:  r.Stats.Requests,
		Leaves:    r.Stats.Leaves,
		Splits:    r.Stats.Splits,
		Retries:   r.Stats.Retries,
		Malformed: r.Stats.Malformed,
	}
	for _, e := range r.Errors {
		rep.ChunkErrors = append(rep.ChunkErrors, e)
	}
	return rep
}

// AdaptiveBatchFetcher fetches rows for a large key list. Keys are chunked,
// chunks run on the concurrency pool, and a chunk whose URL is too long or
// that the upstream rejects for size is bisected until it fits. Pending chunks
// live on an explicit per-worker stack.
type AdaptiveBatchFetcher struct {
	client *Client
}

// NewAdaptiveBatchFetcher creates a batch fetcher on top of a client.
func NewAdaptiveBatchFetcher(client *Client) *AdaptiveBatchFetcher {
	return &AdaptiveBatchFetcher{client: client}
}

type chunkOutcome struct {
	rows   []Record
	errors []*ChunkError
	stats  BatchStats
}

// Fetch fetches every key. It never fails as a whole: failed chunks are
// reported in BatchResult.Errors and the rows of the others are kept.
func (f *AdaptiveBatchFetcher) Fetch(ctx context.Context, tok ordersync.Token, entity string, keys []string, build QueryBuilder) *BatchResult {
	cfg := f.client.Config()
	chunks := Partition(Dedupe(keys), cfg.BatchSize)
	outcomes := make([]chunkOutcome, len(chunks))

	errs := RunPool(ctx, len(chunks), cfg.PoolSize, func(ctx context.Context, i int) error {
		outcomes[i] = f.drain(ctx, tok, entity, chunks[i], build)
		return nil
	})

	result := &BatchResult{}
	for i, out := range outcomes {
		if errs[i] != nil {
			result.Errors = append(result.Errors, &ChunkError{Keys: chunks[i], Err: errs[i]})
			continue
		}
		result.Rows = append(result.Rows, out.rows...)
		result.Errors = append(result.Errors, out.errors...)
		result.Stats.add(out.stats)
	}

	f.client.logger.Debug("Batch fetch finished",
		zap.String("entity", entity),
		zap.Int("keys", len(keys)),
		zap.Int("chunks", len(chunks)),
		zap.Int("rows", len(result.Rows)),
		zap.Int("requests", result.Stats.Requests),
		zap.Int("splits", result.Stats.Splits),
		zap.Int("retries", result.Stats.Retries),
		zap.Int("failed_chunks", len(result.Errors)),
	)
	return result
}

// drain processes one top-level chunk and everything split from it.
func (f *AdaptiveBatchFetcher) drain(ctx context.Context, tok ordersync.Token, entity string, chunk []string, build QueryBuilder) chunkOutcome {
	var out chunkOutcome
	maxLen := f.client.Config().MaxURLLength
	stack := [][]string{chunk}

	for len(stack) > 0 {
		keys := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := ctx.Err(); err != nil {
			out.errors = append(out.errors, &ChunkError{Keys: keys, Err: err})
			continue
		}

		rawURL, err := f.client.URL(tok, entity, build(keys))
		if err != nil {
			out.errors = append(out.errors, &ChunkError{Keys: keys, Err: err})
			continue
		}

		if len(rawURL) > maxLen && len(keys) > 1 {
			out.stats.Splits++
			f.client.observer.ObserveDecision(ctx, entity, ActionSplit)
			stack = pushHalves(stack, keys)
			continue
		}

		out.stats.Leaves++
		rows, split, err := f.leaf(ctx, tok, entity, keys, rawURL, &out.stats)
		switch {
		case split:
			stack = pushHalves(stack, keys)
		case err != nil:
			f.client.logger.Error("Chunk fetch failed",
				zap.String("entity", entity),
				zap.Int("keys", len(keys)),
				zap.Error(err),
			)
			out.errors = append(out.errors, &ChunkError{Keys: keys, Err: err})
		default:
			out.rows = append(out.rows, rows...)
		}
	}
	return out
}

// leaf sends one chunk, retrying per the policy. It returns split=true when
// the upstream rejected the chunk for size.
func (f *AdaptiveBatchFetcher) leaf(ctx context.Context, tok ordersync.Token, entity string, keys []string, rawURL string, stats *BatchStats) ([]Record, bool, error) {
	for attempt := 0; ; attempt++ {
		stats.Requests++
		resp, err := f.client.Get(ctx, tok, entity, rawURL)
		if err != nil && ctx.Err() != nil {
			return nil, false, ctx.Err()
		}

		o := Outcome{URLLength: len(rawURL), ChunkLen: len(keys), Attempt: attempt, Err: err}
		if resp != nil {
			o.Status = resp.Status
			o.Header = resp.Header
			o.Body = resp.Body
		}
		d := f.client.policy.Classify(o)
		f.client.observer.ObserveDecision(ctx, entity, d.Action)

		switch d.Action {
		case ActionSuccess:
			rows, derr := DecodeRows(resp.Body)
			if derr != nil {
				stats.Malformed++
				f.client.logger.Warn("Treating unparseable chunk response as empty",
					zap.String("entity", entity),
					zap.Int("keys", len(keys)),
					zap.Error(derr),
				)
				return nil, false, nil
			}
			return rows, false, nil
		case ActionSplit:
			stats.Splits++
			f.client.logger.Debug("Upstream rejected chunk size, splitting",
				zap.String("entity", entity),
				zap.Int("keys", len(keys)),
				zap.Int("status", o.Status),
				zap.Int("url_length", len(rawURL)),
			)
			return nil, true, nil
		case ActionRetry:
			stats.Retries++
			f.client.logger.Warn("Retrying chunk",
				zap.String("entity", entity),
				zap.Int("attempt", attempt+1),
				zap.Int("status", o.Status),
				zap.Duration("wait", d.Wait),
				zap.Error(err),
			)
			if serr := f.client.sleep(ctx, d.Wait); serr != nil {
				return nil, false, serr
			}
		default:
			return nil, false, d.Err
		}
	}
}

// pushHalves bisects keys and pushes the halves so the left half pops first.
func pushHalves(stack [][]string, keys []string) [][]string {
	mid := len(keys) / 2
	return append(stack, keys[mid:], keys[:mid])
}

// Partition splits keys into chunks of at most size.
func Partition(keys []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

// Dedupe drops blank and repeated keys, keeping first-seen order.
func Dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
