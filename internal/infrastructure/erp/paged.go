package erp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// PagedResult is the outcome of a paged list query.
type PagedResult struct {
	Rows      []Record
	Pages     int
	Truncated bool
}

// PagedFetcher runs one list query page by page with $top/$skip.
// It does not retry: any failed page fails the whole fetch.
type PagedFetcher struct {
	client *Client
}

// NewPagedFetcher creates a paged fetcher on top of a client.
func NewPagedFetcher(client *Client) *PagedFetcher {
	return &PagedFetcher{client: client}
}

// FetchAll pages with the configured page size and page limit.
func (f *PagedFetcher) FetchAll(ctx context.Context, tok ordersync.Token, entity string, q Query) (*PagedResult, error) {
	cfg := f.client.Config()
	return f.FetchPages(ctx, tok, entity, q, cfg.PageSize, cfg.MaxPages)
}

// FetchPages requests page n with $skip = n*pageSize until a page comes back
// short. Reaching maxPages with a full last page marks the result Truncated.
func (f *PagedFetcher) FetchPages(ctx context.Context, tok ordersync.Token, entity string, q Query, pageSize, maxPages int) (*PagedResult, error) {
	if pageSize <= 0 {
		return nil, ErrConfigInvalidPageSize
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	log := f.client.logger.With(zap.String("entity", entity))
	result := &PagedResult{}

	for page := 0; page < maxPages; page++ {
		q.Top = pageSize
		q.Skip = page * pageSize
		rawURL, err := f.client.URL(tok, entity, q)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := f.client.Get(ctx, tok, entity, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			cause := fmt.Errorf("%w: %v", ordersync.ErrTransientUpstream, err)
			return nil, ordersync.NewUpstreamError(ordersync.ErrPermanentUpstream, 0, len(rawURL), nil, cause)
		}
		if resp.Status < 200 || resp.Status >= 300 {
			log.Warn("Paged fetch failed",
				zap.Int("page", page),
				zap.Int("status", resp.Status),
			)
			return nil, ordersync.NewUpstreamError(ordersync.ErrPermanentUpstream, resp.Status, resp.URLLength, resp.Body, nil)
		}

		rows, err := DecodeRows(resp.Body)
		if err != nil {
			log.Error("Unparseable page", zap.Int("page", page), zap.Error(err))
			return nil, fmt.Errorf("page %d of %s: %w", page, entity, err)
		}

		elapsed := time.Since(start)
		result.Rows = append(result.Rows, rows...)
		result.Pages++
		f.client.observer.ObservePage(ctx, entity, page, len(rows), elapsed)
		log.Debug("Fetched page",
			zap.Int("page", page),
			zap.Int("rows", len(rows)),
			zap.Duration("elapsed", elapsed),
		)

		if len(rows) < pageSize {
			return result, nil
		}
	}

	result.Truncated = true
	log.Warn("Paged fetch hit page limit, result truncated",
		zap.Int("max_pages", maxPages),
		zap.Int("rows", len(result.Rows)),
	)
	return result, nil
}
