package ordersync

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/erp"
)

// DetailResult counts the rows handled by one detail write.
type DetailResult struct {
	Rows              int   `json:"rows"`
	Written           int64 `json:"written"`
	OrdersWithoutNbr  int   `json:"orders_without_nbr"`
	DroppedUnresolved int   `json:"dropped_unresolved"`
}

// Dropped is the number of rows that were not written.
func (r DetailResult) Dropped() int {
	return r.OrdersWithoutNbr + r.DroppedUnresolved
}

// DetailWriter writes detail rows under their parent summaries. Rows whose
// parent cannot be resolved are dropped and counted, never written.
type DetailWriter struct {
	summaries ordersync.OrderSummaryRepository
	details   ordersync.OrderDetailRepository
	logger    *zap.Logger
}

// NewDetailWriter creates a detail writer.
func NewDetailWriter(summaries ordersync.OrderSummaryRepository, details ordersync.OrderDetailRepository, logger *zap.Logger) *DetailWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailWriter{summaries: summaries, details: details, logger: logger}
}

// resolveParents attaches each row to its summary id. nbr reads the order
// number of a row and attach stores the resolved id on it.
func resolveParents[T any](ctx context.Context, w *DetailWriter, accountKey string, rows []T, extra []string,
	nbr func(*T) string, attach func(*T, uuid.UUID)) ([]T, map[string]uuid.UUID, DetailResult, error) {
	res := DetailResult{Rows: len(rows)}

	keys := make([]string, 0, len(rows)+len(extra))
	keys = append(keys, extra...)
	for i := range rows {
		keys = append(keys, strings.TrimSpace(nbr(&rows[i])))
	}
	keys = erp.Dedupe(keys)
	if len(keys) == 0 {
		res.OrdersWithoutNbr = len(rows)
		return nil, nil, res, nil
	}

	ids, err := w.summaries.ResolveIDs(ctx, accountKey, keys)
	if err != nil {
		return nil, nil, res, fmt.Errorf("resolve parents: %w", err)
	}

	kept := make([]T, 0, len(rows))
	for i := range rows {
		row := rows[i]
		n := strings.TrimSpace(nbr(&row))
		if n == "" {
			res.OrdersWithoutNbr++
			continue
		}
		id, ok := ids[n]
		if !ok {
			res.DroppedUnresolved++
			w.logger.Debug("Dropping detail row without parent",
				zap.String("account_key", accountKey),
				zap.String("order_nbr", n),
				zap.Error(ordersync.ErrParentNotFound),
			)
			continue
		}
		attach(&row, id)
		kept = append(kept, row)
	}
	return kept, ids, res, nil
}

// ReplaceLines replaces the lines of every resolved order in orderNbrs with
// lines. Orders listed without lines end up with none.
func (w *DetailWriter) ReplaceLines(ctx context.Context, accountKey string, orderNbrs []string, lines []ordersync.OrderLine) (*DetailResult, error) {
	kept, ids, res, err := resolveParents(ctx, w, accountKey, lines, orderNbrs,
		func(l *ordersync.OrderLine) string { return l.OrderNbr },
		func(l *ordersync.OrderLine, id uuid.UUID) {
			l.OrderSummaryID = id
			if l.ID == uuid.Nil {
				l.ID = uuid.New()
			}
		})
	if err != nil {
		return &res, err
	}

	summaryIDs := make([]uuid.UUID, 0, len(ids))
	for _, n := range erp.Dedupe(orderNbrs) {
		if id, ok := ids[strings.TrimSpace(n)]; ok {
			summaryIDs = append(summaryIDs, id)
		}
	}
	for _, l := range kept {
		summaryIDs = append(summaryIDs, l.OrderSummaryID)
	}
	summaryIDs = dedupeIDs(summaryIDs)
	if len(summaryIDs) == 0 {
		return &res, nil
	}

	n, err := w.details.ReplaceLines(ctx, summaryIDs, kept)
	if err != nil {
		return &res, fmt.Errorf("replace lines: %w", err)
	}
	res.Written = n
	return &res, nil
}

// UpsertAddresses writes ship-to addresses.
func (w *DetailWriter) UpsertAddresses(ctx context.Context, accountKey string, rows []ordersync.OrderAddress) (*DetailResult, error) {
	kept, _, res, err := resolveParents(ctx, w, accountKey, rows, nil,
		func(a *ordersync.OrderAddress) string { return a.OrderNbr },
		func(a *ordersync.OrderAddress, id uuid.UUID) { a.OrderSummaryID = id })
	if err != nil || len(kept) == 0 {
		return &res, err
	}
	n, err := w.details.UpsertAddresses(ctx, kept)
	if err != nil {
		return &res, fmt.Errorf("upsert addresses: %w", err)
	}
	res.Written = n
	return &res, nil
}

// UpsertContacts writes ship-to contacts.
func (w *DetailWriter) UpsertContacts(ctx context.Context, accountKey string, rows []ordersync.OrderContact) (*DetailResult, error) {
	kept, _, res, err := resolveParents(ctx, w, accountKey, rows, nil,
		func(c *ordersync.OrderContact) string { return c.OrderNbr },
		func(c *ordersync.OrderContact, id uuid.UUID) { c.OrderSummaryID = id })
	if err != nil || len(kept) == 0 {
		return &res, err
	}
	n, err := w.details.UpsertContacts(ctx, kept)
	if err != nil {
		return &res, fmt.Errorf("upsert contacts: %w", err)
	}
	res.Written = n
	return &res, nil
}

// UpsertPayments writes payment aggregates.
func (w *DetailWriter) UpsertPayments(ctx context.Context, accountKey string, rows []ordersync.OrderPayment) (*DetailResult, error) {
	kept, _, res, err := resolveParents(ctx, w, accountKey, rows, nil,
		func(p *ordersync.OrderPayment) string { return p.OrderNbr },
		func(p *ordersync.OrderPayment, id uuid.UUID) { p.OrderSummaryID = id })
	if err != nil || len(kept) == 0 {
		return &res, err
	}
	n, err := w.details.UpsertPayments(ctx, kept)
	if err != nil {
		return &res, fmt.Errorf("upsert payments: %w", err)
	}
	res.Written = n
	return &res, nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
