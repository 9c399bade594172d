package erp

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// Source reads sales orders through the paged and batched fetchers.
type Source struct {
	client *Client
	paged  *PagedFetcher
	batch  *AdaptiveBatchFetcher
	logger *zap.Logger
}

// NewSource creates an order source on top of a client.
func NewSource(client *Client) *Source {
	return &Source{
		client: client,
		paged:  NewPagedFetcher(client),
		batch:  NewAdaptiveBatchFetcher(client),
		logger: client.logger,
	}
}

// FetchSummaries pages through the summaries of one account.
func (s *Source) FetchSummaries(ctx context.Context, tok ordersync.Token, q ordersync.SummaryQuery) (ordersync.SummarySnapshot, error) {
	query := Query{
		Filter: SummaryFilter(FilterParams{
			CustomerID:      q.AccountKey,
			Since:           q.Since,
			ExcludeStatuses: q.ExcludeStatuses,
			ExcludeShipVia:  q.ExcludeShipVia,
		}),
		Select:  summarySelect,
		Custom:  summaryCustom,
		OrderBy: fieldOrderNbr,
	}
	res, err := s.paged.FetchAll(ctx, tok, EntitySalesOrder, query)
	if err != nil {
		return ordersync.SummarySnapshot{}, fmt.Errorf("fetch summaries: %w", err)
	}

	snap := ordersync.SummarySnapshot{
		Rows:      make([]ordersync.OrderSummary, 0, len(res.Rows)),
		Pages:     res.Pages,
		Truncated: res.Truncated,
	}
	for _, r := range res.Rows {
		snap.Rows = append(snap.Rows, ToSummary(q.AccountKey, r))
	}
	return snap, nil
}

// FetchTaxRates loads the tax zone lookup table.
func (s *Source) FetchTaxRates(ctx context.Context, tok ordersync.Token) (TaxRates, error) {
	res, err := s.paged.FetchAll(ctx, tok, EntityTaxZone, Query{Select: taxZoneSelect, Expand: taxZoneExpand})
	if err != nil {
		return nil, fmt.Errorf("fetch tax zones: %w", err)
	}
	return ToTaxRates(res.Rows), nil
}

func (s *Source) fetchOrders(ctx context.Context, tok ordersync.Token, accountKey string, orderNbrs []string, sel, expand []string) *BatchResult {
	return s.batch.Fetch(ctx, tok, EntitySalesOrder, orderNbrs, func(keys []string) Query {
		return Query{
			Filter: OrderNbrFilter(accountKey, keys),
			Select: sel,
			Expand: expand,
		}
	})
}

// returnedOrders lists the order numbers present in a batch result, including
// blanks so callers can count orders that came back without a number.
func returnedOrders(rows []Record) []string {
	nbrs := make([]string, 0, len(rows))
	for _, r := range rows {
		nbrs = append(nbrs, r.Text(summaryOrderNbr...))
	}
	return nbrs
}

// FetchLines fetches lines with allocations and resolves tax rates.
func (s *Source) FetchLines(ctx context.Context, tok ordersync.Token, accountKey string, orderNbrs []string) (ordersync.DetailFetch[ordersync.OrderLine], error) {
	var out ordersync.DetailFetch[ordersync.OrderLine]
	rates, err := s.FetchTaxRates(ctx, tok)
	if err != nil {
		return out, err
	}

	res := s.fetchOrders(ctx, tok, accountKey, orderNbrs, lineSelect, lineExpand)
	for _, order := range res.Rows {
		out.Rows = append(out.Rows, ToLines(order, rates)...)
	}
	out.OrderNbrs = returnedOrders(res.Rows)
	out.Report = res.Report()
	return out, nil
}

// FetchShipTo fetches ship-to addresses and contacts in one pass.
func (s *Source) FetchShipTo(ctx context.Context, tok ordersync.Token, accountKey string, orderNbrs []string) (ordersync.ShipToFetch, error) {
	var out ordersync.ShipToFetch
	res := s.fetchOrders(ctx, tok, accountKey, orderNbrs, shipToSelect, shipToExpand)
	for _, order := range res.Rows {
		if a := ToAddress(order); a != nil {
			out.Addresses = append(out.Addresses, *a)
		}
		if c := ToContact(order); c != nil {
			out.Contacts = append(out.Contacts, *c)
		}
	}
	out.OrderNbrs = returnedOrders(res.Rows)
	out.Report = res.Report()
	return out, nil
}

// FetchPayments fetches order totals and applied payments.
func (s *Source) FetchPayments(ctx context.Context, tok ordersync.Token, accountKey string, orderNbrs []string) (ordersync.DetailFetch[ordersync.OrderPayment], error) {
	var out ordersync.DetailFetch[ordersync.OrderPayment]
	res := s.fetchOrders(ctx, tok, accountKey, orderNbrs, paymentSelect, paymentExpand)
	for _, order := range res.Rows {
		out.Rows = append(out.Rows, ToPayment(order))
	}
	out.OrderNbrs = returnedOrders(res.Rows)
	out.Report = res.Report()
	return out, nil
}

// FetchOrder fetches one order with every expansion.
func (s *Source) FetchOrder(ctx context.Context, tok ordersync.Token, accountKey, orderNbr string) (*ordersync.OrderBundle, error) {
	orderNbr = strings.TrimSpace(orderNbr)
	if orderNbr == "" {
		return nil, ordersync.ErrInvalidOrderNbr
	}
	rates, err := s.FetchTaxRates(ctx, tok)
	if err != nil {
		return nil, err
	}

	sel := Dedupe(slices.Concat(summarySelect, lineSelect, shipToSelect, paymentSelect))
	expand := slices.Concat(lineExpand, shipToExpand, paymentExpand)
	res := s.batch.Fetch(ctx, tok, EntitySalesOrder, []string{orderNbr}, func(keys []string) Query {
		return Query{
			Filter: OrderNbrFilter(accountKey, keys),
			Select: sel,
			Custom: summaryCustom,
			Expand: expand,
		}
	})
	if err := res.Report().Err(); err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderNbr, err)
	}

	for _, r := range res.Rows {
		if r.Text(summaryOrderNbr...) != orderNbr {
			continue
		}
		bundle := &ordersync.OrderBundle{
			Summary: ToSummary(accountKey, r),
			Lines:   ToLines(r, rates),
			Address: ToAddress(r),
			Contact: ToContact(r),
		}
		pay := ToPayment(r)
		bundle.Payment = &pay
		return bundle, nil
	}
	s.logger.Debug("Order not returned by upstream",
		zap.String("account_key", accountKey),
		zap.String("order_nbr", orderNbr),
	)
	return nil, ordersync.ErrOrderNotFound
}

var _ ordersync.OrderSource = (*Source)(nil)
