package ordersync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// fakeSource serves canned upstream data per account.
type fakeSource struct {
	mu          sync.Mutex
	snapshots   map[string]ordersync.SummarySnapshot
	summaryErrs map[string]error
	lines       map[string][]ordersync.OrderLine
	addresses   map[string]ordersync.OrderAddress
	payments    map[string]ordersync.OrderPayment
	failPayment map[string]bool
	orders      map[string]*ordersync.OrderBundle

	queries   []ordersync.SummaryQuery
	requested map[string][]string
	tokens    []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snapshots:   map[string]ordersync.SummarySnapshot{},
		summaryErrs: map[string]error{},
		lines:       map[string][]ordersync.OrderLine{},
		addresses:   map[string]ordersync.OrderAddress{},
		payments:    map[string]ordersync.OrderPayment{},
		failPayment: map[string]bool{},
		orders:      map[string]*ordersync.OrderBundle{},
		requested:   map[string][]string{},
	}
}

func (f *fakeSource) FetchSummaries(_ context.Context, tok ordersync.Token, q ordersync.SummaryQuery) (ordersync.SummarySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	f.tokens = append(f.tokens, tok.AccessToken)
	if err := f.summaryErrs[q.AccountKey]; err != nil {
		return ordersync.SummarySnapshot{}, err
	}
	return f.snapshots[q.AccountKey], nil
}

func (f *fakeSource) FetchLines(_ context.Context, _ ordersync.Token, _ string, nbrs []string) (ordersync.DetailFetch[ordersync.OrderLine], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested[FamilyLines] = nbrs
	out := ordersync.DetailFetch[ordersync.OrderLine]{OrderNbrs: nbrs, Report: ordersync.FetchReport{Requests: 1}}
	for _, n := range nbrs {
		out.Rows = append(out.Rows, f.lines[n]...)
	}
	return out, nil
}

func (f *fakeSource) FetchShipTo(_ context.Context, _ ordersync.Token, _ string, nbrs []string) (ordersync.ShipToFetch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested[FamilyAddressContact] = nbrs
	out := ordersync.ShipToFetch{OrderNbrs: nbrs}
	for _, n := range nbrs {
		if a, ok := f.addresses[n]; ok {
			out.Addresses = append(out.Addresses, a)
			out.Contacts = append(out.Contacts, ordersync.OrderContact{OrderNbr: n, Email: "ops@acme.test"})
		}
	}
	return out, nil
}

func (f *fakeSource) FetchPayments(_ context.Context, _ ordersync.Token, _ string, nbrs []string) (ordersync.DetailFetch[ordersync.OrderPayment], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested[FamilyPayments] = nbrs
	var out ordersync.DetailFetch[ordersync.OrderPayment]
	for _, n := range nbrs {
		if f.failPayment[n] {
			out.Report.ChunkErrors = append(out.Report.ChunkErrors, errors.New("chunk "+n+": upstream returned 500"))
			continue
		}
		if p, ok := f.payments[n]; ok {
			out.Rows = append(out.Rows, p)
			out.OrderNbrs = append(out.OrderNbrs, n)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchOrder(_ context.Context, _ ordersync.Token, _, nbr string) (*ordersync.OrderBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.orders[nbr]
	if !ok {
		return nil, ordersync.ErrOrderNotFound
	}
	clone := *b
	return &clone, nil
}

type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) Token(context.Context) (ordersync.Token, error) {
	f.calls++
	if f.err != nil {
		return ordersync.Token{}, f.err
	}
	return ordersync.Token{AccessToken: "t1", BaseURL: "http://erp.test"}, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Acquire(_ context.Context, accountKey string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[accountKey] {
		return nil, ordersync.ErrSyncInProgress
	}
	l.held[accountKey] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, accountKey)
		return nil
	}, nil
}

type ingestFixture struct {
	svc       *IngestService
	source    *fakeSource
	tokens    *fakeTokens
	locker    *fakeLocker
	recorder  *memRecorder
	summaries *memSummaryRepo
	details   *memDetailRepo
}

func newIngestFixture(t *testing.T, opts ...IngestOption) *ingestFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	fx := &ingestFixture{
		source:    newFakeSource(),
		tokens:    &fakeTokens{},
		locker:    &fakeLocker{held: map[string]bool{}},
		recorder:  newMemRecorder(),
		summaries: newMemSummaryRepo(),
		details:   newMemDetailRepo(),
	}
	fx.summaries.details = fx.details

	reconciler := newTestReconciler(fx.summaries, DefaultReconcilerConfig())
	writer := NewDetailWriter(fx.summaries, fx.details, logger)
	opts = append([]IngestOption{
		WithLocker(fx.locker),
		WithRecorder(fx.recorder),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	fx.svc = NewIngestService(fx.source, fx.tokens, fx.summaries, reconciler, writer, IngestConfig{
		ExcludeStatuses: []string{"Quote"},
		ExcludeShipVia:  []string{"WILL CALL"},
	}, logger, opts...)
	return fx
}

// seedUpstream serves two valid orders and one row without a status for C1.
func (fx *ingestFixture) seedUpstream() {
	fx.source.snapshots["C1"] = ordersync.SummarySnapshot{
		Rows: []ordersync.OrderSummary{
			summary("SO100", "Open", testNow),
			summary("SO101", "Hold", testNow.AddDate(0, -1, 0)),
			summary("SO102", "", testNow),
		},
		Pages: 1,
	}
	fx.source.lines["SO100"] = []ordersync.OrderLine{line("SO100", 1), line("SO100", 2)}
	fx.source.lines["SO101"] = []ordersync.OrderLine{line("SO101", 1)}
	fx.source.addresses["SO100"] = ordersync.OrderAddress{OrderNbr: "SO100", City: "Austin"}
	fx.source.payments["SO100"] = ordersync.OrderPayment{OrderNbr: "SO100", PaidAmount: decimal.NewFromInt(10)}
	fx.source.payments["SO101"] = ordersync.OrderPayment{OrderNbr: "SO101"}
}

func TestIngest_FullRun(t *testing.T) {
	fx := newIngestFixture(t)
	fx.seedUpstream()
	fx.source.failPayment["SO101"] = true
	fx.summaries.seed(activeSummary("SO050", "Open", testNow.AddDate(0, -2, 0)))

	res, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, testNow.Add(-365*24*time.Hour), res.Cutoff)
	require.Len(t, fx.source.queries, 1)
	q := fx.source.queries[0]
	assert.Equal(t, "C1", q.AccountKey)
	assert.Equal(t, res.Cutoff, q.Since)
	assert.Equal(t, []string{"Quote"}, q.ExcludeStatuses)
	assert.Equal(t, []string{"WILL CALL"}, q.ExcludeShipVia)
	assert.Equal(t, []string{"t1"}, fx.source.tokens)
	assert.Equal(t, 1, fx.tokens.calls)

	require.NotNil(t, res.Summaries)
	assert.Equal(t, int64(2), res.Summaries.Inserted)
	assert.Equal(t, int64(1), res.Summaries.Deactivated)
	assert.Equal(t, 1, res.Summaries.Dropped)
	assert.Equal(t, 3, res.ERPCounts[FamilySummaries])
	assert.Equal(t, int64(3), res.DBCounts[FamilySummaries])

	assert.Equal(t, []string{"SO100", "SO101"}, fx.source.requested[FamilyLines])
	assert.Equal(t, int64(3), res.DBCounts[FamilyLines])
	assert.Equal(t, int64(2), res.DBCounts[FamilyAddressContact])
	assert.True(t, res.Families[FamilyLines].OK)
	assert.Equal(t, 1, res.Families[FamilyLines].Requests)
	assert.True(t, res.Families[FamilyAddressContact].OK)

	pay := res.Families[FamilyPayments]
	assert.False(t, pay.OK)
	assert.Contains(t, pay.Error, "SO101")
	assert.Equal(t, int64(1), pay.DBCount)
	assert.Equal(t, OutcomePartial, pay.Outcome())
	assert.False(t, res.OK())

	assert.Equal(t, OutcomeOK, fx.recorder.runs[FamilySummaries])
	assert.Equal(t, OutcomePartial, fx.recorder.runs[FamilyPayments])
	assert.Equal(t, int64(2), fx.recorder.rows["summaries/inserted"])
	assert.Equal(t, int64(3), fx.recorder.rows["lines/written"])

	so100, ok := fx.summaries.get("C1", "SO100")
	require.True(t, ok)
	assert.Len(t, fx.details.lines[so100.ID], 2)
	assert.Equal(t, "Austin", fx.details.addresses[so100.ID].City)
	assert.True(t, fx.details.payments[so100.ID].PaidAmount.Equal(decimal.NewFromInt(10)))

	old, _ := fx.summaries.get("C1", "SO050")
	assert.False(t, old.IsActive)
	assert.Empty(t, fx.locker.held)
}

func TestIngest_SecondRunIsIdempotent(t *testing.T) {
	fx := newIngestFixture(t)
	fx.seedUpstream()

	_, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.NoError(t, err)
	res, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.NoError(t, err)

	assert.Zero(t, res.Summaries.Inserted)
	assert.Zero(t, res.Summaries.Updated)
	assert.Zero(t, res.Summaries.Deactivated)
	assert.True(t, res.OK())
	assert.Equal(t, 2, fx.summaries.count())

	so100, _ := fx.summaries.get("C1", "SO100")
	assert.Len(t, fx.details.lines[so100.ID], 2)
}

func TestIngest_TokenFailure(t *testing.T) {
	fx := newIngestFixture(t)
	fx.tokens.err = errors.New("identity server down")

	res, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.ErrorIs(t, err, ordersync.ErrTokenUnavailable)
	assert.Nil(t, res)
	assert.Empty(t, fx.source.queries)
	assert.Empty(t, fx.locker.held)
}

func TestIngest_LockHeld(t *testing.T) {
	fx := newIngestFixture(t)
	fx.locker.held["C1"] = true

	_, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.ErrorIs(t, err, ordersync.ErrSyncInProgress)
	assert.Zero(t, fx.tokens.calls)
	assert.True(t, fx.locker.held["C1"])
}

func TestIngest_InvalidAccount(t *testing.T) {
	fx := newIngestFixture(t)
	_, err := fx.svc.Ingest(context.Background(), "  ", IngestOptions{})
	assert.ErrorIs(t, err, ordersync.ErrInvalidAccount)
}

func TestIngest_SummaryFailureStopsRun(t *testing.T) {
	fx := newIngestFixture(t)
	fx.seedUpstream()
	fx.source.summaryErrs["C1"] = ordersync.ErrMalformedResponse
	fx.summaries.seed(activeSummary("SO050", "Open", testNow))

	res, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.ErrorIs(t, err, ordersync.ErrMalformedResponse)
	require.NotNil(t, res)
	assert.False(t, res.Families[FamilySummaries].OK)
	assert.NotContains(t, res.Families, FamilyLines)
	assert.Empty(t, fx.source.requested)
	assert.Equal(t, OutcomeFailed, fx.recorder.runs[FamilySummaries])

	row, _ := fx.summaries.get("C1", "SO050")
	assert.True(t, row.IsActive)
}

func TestIngest_TruncatedSnapshotKeepsRows(t *testing.T) {
	fx := newIngestFixture(t)
	fx.seedUpstream()
	snap := fx.source.snapshots["C1"]
	snap.Truncated = true
	fx.source.snapshots["C1"] = snap
	fx.summaries.seed(activeSummary("SO050", "Open", testNow))

	res, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.NoError(t, err)
	assert.True(t, res.Summaries.DeactivationSkipped)
	assert.Zero(t, res.Summaries.Deactivated)

	row, _ := fx.summaries.get("C1", "SO050")
	assert.True(t, row.IsActive)
}

func TestIngest_Purge(t *testing.T) {
	repoOpt := func(s *IngestService) {
		s.purge = NewPurgeJob(s.summaries, nil, PurgeConfig{}, s.recorder, nil)
	}
	fx := newIngestFixture(t, repoOpt)
	fx.seedUpstream()
	fx.summaries.seed(summary("SO001", "Canceled", testNow.AddDate(-2, 0, 0)))

	res, err := fx.svc.Ingest(context.Background(), "C1", IngestOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Purge)
	_, ok := fx.summaries.get("C1", "SO001")
	assert.True(t, ok)

	res, err = fx.svc.Ingest(context.Background(), "C1", IngestOptions{Purge: true})
	require.NoError(t, err)
	require.NotNil(t, res.Purge)
	assert.Equal(t, int64(1), res.Purge.Deleted)
	_, ok = fx.summaries.get("C1", "SO001")
	assert.False(t, ok)
	assert.Equal(t, int64(1), fx.recorder.purged)
}

func TestIngest_RunAll(t *testing.T) {
	fx := newIngestFixture(t)
	fx.seedUpstream()
	fx.source.summaryErrs["C2"] = errors.New("upstream returned 500")

	runs := fx.svc.RunAll(context.Background(), []string{"C2", "C1", ""}, IngestOptions{})
	require.Len(t, runs, 3)

	assert.Equal(t, "C2", runs[0].AccountKey)
	assert.Contains(t, runs[0].Error, "upstream returned 500")

	assert.Equal(t, "C1", runs[1].AccountKey)
	assert.Empty(t, runs[1].Error)
	require.NotNil(t, runs[1].Result)
	assert.Equal(t, int64(2), runs[1].Result.Summaries.Inserted)

	assert.Equal(t, ordersync.ErrInvalidAccount.Error(), runs[2].Error)
	assert.Nil(t, runs[2].Result)
}

func TestIngest_RunAllStopsOnCancel(t *testing.T) {
	fx := newIngestFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runs := fx.svc.RunAll(ctx, []string{"C1", "C2"}, IngestOptions{})
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, context.Canceled.Error(), r.Error)
	}
	assert.Empty(t, fx.source.queries)
}

func bundle(nbr, status string, lines ...ordersync.OrderLine) *ordersync.OrderBundle {
	return &ordersync.OrderBundle{
		Summary: summary(nbr, status, testNow),
		Lines:   lines,
		Address: &ordersync.OrderAddress{OrderNbr: nbr, City: "Austin"},
		Payment: &ordersync.OrderPayment{OrderNbr: nbr, PaymentCount: 1},
	}
}

func TestRefreshOrder_CreatesThenUpdates(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()
	fx.source.orders["SO500"] = bundle("SO500", "Open", line("SO500", 1), line("SO500", 2))

	res, err := fx.svc.RefreshOrder(ctx, "C1", " SO500 ")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(2), res.Lines)
	assert.True(t, res.Address)
	assert.False(t, res.Contact)
	assert.True(t, res.Payment)

	row, ok := fx.summaries.get("C1", "SO500")
	require.True(t, ok)
	assert.True(t, row.IsActive)

	fx.source.orders["SO500"] = bundle("SO500", "Hold", line("SO500", 1))
	res, err = fx.svc.RefreshOrder(ctx, "C1", "SO500")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, int64(1), res.Lines)

	updated, _ := fx.summaries.get("C1", "SO500")
	assert.Equal(t, row.ID, updated.ID)
	assert.Equal(t, "Hold", updated.Status)
	assert.Len(t, fx.details.lines[row.ID], 1)
	assert.Equal(t, 1, fx.summaries.count())
}

func TestRefreshOrder_Errors(t *testing.T) {
	fx := newIngestFixture(t)
	ctx := context.Background()
	fx.source.orders["SO600"] = bundle("SO600", "")

	_, err := fx.svc.RefreshOrder(ctx, "C1", "SO404")
	assert.ErrorIs(t, err, ordersync.ErrOrderNotFound)

	_, err = fx.svc.RefreshOrder(ctx, "C1", "SO600")
	assert.ErrorIs(t, err, ordersync.ErrMissingRequiredKey)

	_, err = fx.svc.RefreshOrder(ctx, "C1", "")
	assert.ErrorIs(t, err, ordersync.ErrInvalidOrderNbr)

	_, err = fx.svc.RefreshOrder(ctx, "", "SO1")
	assert.ErrorIs(t, err, ordersync.ErrInvalidAccount)

	fx.tokens.err = errors.New("expired")
	_, err = fx.svc.RefreshOrder(ctx, "C1", "SO600")
	assert.ErrorIs(t, err, ordersync.ErrTokenUnavailable)

	assert.Zero(t, fx.summaries.count())
}
