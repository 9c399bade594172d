package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/domain/ordersync"
	"github.com/erp/ordersync/internal/infrastructure/erp"
)

// Entity families of one ingest run.
const (
	FamilySummaries      = "summaries"
	FamilyLines          = "lines"
	FamilyAddressContact = "addressContact"
	FamilyPayments       = "payments"
)

// Run outcomes.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// IngestConfig holds the orchestration tunables.
type IngestConfig struct {
	// CutoffWindow is the reconciliation window, counted back from now
	CutoffWindow    time.Duration
	ExcludeStatuses []string
	ExcludeShipVia  []string
}

// IngestOptions select optional steps of a run.
type IngestOptions struct {
	Purge bool
}

// FamilyResult is the outcome of one entity family.
type FamilyResult struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	ERPCount  int    `json:"erp_count"`
	DBCount   int64  `json:"db_count"`
	Dropped   int    `json:"dropped"`
	Requests  int    `json:"requests,omitempty"`
	Splits    int    `json:"splits,omitempty"`
	Retries   int    `json:"retries,omitempty"`
	Malformed int    `json:"malformed,omitempty"`
	TimingMs  int64  `json:"timing_ms"`
}

// Outcome classifies the family result.
func (f *FamilyResult) Outcome() string {
	switch {
	case f.OK:
		return OutcomeOK
	case f.DBCount > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

// IngestResult reports one account run.
type IngestResult struct {
	AccountKey string                   `json:"account_key"`
	Cutoff     time.Time                `json:"cutoff"`
	ERPCounts  map[string]int           `json:"erp_counts"`
	DBCounts   map[string]int64         `json:"db_counts"`
	TimingMs   map[string]int64         `json:"timing_ms"`
	Families   map[string]*FamilyResult `json:"families"`
	Summaries  *ReconcileResult         `json:"summaries,omitempty"`
	Purge      *PurgeResult             `json:"purge,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
}

// OK reports whether every family succeeded.
func (r *IngestResult) OK() bool {
	for _, f := range r.Families {
		if !f.OK {
			return false
		}
	}
	return true
}

func (r *IngestResult) record(name string, f *FamilyResult) {
	r.Families[name] = f
	r.ERPCounts[name] = f.ERPCount
	r.DBCounts[name] = f.DBCount
	r.TimingMs[name] = f.TimingMs
}

// RefreshResult reports a single-order refresh.
type RefreshResult struct {
	AccountKey string `json:"account_key"`
	OrderNbr   string `json:"order_nbr"`
	Created    bool   `json:"created"`
	Lines      int64  `json:"lines"`
	Address    bool   `json:"address"`
	Contact    bool   `json:"contact"`
	Payment    bool   `json:"payment"`
	TimingMs   int64  `json:"timing_ms"`
}

// AccountRun is the outcome of one account in RunAll.
type AccountRun struct {
	AccountKey string        `json:"account_key"`
	Result     *IngestResult `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// IngestService sequences token, fetch, reconcile, detail writes and purge
// for one account at a time.
type IngestService struct {
	source    ordersync.OrderSource
	tokens    ordersync.TokenProvider
	locker    ordersync.AccountLocker
	summaries ordersync.OrderSummaryRepository
	reconcile *Reconciler
	details   *DetailWriter
	purge     *PurgeJob
	recorder  Recorder
	cfg       IngestConfig
	logger    *zap.Logger
	now       func() time.Time
}

// IngestOption configures an IngestService.
type IngestOption func(*IngestService)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) IngestOption {
	return func(s *IngestService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLocker sets the per-account locker.
func WithLocker(l ordersync.AccountLocker) IngestOption {
	return func(s *IngestService) { s.locker = l }
}

// WithPurgeJob enables purging after a run.
func WithPurgeJob(j *PurgeJob) IngestOption {
	return func(s *IngestService) { s.purge = j }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) IngestOption {
	return func(s *IngestService) { s.now = now }
}

// NewIngestService creates the orchestrator.
func NewIngestService(
	source ordersync.OrderSource,
	tokens ordersync.TokenProvider,
	summaries ordersync.OrderSummaryRepository,
	reconciler *Reconciler,
	details *DetailWriter,
	cfg IngestConfig,
	logger *zap.Logger,
	opts ...IngestOption,
) *IngestService {
	if cfg.CutoffWindow <= 0 {
		cfg.CutoffWindow = 365 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &IngestService{
		source:    source,
		tokens:    tokens,
		summaries: summaries,
		reconcile: reconciler,
		details:   details,
		recorder:  NopRecorder(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cutoff returns the start of the reconciliation window at t.
func (s *IngestService) Cutoff(t time.Time) time.Time {
	return t.Add(-s.cfg.CutoffWindow).UTC()
}

func (s *IngestService) token(ctx context.Context) (ordersync.Token, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, ordersync.ErrTokenUnavailable) {
			return tok, err
		}
		return tok, fmt.Errorf("%w: %v", ordersync.ErrTokenUnavailable, err)
	}
	return tok, nil
}

// Ingest runs a full sync of one account. Detail family failures are
// reported in the result; only lock, token and summary failures return an error.
func (s *IngestService) Ingest(ctx context.Context, accountKey string, opts IngestOptions) (*IngestResult, error) {
	accountKey = strings.TrimSpace(accountKey)
	if accountKey == "" {
		return nil, ordersync.ErrInvalidAccount
	}
	log := s.logger.With(zap.String("account_key", accountKey))

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, accountKey)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release account lock", zap.Error(err))
			}
		}()
	}

	tok, err := s.token(ctx)
	if err != nil {
		log.Error("Sync aborted, no token", zap.Error(err))
		return nil, err
	}

	started := s.now()
	result := &IngestResult{
		AccountKey: accountKey,
		Cutoff:     s.Cutoff(started),
		ERPCounts:  map[string]int{},
		DBCounts:   map[string]int64{},
		TimingMs:   map[string]int64{},
		Families:   map[string]*FamilyResult{},
		StartedAt:  started,
	}
	log.Info("Sync started", zap.Time("cutoff", result.Cutoff))

	orderNbrs, err := s.syncSummaries(ctx, tok, result)
	if err != nil {
		result.FinishedAt = s.now()
		return result, err
	}

	s.runFamily(ctx, result, FamilyLines, func(ctx context.Context, f *FamilyResult) (ordersync.FetchReport, error) {
		fetch, err := s.source.FetchLines(ctx, tok, accountKey, orderNbrs)
		if err != nil {
			return fetch.Report, err
		}
		f.ERPCount = len(fetch.Rows)
		res, err := s.details.ReplaceLines(ctx, accountKey, fetch.OrderNbrs, fetch.Rows)
		f.apply(res)
		return fetch.Report, err
	})

	s.runFamily(ctx, result, FamilyAddressContact, func(ctx context.Context, f *FamilyResult) (ordersync.FetchReport, error) {
		fetch, err := s.source.FetchShipTo(ctx, tok, accountKey, orderNbrs)
		if err != nil {
			return fetch.Report, err
		}
		f.ERPCount = len(fetch.Addresses) + len(fetch.Contacts)
		addr, aerr := s.details.UpsertAddresses(ctx, accountKey, fetch.Addresses)
		f.apply(addr)
		contact, cerr := s.details.UpsertContacts(ctx, accountKey, fetch.Contacts)
		f.apply(contact)
		return fetch.Report, errors.Join(aerr, cerr)
	})

	s.runFamily(ctx, result, FamilyPayments, func(ctx context.Context, f *FamilyResult) (ordersync.FetchReport, error) {
		fetch, err := s.source.FetchPayments(ctx, tok, accountKey, orderNbrs)
		if err != nil {
			return fetch.Report, err
		}
		f.ERPCount = len(fetch.Rows)
		res, err := s.details.UpsertPayments(ctx, accountKey, fetch.Rows)
		f.apply(res)
		return fetch.Report, err
	})

	if opts.Purge && s.purge != nil {
		purged, err := s.purge.Purge(ctx, result.Cutoff)
		result.Purge = purged
		if err != nil {
			log.Error("Purge failed", zap.Error(err))
		}
	}

	result.FinishedAt = s.now()
	log.Info("Sync finished",
		zap.Bool("ok", result.OK()),
		zap.Any("erp_counts", result.ERPCounts),
		zap.Any("db_counts", result.DBCounts),
		zap.Duration("elapsed", result.FinishedAt.Sub(started)),
	)
	return result, nil
}

// syncSummaries fetches and reconciles the summaries, returning the order
// numbers whose details should be refreshed.
func (s *IngestService) syncSummaries(ctx context.Context, tok ordersync.Token, result *IngestResult) ([]string, error) {
	start := s.now()
	f := &FamilyResult{}
	defer func() {
		f.TimingMs = s.now().Sub(start).Milliseconds()
		result.record(FamilySummaries, f)
		s.recorder.RecordRun(ctx, FamilySummaries, f.Outcome(), s.now().Sub(start))
	}()

	snap, err := s.source.FetchSummaries(ctx, tok, ordersync.SummaryQuery{
		AccountKey:      result.AccountKey,
		Since:           result.Cutoff,
		ExcludeStatuses: s.cfg.ExcludeStatuses,
		ExcludeShipVia:  s.cfg.ExcludeShipVia,
	})
	if err != nil {
		f.Error = err.Error()
		return nil, fmt.Errorf("sync summaries of %s: %w", result.AccountKey, err)
	}
	f.ERPCount = len(snap.Rows)
	f.Requests = snap.Pages

	rec, err := s.reconcile.Reconcile(ctx, result.AccountKey, snap.Rows, result.Cutoff, ReconcileOptions{Truncated: snap.Truncated})
	result.Summaries = rec
	if rec != nil {
		f.DBCount = rec.Inserted + rec.Updated + rec.Deactivated
		f.Dropped = rec.Dropped
		s.recorder.RecordRows(ctx, FamilySummaries, "inserted", rec.Inserted)
		s.recorder.RecordRows(ctx, FamilySummaries, "updated", rec.Updated)
		s.recorder.RecordRows(ctx, FamilySummaries, "deactivated", rec.Deactivated)
		s.recorder.RecordRows(ctx, FamilySummaries, "dropped", int64(rec.Dropped))
	}
	if err != nil {
		f.Error = err.Error()
		if rec == nil {
			return nil, fmt.Errorf("reconcile summaries of %s: %w", result.AccountKey, err)
		}
	} else {
		f.OK = true
	}

	nbrs := make([]string, 0, len(snap.Rows))
	for i := range snap.Rows {
		if snap.Rows[i].HasRequiredKeys() {
			nbrs = append(nbrs, strings.TrimSpace(snap.Rows[i].OrderNbr))
		}
	}
	return erp.Dedupe(nbrs), nil
}

func (f *FamilyResult) apply(res *DetailResult) {
	if res == nil {
		return
	}
	f.DBCount += res.Written
	f.Dropped += res.Dropped()
}

// runFamily runs one detail family, capturing its outcome instead of failing the run.
func (s *IngestService) runFamily(ctx context.Context, result *IngestResult, name string, fn func(ctx context.Context, f *FamilyResult) (ordersync.FetchReport, error)) {
	start := s.now()
	f := &FamilyResult{}
	report, err := fn(ctx, f)

	f.Requests = report.Requests
	f.Splits = report.Splits
	f.Retries = report.Retries
	f.Malformed = report.Malformed
	if err == nil {
		err = report.Err()
	}
	if err != nil {
		f.Error = err.Error()
		s.logger.Warn("Family sync incomplete",
			zap.String("account_key", result.AccountKey),
			zap.String("family", name),
			zap.Int("failed_chunks", len(report.ChunkErrors)),
			zap.Error(err),
		)
	} else {
		f.OK = true
	}
	f.TimingMs = s.now().Sub(start).Milliseconds()
	result.record(name, f)

	s.recorder.RecordRows(ctx, name, "written", f.DBCount)
	s.recorder.RecordRows(ctx, name, "dropped", int64(f.Dropped))
	s.recorder.RecordRun(ctx, name, f.Outcome(), s.now().Sub(start))
}

// RefreshOrder re-fetches one order with every expansion and writes it,
// creating the summary when it does not exist yet. It never deactivates.
func (s *IngestService) RefreshOrder(ctx context.Context, accountKey, orderNbr string) (*RefreshResult, error) {
	accountKey = strings.TrimSpace(accountKey)
	orderNbr = strings.TrimSpace(orderNbr)
	if accountKey == "" {
		return nil, ordersync.ErrInvalidAccount
	}
	if orderNbr == "" {
		return nil, ordersync.ErrInvalidOrderNbr
	}
	start := s.now()
	log := s.logger.With(zap.String("account_key", accountKey), zap.String("order_nbr", orderNbr))

	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	bundle, err := s.source.FetchOrder(ctx, tok, accountKey, orderNbr)
	if err != nil {
		return nil, err
	}

	summary := bundle.Summary
	summary.AccountKey = accountKey
	summary.OrderNbr = orderNbr
	if !summary.HasRequiredKeys() {
		return nil, fmt.Errorf("refresh %s: %w", orderNbr, ordersync.ErrMissingRequiredKey)
	}

	result := &RefreshResult{AccountKey: accountKey, OrderNbr: orderNbr}
	now := s.now().UTC()
	existing, err := s.summaries.FindByOrderNbr(ctx, accountKey, orderNbr)
	switch {
	case errors.Is(err, ordersync.ErrSummaryNotFound):
		summary.ID = uuid.New()
		summary.IsActive = true
		summary.LastSeenAt = now
		summary.CreatedAt = now
		summary.UpdatedAt = now
		n, err := s.summaries.InsertIgnoringConflicts(ctx, []ordersync.OrderSummary{summary})
		if err != nil {
			return nil, fmt.Errorf("insert summary: %w", err)
		}
		result.Created = n > 0
	case err != nil:
		return nil, fmt.Errorf("load summary: %w", err)
	default:
		existing.ApplyWatchedFields(&summary)
		existing.IsActive = true
		existing.LastSeenAt = now
		existing.UpdatedAt = now
		if err := s.summaries.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("update summary: %w", err)
		}
	}

	lines, err := s.details.ReplaceLines(ctx, accountKey, []string{orderNbr}, bundle.Lines)
	if err != nil {
		return nil, err
	}
	result.Lines = lines.Written

	if bundle.Address != nil {
		res, err := s.details.UpsertAddresses(ctx, accountKey, []ordersync.OrderAddress{*bundle.Address})
		if err != nil {
			return nil, err
		}
		result.Address = res.Written > 0
	}
	if bundle.Contact != nil {
		res, err := s.details.UpsertContacts(ctx, accountKey, []ordersync.OrderContact{*bundle.Contact})
		if err != nil {
			return nil, err
		}
		result.Contact = res.Written > 0
	}
	if bundle.Payment != nil {
		res, err := s.details.UpsertPayments(ctx, accountKey, []ordersync.OrderPayment{*bundle.Payment})
		if err != nil {
			return nil, err
		}
		result.Payment = res.Written > 0
	}

	result.TimingMs = s.now().Sub(start).Milliseconds()
	log.Info("Order refreshed", zap.Bool("created", result.Created), zap.Int64("lines", result.Lines))
	return result, nil
}

// RunAll syncs the accounts one after another. A failing account does not
// stop the others.
func (s *IngestService) RunAll(ctx context.Context, accounts []string, opts IngestOptions) []AccountRun {
	runs := make([]AccountRun, 0, len(accounts))
	for _, account := range accounts {
		if ctx.Err() != nil {
			runs = append(runs, AccountRun{AccountKey: account, Error: ctx.Err().Error()})
			continue
		}
		res, err := s.Ingest(ctx, account, opts)
		run := AccountRun{AccountKey: account, Result: res}
		if err != nil {
			run.Error = err.Error()
		}
		runs = append(runs, run)
	}
	return runs
}
