package ordersync

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// memSummaryRepo is an in-memory OrderSummaryRepository that records the
// order of write operations.
type memSummaryRepo struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]ordersync.OrderSummary
	events     []string
	failUpdate map[string]error
	details    *memDetailRepo
}

func newMemSummaryRepo() *memSummaryRepo {
	return &memSummaryRepo{rows: map[uuid.UUID]ordersync.OrderSummary{}, failUpdate: map[string]error{}}
}

func (r *memSummaryRepo) seed(rows ...ordersync.OrderSummary) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		r.rows[row.ID] = row
		ids = append(ids, row.ID)
	}
	return ids
}

func (r *memSummaryRepo) get(accountKey, nbr string) (ordersync.OrderSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.AccountKey == accountKey && row.OrderNbr == nbr {
			return row, true
		}
	}
	return ordersync.OrderSummary{}, false
}

func (r *memSummaryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *memSummaryRepo) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *memSummaryRepo) sorted(match func(ordersync.OrderSummary) bool) []ordersync.OrderSummary {
	var out []ordersync.OrderSummary
	for _, row := range r.rows {
		if match(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNbr < out[j].OrderNbr })
	return out
}

func (r *memSummaryRepo) FindInWindow(ctx context.Context, accountKey string, cutoff time.Time) ([]ordersync.OrderSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(s ordersync.OrderSummary) bool {
		return s.AccountKey == accountKey && !s.DeliveryDate.Before(cutoff)
	}), nil
}

func (r *memSummaryRepo) FindByOrderNbrs(ctx context.Context, accountKey string, orderNbrs []string) ([]ordersync.OrderSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(s ordersync.OrderSummary) bool {
		return s.AccountKey == accountKey && slices.Contains(orderNbrs, s.OrderNbr)
	}), nil
}

func (r *memSummaryRepo) FindByOrderNbr(ctx context.Context, accountKey, orderNbr string) (*ordersync.OrderSummary, error) {
	if row, ok := r.get(accountKey, orderNbr); ok {
		return &row, nil
	}
	return nil, ordersync.ErrSummaryNotFound
}

func (r *memSummaryRepo) InsertIgnoringConflicts(ctx context.Context, rows []ordersync.OrderSummary) (int64, error) {
	var n int64
	for _, row := range rows {
		if _, exists := r.get(row.AccountKey, row.OrderNbr); exists {
			continue
		}
		r.seed(row)
		n++
	}
	r.mu.Lock()
	r.events = append(r.events, "insert")
	r.mu.Unlock()
	return n, nil
}

func (r *memSummaryRepo) Update(ctx context.Context, row *ordersync.OrderSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpdate[row.OrderNbr]; err != nil {
		return err
	}
	r.rows[row.ID] = *row
	r.events = append(r.events, "update")
	return nil
}

func (r *memSummaryRepo) TouchLastSeen(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		row := r.rows[id]
		row.LastSeenAt = at
		r.rows[id] = row
	}
	r.events = append(r.events, "touch")
	return nil
}

func (r *memSummaryRepo) Deactivate(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		row, ok := r.rows[id]
		if !ok || !row.IsActive {
			continue
		}
		row.IsActive = false
		row.UpdatedAt = at
		r.rows[id] = row
		n++
	}
	r.events = append(r.events, "deactivate")
	return n, nil
}

func (r *memSummaryRepo) ResolveIDs(ctx context.Context, accountKey string, orderNbrs []string) (map[string]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]uuid.UUID{}
	for _, row := range r.rows {
		if row.AccountKey == accountKey && slices.Contains(orderNbrs, row.OrderNbr) {
			out[row.OrderNbr] = row.ID
		}
	}
	return out, nil
}

func (r *memSummaryRepo) FindPurgeCandidates(ctx context.Context, cutoff time.Time, rules ordersync.PurgeRules, limit int) ([]ordersync.OrderSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(s ordersync.OrderSummary) bool { return rules.Eligible(&s, cutoff) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSummaryRepo) DeleteWithDetails(ctx context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.rows[id]; ok {
			delete(r.rows, id)
			n++
		}
		if r.details != nil {
			r.details.drop(id)
		}
	}
	r.events = append(r.events, "delete")
	return n, nil
}

// memDetailRepo is an in-memory OrderDetailRepository.
type memDetailRepo struct {
	mu        sync.Mutex
	lines     map[uuid.UUID][]ordersync.OrderLine
	addresses map[uuid.UUID]ordersync.OrderAddress
	contacts  map[uuid.UUID]ordersync.OrderContact
	payments  map[uuid.UUID]ordersync.OrderPayment
	writes    int
}

func newMemDetailRepo() *memDetailRepo {
	return &memDetailRepo{
		lines:     map[uuid.UUID][]ordersync.OrderLine{},
		addresses: map[uuid.UUID]ordersync.OrderAddress{},
		contacts:  map[uuid.UUID]ordersync.OrderContact{},
		payments:  map[uuid.UUID]ordersync.OrderPayment{},
	}
}

func (d *memDetailRepo) drop(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lines, id)
	delete(d.addresses, id)
	delete(d.contacts, id)
	delete(d.payments, id)
}

func (d *memDetailRepo) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func (d *memDetailRepo) ReplaceLines(ctx context.Context, summaryIDs []uuid.UUID, lines []ordersync.OrderLine) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	for _, id := range summaryIDs {
		delete(d.lines, id)
	}
	for _, l := range lines {
		d.lines[l.OrderSummaryID] = append(d.lines[l.OrderSummaryID], l)
	}
	return int64(len(lines)), nil
}

func (d *memDetailRepo) UpsertAddresses(ctx context.Context, rows []ordersync.OrderAddress) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	for _, a := range rows {
		d.addresses[a.OrderSummaryID] = a
	}
	return int64(len(rows)), nil
}

func (d *memDetailRepo) UpsertContacts(ctx context.Context, rows []ordersync.OrderContact) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	for _, c := range rows {
		d.contacts[c.OrderSummaryID] = c
	}
	return int64(len(rows)), nil
}

func (d *memDetailRepo) UpsertPayments(ctx context.Context, rows []ordersync.OrderPayment) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	for _, p := range rows {
		d.payments[p.OrderSummaryID] = p
	}
	return int64(len(rows)), nil
}

// memRecorder keeps every recorded count.
type memRecorder struct {
	mu     sync.Mutex
	rows   map[string]int64
	runs   map[string]string
	purged int64
}

func newMemRecorder() *memRecorder {
	return &memRecorder{rows: map[string]int64{}, runs: map[string]string{}}
}

func (m *memRecorder) RecordRows(_ context.Context, family, op string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[family+"/"+op] += n
}

func (m *memRecorder) RecordRun(_ context.Context, family, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[family] = outcome
}

func (m *memRecorder) RecordPurge(_ context.Context, deleted int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged += deleted
}

var (
	_ Recorder                         = (*memRecorder)(nil)
	_ ordersync.OrderSummaryRepository = (*memSummaryRepo)(nil)
	_ ordersync.OrderDetailRepository  = (*memDetailRepo)(nil)
)
