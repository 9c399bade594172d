package ordersync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Store ports
// ---------------------------------------------------------------------------

// OrderSummaryRepository persists order summaries.
type OrderSummaryRepository interface {
	// FindInWindow returns all summaries of the account with DeliveryDate >= cutoff, active or not.
	FindInWindow(ctx context.Context, accountKey string, cutoff time.Time) ([]OrderSummary, error)

	// FindByOrderNbrs returns the summaries of the account matching the given order numbers.
	FindByOrderNbrs(ctx context.Context, accountKey string, orderNbrs []string) ([]OrderSummary, error)

	// FindByOrderNbr returns a single summary or ErrSummaryNotFound.
	FindByOrderNbr(ctx context.Context, accountKey, orderNbr string) (*OrderSummary, error)

	// InsertIgnoringConflicts bulk-inserts rows and skips rows whose natural key already exists.
	// It returns the number of rows actually inserted.
	InsertIgnoringConflicts(ctx context.Context, rows []OrderSummary) (int64, error)

	// Update writes the watched fields, IsActive and LastSeenAt of an existing row.
	Update(ctx context.Context, row *OrderSummary) error

	// TouchLastSeen sets LastSeenAt for the given ids.
	TouchLastSeen(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// Deactivate clears IsActive for the given ids and returns the affected count.
	Deactivate(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)

	// ResolveIDs maps order numbers of the account to summary ids. Unknown numbers are absent.
	ResolveIDs(ctx context.Context, accountKey string, orderNbrs []string) (map[string]uuid.UUID, error)

	// FindPurgeCandidates returns up to limit summaries across all accounts with
	// DeliveryDate < cutoff and a purge status or quote prefix.
	FindPurgeCandidates(ctx context.Context, cutoff time.Time, rules PurgeRules, limit int) ([]OrderSummary, error)

	// DeleteWithDetails deletes the summaries and all of their detail rows in one transaction.
	DeleteWithDetails(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// OrderDetailRepository persists detail rows owned by summaries.
type OrderDetailRepository interface {
	// ReplaceLines deletes every line of the given summaries and inserts lines in one transaction.
	ReplaceLines(ctx context.Context, summaryIDs []uuid.UUID, lines []OrderLine) (int64, error)

	// UpsertAddresses inserts or updates addresses keyed by OrderSummaryID.
	UpsertAddresses(ctx context.Context, rows []OrderAddress) (int64, error)

	// UpsertContacts inserts or updates contacts keyed by OrderSummaryID.
	UpsertContacts(ctx context.Context, rows []OrderContact) (int64, error)

	// UpsertPayments inserts or updates payments keyed by OrderSummaryID.
	UpsertPayments(ctx context.Context, rows []OrderPayment) (int64, error)
}

// ---------------------------------------------------------------------------
// Collaborator ports
// ---------------------------------------------------------------------------

// Token is a bearer token plus the base URL it is valid for.
type Token struct {
	AccessToken string
	BaseURL     string
	ExpiresAt   time.Time
}

// TokenProvider supplies upstream credentials. It is called once per sync run.
type TokenProvider interface {
	Token(ctx context.Context) (Token, error)
}

// AccountLocker serializes sync runs per account.
// Acquire returns ErrSyncInProgress when another run holds the lock.
type AccountLocker interface {
	Acquire(ctx context.Context, accountKey string) (release func(context.Context) error, err error)
}
