package ordersync

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// ---------------------------------------------------------------------------
// OrderSummary
// ---------------------------------------------------------------------------

// OrderSummary is the local mirror of one ERP sales order header.
// It is unique per (AccountKey, OrderNbr).
type OrderSummary struct {
	ID           uuid.UUID
	AccountKey   string
	OrderNbr     string
	Status       string
	DeliveryDate time.Time
	ShipVia      string
	JobName      string
	CustomerName string
	BuyerGroup   string
	NoteID       string
	LocationID   string
	IsActive     bool
	LastSeenAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Fit clips the text fields to the widths of the order_summaries columns.
func (s *OrderSummary) Fit() {
	s.AccountKey = Clip(s.AccountKey, 64)
	s.OrderNbr = Clip(s.OrderNbr, 50)
	s.Status = Clip(s.Status, 50)
	s.ShipVia = Clip(s.ShipVia, 50)
	s.JobName = Clip(s.JobName, 255)
	s.CustomerName = Clip(s.CustomerName, 255)
	s.BuyerGroup = Clip(s.BuyerGroup, 100)
	s.NoteID = Clip(s.NoteID, 64)
	s.LocationID = Clip(s.LocationID, 50)
}

// Clip shortens s to at most n characters without splitting a rune.
func Clip(s string, n int) string {
	if len(s) <= n || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// HasRequiredKeys reports whether the row carries the fields needed to reconcile it.
func (s *OrderSummary) HasRequiredKeys() bool {
	return strings.TrimSpace(s.OrderNbr) != "" &&
		strings.TrimSpace(s.Status) != "" &&
		!s.DeliveryDate.IsZero()
}

// WatchedFieldsEqual compares the fields whose change triggers an update.
func (s *OrderSummary) WatchedFieldsEqual(other *OrderSummary) bool {
	return s.Status == other.Status &&
		s.LocationID == other.LocationID &&
		s.DeliveryDate.Equal(other.DeliveryDate) &&
		s.ShipVia == other.ShipVia &&
		s.JobName == other.JobName &&
		s.CustomerName == other.CustomerName &&
		s.BuyerGroup == other.BuyerGroup &&
		s.NoteID == other.NoteID
}

// ApplyWatchedFields copies the watched fields of src onto s.
func (s *OrderSummary) ApplyWatchedFields(src *OrderSummary) {
	s.Status = src.Status
	s.LocationID = src.LocationID
	s.DeliveryDate = src.DeliveryDate
	s.ShipVia = src.ShipVia
	s.JobName = src.JobName
	s.CustomerName = src.CustomerName
	s.BuyerGroup = src.BuyerGroup
	s.NoteID = src.NoteID
}

// ---------------------------------------------------------------------------
// Details
// ---------------------------------------------------------------------------

// OrderLine is one inventory line of an order. Lines are replaced wholesale per order.
type OrderLine struct {
	ID             uuid.UUID
	OrderSummaryID uuid.UUID
	OrderNbr       string
	LineNbr        int
	InventoryID    string
	LineType       string
	Description    string
	OpenQty        decimal.Decimal
	OrderQty       decimal.Decimal
	UnitPrice      decimal.Decimal
	Amount         decimal.Decimal
	TaxZone        string
	TaxRate        decimal.Decimal
	IsAllocated    bool
	AllocatedQty   decimal.Decimal
	Warehouse      string
	ETA            *time.Time
}

// OrderAddress is the ship-to address of an order.
type OrderAddress struct {
	OrderSummaryID uuid.UUID
	OrderNbr       string
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	PostalCode     string
	Country        string
}

// OrderContact is the ship-to contact of an order.
type OrderContact struct {
	OrderSummaryID uuid.UUID
	OrderNbr       string
	Attention      string
	CompanyName    string
	Email          string
	Phone          string
}

// OrderPayment holds header totals plus an aggregate of applied payments.
type OrderPayment struct {
	OrderSummaryID  uuid.UUID
	OrderNbr        string
	OrderTotal      decimal.Decimal
	TaxTotal        decimal.Decimal
	UnpaidBalance   decimal.Decimal
	CurrencyID      string
	Terms           string
	PaymentCount    int
	PaidAmount      decimal.Decimal
	LastPaymentDate *time.Time
	LastPaymentRef  string
}

// ---------------------------------------------------------------------------
// Status rules
// ---------------------------------------------------------------------------

// DefaultPurgeStatuses are the cancelled/hold variants eligible for purge.
var DefaultPurgeStatuses = []string{
	"Canceled", "Cancelled", "On Hold", "Hold", "Credit Hold", "Pending Approval", "Rejected",
}

// DefaultQuotePrefix marks quote documents in the order number space.
const DefaultQuotePrefix = "QT"

var terminalStatuses = []string{"Completed", "Canceled", "Cancelled", "Closed", "Invoiced"}

// foldKey normalizes a status for caseless comparison.
// A Caser is stateful, so each call gets its own.
func foldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// IsTerminalStatus reports whether no further ERP activity is expected for the status.
func IsTerminalStatus(status string) bool {
	k := foldKey(status)
	for _, t := range terminalStatuses {
		if k == foldKey(t) {
			return true
		}
	}
	return false
}

// PurgeRules decides which summaries a retention sweep may delete.
type PurgeRules struct {
	statuses    map[string]struct{}
	quotePrefix string
}

// NewPurgeRules builds rules from a status list and quote prefix.
// Empty inputs fall back to the defaults.
func NewPurgeRules(statuses []string, quotePrefix string) PurgeRules {
	if len(statuses) == 0 {
		statuses = DefaultPurgeStatuses
	}
	if strings.TrimSpace(quotePrefix) == "" {
		quotePrefix = DefaultQuotePrefix
	}
	r := PurgeRules{statuses: make(map[string]struct{}, len(statuses)), quotePrefix: strings.TrimSpace(quotePrefix)}
	for _, s := range statuses {
		r.statuses[foldKey(s)] = struct{}{}
	}
	return r
}

// Statuses returns the configured purge statuses in folded form, sorted.
func (r PurgeRules) Statuses() []string {
	out := make([]string, 0, len(r.statuses))
	for s := range r.statuses {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// QuotePrefix returns the quote prefix.
func (r PurgeRules) QuotePrefix() string {
	return r.quotePrefix
}

// IsPurgeStatus reports whether the status is a cancelled/hold variant.
func (r PurgeRules) IsPurgeStatus(status string) bool {
	_, ok := r.statuses[foldKey(status)]
	return ok
}

// IsQuote reports whether the order number carries the quote prefix.
func (r PurgeRules) IsQuote(orderNbr string) bool {
	return r.quotePrefix != "" && strings.HasPrefix(strings.ToUpper(strings.TrimSpace(orderNbr)), strings.ToUpper(r.quotePrefix))
}

// Eligible reports whether s may be deleted by a sweep with the given cutoff.
func (r PurgeRules) Eligible(s *OrderSummary, cutoff time.Time) bool {
	if s.DeliveryDate.IsZero() || !s.DeliveryDate.Before(cutoff) {
		return false
	}
	return r.IsPurgeStatus(s.Status) || r.IsQuote(s.OrderNbr)
}
