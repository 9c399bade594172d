package erp

import (
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Filter expressions
// ---------------------------------------------------------------------------

// Quote renders a string literal, doubling embedded single quotes.
func Quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// Eq renders "field eq 'value'".
func Eq(field, value string) string {
	return field + " eq " + Quote(value)
}

// Ne renders "field ne 'value'".
func Ne(field, value string) string {
	return field + " ne " + Quote(value)
}

// Ge renders a datetimeoffset lower bound.
func Ge(field string, t time.Time) string {
	return field + " ge " + dateLiteral(t)
}

// Lt renders a datetimeoffset upper bound.
func Lt(field string, t time.Time) string {
	return field + " lt " + dateLiteral(t)
}

func dateLiteral(t time.Time) string {
	return "datetimeoffset'" + t.UTC().Format(time.RFC3339) + "'"
}

// In renders an OR of equality clauses. A single value renders as a plain Eq.
func In(field string, values ...string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return Eq(field, values[0])
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Eq(field, v)
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

// NotIn renders an AND of inequality clauses.
func NotIn(field string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, Ne(field, v))
	}
	return strings.Join(parts, " and ")
}

// And joins the non-empty clauses.
func And(clauses ...string) string {
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " and ")
}

// FilterParams are the normalized inputs of a summary filter.
type FilterParams struct {
	CustomerID      string
	Since           time.Time
	SinceField      string
	ExcludeStatuses []string
	ExcludeShipVia  []string
	OrderNbrs       []string
}

// SummaryFilter builds the $filter of a summary list query.
func SummaryFilter(p FilterParams) string {
	var since string
	if !p.Since.IsZero() {
		field := p.SinceField
		if field == "" {
			field = fieldRequestedOn
		}
		since = Ge(field, p.Since)
	}
	var customer string
	if p.CustomerID != "" {
		customer = Eq(fieldCustomerID, p.CustomerID)
	}
	return And(
		customer,
		since,
		NotIn(fieldStatus, p.ExcludeStatuses...),
		NotIn(fieldShipVia, p.ExcludeShipVia...),
		In(fieldOrderNbr, p.OrderNbrs...),
	)
}

// OrderNbrFilter builds the $filter of one batched chunk.
func OrderNbrFilter(customerID string, orderNbrs []string) string {
	return SummaryFilter(FilterParams{CustomerID: customerID, OrderNbrs: orderNbrs})
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

// Query is one OData list request.
type Query struct {
	Filter  string
	Select  []string
	Custom  []string
	Expand  []string
	OrderBy string
	Top     int
	Skip    int
}

// Encode renders the query string. Parameters always appear in the order
// $filter, $select, $custom, $expand, $orderby, $top, $skip. Paged queries
// (Top > 0) always carry $skip.
func (q Query) Encode() string {
	var b strings.Builder
	add := func(key, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(escapeQueryValue(value))
	}
	add("$filter", q.Filter)
	add("$select", strings.Join(q.Select, ","))
	add("$custom", strings.Join(q.Custom, ","))
	add("$expand", strings.Join(q.Expand, ","))
	add("$orderby", q.OrderBy)
	if q.Top > 0 {
		add("$top", strconv.Itoa(q.Top))
		add("$skip", strconv.Itoa(q.Skip))
	} else if q.Skip > 0 {
		add("$skip", strconv.Itoa(q.Skip))
	}
	return b.String()
}

// URLFor renders the full request URL for an entity.
func URLFor(baseURL, endpoint, version, entity string, q Query) string {
	u := strings.TrimRight(baseURL, "/") + "/entity/" + endpoint + "/" + version + "/" + entity
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

const upperhex = "0123456789ABCDEF"

// escapeQueryValue percent-encodes everything except unreserved characters and
// the OData punctuation the upstream expects literally. Spaces become %20.
func escapeQueryValue(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepLiteral(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func keepLiteral(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', '\'', '(', ')', '*', '!', ',', '/', ':', '$':
		return true
	}
	return false
}
