package erp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SO100", "'SO100'"},
		{"O'Hara", "'O''Hara'"},
		{"''", "''''''"},
		{"", "''"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}

func TestFilterClauses(t *testing.T) {
	assert.Equal(t, "Status eq 'Open'", Eq("Status", "Open"))
	assert.Equal(t, "Status ne 'Closed'", Ne("Status", "Closed"))
	assert.Equal(t, "RequestedOn ge datetimeoffset'2025-01-02T03:04:05Z'",
		Ge("RequestedOn", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "RequestedOn lt datetimeoffset'2025-01-02T08:04:05Z'",
		Lt("RequestedOn", time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("EST", -5*3600))))

	assert.Equal(t, "", In("OrderNbr"))
	assert.Equal(t, "OrderNbr eq 'A'", In("OrderNbr", "A"))
	assert.Equal(t, "(OrderNbr eq 'A' or OrderNbr eq 'B''s')", In("OrderNbr", "A", "B's"))

	assert.Equal(t, "", NotIn("Status"))
	assert.Equal(t, "Status ne 'A' and Status ne 'B'", NotIn("Status", "A", "B"))

	assert.Equal(t, "a and b", And("", "a", "", "b"))
	assert.Equal(t, "", And("", ""))
}

func TestSummaryFilter(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("all parts", func(t *testing.T) {
		got := SummaryFilter(FilterParams{
			CustomerID:      "C'01",
			Since:           since,
			ExcludeStatuses: []string{"Cancelled"},
			ExcludeShipVia:  []string{"WILL CALL"},
			OrderNbrs:       []string{"SO1", "SO2"},
		})
		assert.Equal(t,
			"CustomerID eq 'C''01' and RequestedOn ge datetimeoffset'2025-06-01T00:00:00Z'"+
				" and Status ne 'Cancelled' and ShipVia ne 'WILL CALL'"+
				" and (OrderNbr eq 'SO1' or OrderNbr eq 'SO2')",
			got)
	})

	t.Run("custom date field", func(t *testing.T) {
		got := SummaryFilter(FilterParams{Since: since, SinceField: "LastModifiedDateTime"})
		assert.Equal(t, "LastModifiedDateTime ge datetimeoffset'2025-06-01T00:00:00Z'", got)
	})

	t.Run("empty params", func(t *testing.T) {
		assert.Equal(t, "", SummaryFilter(FilterParams{}))
	})

	t.Run("chunk filter", func(t *testing.T) {
		assert.Equal(t, "CustomerID eq 'C1' and OrderNbr eq 'SO1'", OrderNbrFilter("C1", []string{"SO1"}))
	})
}

func TestQuery_Encode(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{
			name:  "empty",
			query: Query{},
			want:  "",
		},
		{
			name: "fixed parameter order",
			query: Query{
				Skip:    20,
				Top:     10,
				OrderBy: "OrderNbr",
				Expand:  []string{"Details", "Details/Allocations"},
				Custom:  []string{"Document.AttributeJOBNAME"},
				Select:  []string{"OrderNbr", "Details/InventoryID"},
				Filter:  "OrderNbr eq 'SO1'",
			},
			want: "$filter=OrderNbr%20eq%20'SO1'" +
				"&$select=OrderNbr,Details/InventoryID" +
				"&$custom=Document.AttributeJOBNAME" +
				"&$expand=Details,Details/Allocations" +
				"&$orderby=OrderNbr&$top=10&$skip=20",
		},
		{
			name:  "first page carries skip",
			query: Query{Top: 500},
			want:  "$top=500&$skip=0",
		},
		{
			name:  "reserved characters are escaped",
			query: Query{Filter: "Description eq 'A&B=C+D#E?%'"},
			want:  "$filter=Description%20eq%20'A%26B%3DC%2BD%23E%3F%25'",
		},
		{
			name:  "datetime literal",
			query: Query{Filter: Ge("RequestedOn", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))},
			want:  "$filter=RequestedOn%20ge%20datetimeoffset'2025-01-01T00:00:00Z'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Encode())
		})
	}
}

func TestURLFor(t *testing.T) {
	got := URLFor("https://erp.example.com/", "Default", "22.200.001", "SalesOrder", Query{Top: 1})
	assert.Equal(t, "https://erp.example.com/entity/Default/22.200.001/SalesOrder?$top=1&$skip=0", got)

	got = URLFor("https://erp.example.com", "Default", "22.200.001", "TaxZone", Query{})
	assert.Equal(t, "https://erp.example.com/entity/Default/22.200.001/TaxZone", got)
}
