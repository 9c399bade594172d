package erp

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// Entity and field names of the upstream contract.
const (
	EntitySalesOrder = "SalesOrder"
	EntityTaxZone    = "TaxZone"

	fieldCustomerID  = "CustomerID"
	fieldOrderNbr    = "OrderNbr"
	fieldStatus      = "Status"
	fieldShipVia     = "ShipVia"
	fieldRequestedOn = "RequestedOn"
)

// TaxRateScale is the scale of tax rates stored as fractions.
const TaxRateScale int32 = 6

// Candidate lists, first match wins.
var (
	summaryOrderNbr     = []string{"OrderNbr"}
	summaryStatus       = []string{"Status"}
	summaryDeliveryDate = []string{"RequestedOn", "DeliveryDate", "custom.Document.RequestDate"}
	summaryShipVia      = []string{"ShipVia"}
	summaryJobName      = []string{"custom.Document.AttributeJOBNAME", "JobName", "Description"}
	summaryCustomerName = []string{"CustomerName", "Customer.CustomerName"}
	summaryBuyerGroup   = []string{"custom.Document.AttributeBUYERGROUP", "BuyerGroup"}
	summaryNoteID       = []string{"NoteID", "id"}
	summaryLocationID   = []string{"LocationID", "CustomerLocationID"}
)

// Query shapes per entity family.
var (
	summarySelect = []string{
		"OrderType", "OrderNbr", "Status", "RequestedOn", "ShipVia", "Description",
		"CustomerID", "CustomerName", "LocationID", "NoteID",
	}
	summaryCustom = []string{"Document.AttributeJOBNAME", "Document.AttributeBUYERGROUP"}

	lineExpand = []string{"Details", "Details/Allocations"}
	lineSelect = []string{
		"OrderNbr", "TaxZone",
		"Details/LineNbr", "Details/InventoryID", "Details/LineType", "Details/LineDescription",
		"Details/OpenQty", "Details/OrderQty", "Details/UnitPrice", "Details/Amount",
		"Details/TaxZone", "Details/WarehouseID", "Details/SchedShipDate",
		"Details/Allocations/Allocated", "Details/Allocations/Qty",
	}

	shipToExpand = []string{"ShipToAddress", "ShipToContact"}
	shipToSelect = []string{
		"OrderNbr",
		"ShipToAddress/AddressLine1", "ShipToAddress/AddressLine2", "ShipToAddress/City",
		"ShipToAddress/State", "ShipToAddress/PostalCode", "ShipToAddress/Country",
		"ShipToContact/Attention", "ShipToContact/BusinessName", "ShipToContact/Email", "ShipToContact/Phone1",
	}

	paymentExpand = []string{"Payments"}
	paymentSelect = []string{
		"OrderNbr", "OrderTotal", "TaxTotal", "UnpaidBalance", "CurrencyID", "Terms",
		"Payments/AppliedToOrder", "Payments/ApplicationDate", "Payments/ReferenceNbr",
	}

	taxZoneExpand = []string{"ApplicableTaxes"}
	taxZoneSelect = []string{"TaxZoneID", "ApplicableTaxes/TaxID", "ApplicableTaxes/TaxRate"}
)

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

// ToSummary adapts a SalesOrder record. Missing required keys stay empty and
// are dropped by the reconciler.
func ToSummary(accountKey string, r Record) ordersync.OrderSummary {
	s := ordersync.OrderSummary{
		AccountKey:   accountKey,
		OrderNbr:     r.Text(summaryOrderNbr...),
		Status:       r.Text(summaryStatus...),
		ShipVia:      r.Text(summaryShipVia...),
		JobName:      r.Text(summaryJobName...),
		CustomerName: r.Text(summaryCustomerName...),
		BuyerGroup:   r.Text(summaryBuyerGroup...),
		NoteID:       r.Text(summaryNoteID...),
		LocationID:   r.Text(summaryLocationID...),
	}
	if t := r.Time(summaryDeliveryDate...); t != nil {
		// postgres stores microseconds
		s.DeliveryDate = t.UTC().Truncate(time.Microsecond)
	}
	s.Fit()
	return s
}

// ---------------------------------------------------------------------------
// Tax zones
// ---------------------------------------------------------------------------

// TaxRates maps tax zone ids to fractional rates.
type TaxRates map[string]decimal.Decimal

func taxZoneKey(zone string) string {
	return strings.ToUpper(strings.TrimSpace(zone))
}

// Rate returns the rate of a zone, zero when unknown.
func (t TaxRates) Rate(zone string) decimal.Decimal {
	if rate, ok := t[taxZoneKey(zone)]; ok {
		return rate
	}
	return decimal.Zero
}

// ToTaxRates adapts TaxZone records. The rate of a zone is the sum of its
// applicable tax percentages, stored as a fraction.
func ToTaxRates(rows []Record) TaxRates {
	hundred := decimal.NewFromInt(100)
	rates := make(TaxRates, len(rows))
	for _, r := range rows {
		zone := r.Text("TaxZoneID", "TaxZone")
		if zone == "" {
			continue
		}
		pct := decimal.Zero
		taxes := r.Records("ApplicableTaxes")
		if len(taxes) == 0 {
			pct = r.Amount("TaxRate")
		}
		for _, tax := range taxes {
			pct = pct.Add(tax.Amount("TaxRate"))
		}
		rates[taxZoneKey(zone)] = pct.Div(hundred).Round(TaxRateScale)
	}
	return rates
}

// ---------------------------------------------------------------------------
// Lines
// ---------------------------------------------------------------------------

// ToLines adapts the expanded Details of an order. Allocated quantity is the
// sum of allocation rows flagged Allocated.
func ToLines(order Record, rates TaxRates) []ordersync.OrderLine {
	nbr := order.Text(summaryOrderNbr...)
	orderZone := order.Text("TaxZone")
	details := order.Records("Details")
	lines := make([]ordersync.OrderLine, 0, len(details))

	for i, d := range details {
		allocated := decimal.Zero
		for _, a := range d.Records("Allocations") {
			if a.Flag("Allocated") {
				allocated = allocated.Add(a.Amount("Qty", "Quantity"))
			}
		}

		zone := d.Text("TaxZone")
		if zone == "" {
			zone = orderZone
		}
		lineNbr := i + 1
		if n := d.Int("LineNbr"); n != nil {
			lineNbr = *n
		}

		lines = append(lines, ordersync.OrderLine{
			OrderNbr:     nbr,
			LineNbr:      lineNbr,
			InventoryID:  d.Text("InventoryID"),
			LineType:     d.Text("LineType"),
			Description:  d.Text("LineDescription", "Description"),
			OpenQty:      d.Amount("OpenQty"),
			OrderQty:     d.Amount("OrderQty", "Quantity"),
			UnitPrice:    d.Amount("UnitPrice"),
			Amount:       d.Amount("Amount", "ExtendedPrice"),
			TaxZone:      zone,
			TaxRate:      rates.Rate(zone),
			IsAllocated:  allocated.IsPositive(),
			AllocatedQty: allocated,
			Warehouse:    d.Text("WarehouseID", "Warehouse"),
			ETA:          d.Time("custom.Transactions.ETA", "ETA", "SchedShipDate"),
		})
	}
	return lines
}

// ---------------------------------------------------------------------------
// Ship-to
// ---------------------------------------------------------------------------

// ToAddress adapts the expanded ShipToAddress, or nil when absent.
func ToAddress(order Record) *ordersync.OrderAddress {
	a := order.Object("ShipToAddress")
	if a == nil {
		return nil
	}
	return &ordersync.OrderAddress{
		OrderNbr:     order.Text(summaryOrderNbr...),
		AddressLine1: a.Text("AddressLine1"),
		AddressLine2: a.Text("AddressLine2"),
		City:         a.Text("City"),
		State:        a.Text("State"),
		PostalCode:   a.Text("PostalCode"),
		Country:      a.Text("Country"),
	}
}

// ToContact adapts the expanded ShipToContact, or nil when absent.
func ToContact(order Record) *ordersync.OrderContact {
	c := order.Object("ShipToContact")
	if c == nil {
		return nil
	}
	return &ordersync.OrderContact{
		OrderNbr:    order.Text(summaryOrderNbr...),
		Attention:   c.Text("Attention"),
		CompanyName: c.Text("BusinessName", "CompanyName"),
		Email:       c.Text("Email"),
		Phone:       c.Text("Phone1", "Phone"),
	}
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

// ToPayment adapts order totals and aggregates the expanded Payments.
func ToPayment(order Record) ordersync.OrderPayment {
	p := ordersync.OrderPayment{
		OrderNbr:      order.Text(summaryOrderNbr...),
		OrderTotal:    order.Amount("OrderTotal"),
		TaxTotal:      order.Amount("TaxTotal"),
		UnpaidBalance: order.Amount("UnpaidBalance"),
		CurrencyID:    order.Text("CurrencyID"),
		Terms:         order.Text("Terms"),
		PaidAmount:    decimal.Zero,
	}
	for _, pay := range order.Records("Payments") {
		p.PaymentCount++
		p.PaidAmount = p.PaidAmount.Add(pay.Amount("AppliedToOrder", "PaymentAmount"))
		date := pay.Time("ApplicationDate", "Date")
		if date != nil && (p.LastPaymentDate == nil || date.After(*p.LastPaymentDate)) {
			d := date.UTC().Truncate(time.Microsecond)
			p.LastPaymentDate = &d
			p.LastPaymentRef = pay.Text("ReferenceNbr")
		}
	}
	return p
}
