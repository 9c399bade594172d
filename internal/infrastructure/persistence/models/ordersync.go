package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/ordersync/internal/domain/ordersync"
)

// OrderSummaryModel is the persistence model for the local mirror of an ERP order header.
type OrderSummaryModel struct {
	BaseModel
	AccountKey   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_order_summaries_account_nbr,priority:1;index:idx_order_summaries_account_delivery,priority:1"`
	OrderNbr     string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_order_summaries_account_nbr,priority:2"`
	Status       string    `gorm:"type:varchar(50);not null"`
	DeliveryDate time.Time `gorm:"not null;index:idx_order_summaries_account_delivery,priority:2"`
	ShipVia      string    `gorm:"type:varchar(50)"`
	JobName      string    `gorm:"type:varchar(255)"`
	CustomerName string    `gorm:"type:varchar(255)"`
	BuyerGroup   string    `gorm:"type:varchar(100)"`
	NoteID       string    `gorm:"type:varchar(64)"`
	LocationID   string    `gorm:"type:varchar(50)"`
	IsActive     bool      `gorm:"not null"`
	LastSeenAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderSummaryModel) TableName() string {
	return "order_summaries"
}

// ToDomain converts the persistence model to a domain OrderSummary
func (m *OrderSummaryModel) ToDomain() ordersync.OrderSummary {
	return ordersync.OrderSummary{
		ID:           m.ID,
		AccountKey:   m.AccountKey,
		OrderNbr:     m.OrderNbr,
		Status:       m.Status,
		DeliveryDate: m.DeliveryDate.UTC(),
		ShipVia:      m.ShipVia,
		JobName:      m.JobName,
		CustomerName: m.CustomerName,
		BuyerGroup:   m.BuyerGroup,
		NoteID:       m.NoteID,
		LocationID:   m.LocationID,
		IsActive:     m.IsActive,
		LastSeenAt:   m.LastSeenAt.UTC(),
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

// OrderSummaryModelFromDomain creates a persistence model from a domain OrderSummary.
// Text longer than its column is clipped.
func OrderSummaryModelFromDomain(src *ordersync.OrderSummary) *OrderSummaryModel {
	s := *src
	s.Fit()
	return &OrderSummaryModel{
		BaseModel:    BaseModel{ID: s.ID, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt},
		AccountKey:   s.AccountKey,
		OrderNbr:     s.OrderNbr,
		Status:       s.Status,
		DeliveryDate: s.DeliveryDate.UTC(),
		ShipVia:      s.ShipVia,
		JobName:      s.JobName,
		CustomerName: s.CustomerName,
		BuyerGroup:   s.BuyerGroup,
		NoteID:       s.NoteID,
		LocationID:   s.LocationID,
		IsActive:     s.IsActive,
		LastSeenAt:   s.LastSeenAt,
	}
}

// OrderLineModel is one inventory line of a summary.
type OrderLineModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key"`
	OrderSummaryID uuid.UUID       `gorm:"type:uuid;not null;index:idx_order_lines_summary_line,priority:1"`
	OrderNbr       string          `gorm:"type:varchar(50);not null"`
	LineNbr        int             `gorm:"not null;index:idx_order_lines_summary_line,priority:2"`
	InventoryID    string          `gorm:"type:varchar(100)"`
	LineType       string          `gorm:"type:varchar(50)"`
	Description    string          `gorm:"type:text"`
	OpenQty        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	OrderQty       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxZone        string          `gorm:"type:varchar(50)"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	IsAllocated    bool            `gorm:"not null"`
	AllocatedQty   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Warehouse      string          `gorm:"type:varchar(50)"`
	ETA            *time.Time
	CreatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderLineModel) TableName() string {
	return "order_lines"
}

// ToDomain converts the persistence model to a domain OrderLine
func (m *OrderLineModel) ToDomain() ordersync.OrderLine {
	return ordersync.OrderLine{
		ID:             m.ID,
		OrderSummaryID: m.OrderSummaryID,
		OrderNbr:       m.OrderNbr,
		LineNbr:        m.LineNbr,
		InventoryID:    m.InventoryID,
		LineType:       m.LineType,
		Description:    m.Description,
		OpenQty:        m.OpenQty,
		OrderQty:       m.OrderQty,
		UnitPrice:      m.UnitPrice,
		Amount:         m.Amount,
		TaxZone:        m.TaxZone,
		TaxRate:        m.TaxRate,
		IsAllocated:    m.IsAllocated,
		AllocatedQty:   m.AllocatedQty,
		Warehouse:      m.Warehouse,
		ETA:            m.ETA,
	}
}

// OrderLineModelFromDomain creates a persistence model from a domain OrderLine
func OrderLineModelFromDomain(l *ordersync.OrderLine, now time.Time) *OrderLineModel {
	return &OrderLineModel{
		ID:             l.ID,
		OrderSummaryID: l.OrderSummaryID,
		OrderNbr:       ordersync.Clip(l.OrderNbr, 50),
		LineNbr:        l.LineNbr,
		InventoryID:    ordersync.Clip(l.InventoryID, 100),
		LineType:       ordersync.Clip(l.LineType, 50),
		Description:    l.Description,
		OpenQty:        l.OpenQty,
		OrderQty:       l.OrderQty,
		UnitPrice:      l.UnitPrice,
		Amount:         l.Amount,
		TaxZone:        ordersync.Clip(l.TaxZone, 50),
		TaxRate:        l.TaxRate,
		IsAllocated:    l.IsAllocated,
		AllocatedQty:   l.AllocatedQty,
		Warehouse:      ordersync.Clip(l.Warehouse, 50),
		ETA:            l.ETA,
		CreatedAt:      now,
	}
}

// OrderAddressModel is the ship-to address of a summary.
type OrderAddressModel struct {
	DetailModel
	AddressLine1 string `gorm:"type:varchar(255)"`
	AddressLine2 string `gorm:"type:varchar(255)"`
	City         string `gorm:"type:varchar(100)"`
	State        string `gorm:"type:varchar(50)"`
	PostalCode   string `gorm:"type:varchar(20)"`
	Country      string `gorm:"type:varchar(50)"`
}

// TableName returns the table name for GORM
func (OrderAddressModel) TableName() string {
	return "order_addresses"
}

// OrderAddressModelFromDomain creates a persistence model from a domain OrderAddress
func OrderAddressModelFromDomain(a *ordersync.OrderAddress, now time.Time) *OrderAddressModel {
	return &OrderAddressModel{
		DetailModel:  detailFromDomain(a.OrderSummaryID, a.OrderNbr, now),
		AddressLine1: ordersync.Clip(a.AddressLine1, 255),
		AddressLine2: ordersync.Clip(a.AddressLine2, 255),
		City:         ordersync.Clip(a.City, 100),
		State:        ordersync.Clip(a.State, 50),
		PostalCode:   ordersync.Clip(a.PostalCode, 20),
		Country:      ordersync.Clip(a.Country, 50),
	}
}

// ToDomain converts the persistence model to a domain OrderAddress
func (m *OrderAddressModel) ToDomain() ordersync.OrderAddress {
	return ordersync.OrderAddress{
		OrderSummaryID: m.OrderSummaryID,
		OrderNbr:       m.OrderNbr,
		AddressLine1:   m.AddressLine1,
		AddressLine2:   m.AddressLine2,
		City:           m.City,
		State:          m.State,
		PostalCode:     m.PostalCode,
		Country:        m.Country,
	}
}

// OrderContactModel is the ship-to contact of a summary.
type OrderContactModel struct {
	DetailModel
	Attention   string `gorm:"type:varchar(255)"`
	CompanyName string `gorm:"type:varchar(255)"`
	Email       string `gorm:"type:varchar(255)"`
	Phone       string `gorm:"type:varchar(50)"`
}

// TableName returns the table name for GORM
func (OrderContactModel) TableName() string {
	return "order_contacts"
}

// OrderContactModelFromDomain creates a persistence model from a domain OrderContact
func OrderContactModelFromDomain(c *ordersync.OrderContact, now time.Time) *OrderContactModel {
	return &OrderContactModel{
		DetailModel: detailFromDomain(c.OrderSummaryID, c.OrderNbr, now),
		Attention:   ordersync.Clip(c.Attention, 255),
		CompanyName: ordersync.Clip(c.CompanyName, 255),
		Email:       ordersync.Clip(c.Email, 255),
		Phone:       ordersync.Clip(c.Phone, 50),
	}
}

// ToDomain converts the persistence model to a domain OrderContact
func (m *OrderContactModel) ToDomain() ordersync.OrderContact {
	return ordersync.OrderContact{
		OrderSummaryID: m.OrderSummaryID,
		OrderNbr:       m.OrderNbr,
		Attention:      m.Attention,
		CompanyName:    m.CompanyName,
		Email:          m.Email,
		Phone:          m.Phone,
	}
}

// OrderPaymentModel holds order totals and the payment aggregate of a summary.
type OrderPaymentModel struct {
	DetailModel
	OrderTotal      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxTotal        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnpaidBalance   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CurrencyID      string          `gorm:"type:varchar(10)"`
	Terms           string          `gorm:"type:varchar(50)"`
	PaymentCount    int             `gorm:"not null"`
	PaidAmount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	LastPaymentDate *time.Time
	LastPaymentRef  string `gorm:"type:varchar(50)"`
}

// TableName returns the table name for GORM
func (OrderPaymentModel) TableName() string {
	return "order_payments"
}

// OrderPaymentModelFromDomain creates a persistence model from a domain OrderPayment
func OrderPaymentModelFromDomain(p *ordersync.OrderPayment, now time.Time) *OrderPaymentModel {
	return &OrderPaymentModel{
		DetailModel:     detailFromDomain(p.OrderSummaryID, p.OrderNbr, now),
		OrderTotal:      p.OrderTotal,
		TaxTotal:        p.TaxTotal,
		UnpaidBalance:   p.UnpaidBalance,
		CurrencyID:      ordersync.Clip(p.CurrencyID, 10),
		Terms:           ordersync.Clip(p.Terms, 50),
		PaymentCount:    p.PaymentCount,
		PaidAmount:      p.PaidAmount,
		LastPaymentDate: p.LastPaymentDate,
		LastPaymentRef:  ordersync.Clip(p.LastPaymentRef, 50),
	}
}

// ToDomain converts the persistence model to a domain OrderPayment
func (m *OrderPaymentModel) ToDomain() ordersync.OrderPayment {
	return ordersync.OrderPayment{
		OrderSummaryID:  m.OrderSummaryID,
		OrderNbr:        m.OrderNbr,
		OrderTotal:      m.OrderTotal,
		TaxTotal:        m.TaxTotal,
		UnpaidBalance:   m.UnpaidBalance,
		CurrencyID:      m.CurrencyID,
		Terms:           m.Terms,
		PaymentCount:    m.PaymentCount,
		PaidAmount:      m.PaidAmount,
		LastPaymentDate: m.LastPaymentDate,
		LastPaymentRef:  m.LastPaymentRef,
	}
}

func detailFromDomain(summaryID uuid.UUID, orderNbr string, now time.Time) DetailModel {
	return DetailModel{OrderSummaryID: summaryID, OrderNbr: ordersync.Clip(orderNbr, 50), UpdatedAt: now}
}

// AllModels lists every model for auto-migration in tests.
func AllModels() []any {
	return []any{
		&OrderSummaryModel{},
		&OrderLineModel{},
		&OrderAddressModel{},
		&OrderContactModel{},
		&OrderPaymentModel{},
	}
}
