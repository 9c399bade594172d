package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel provides the identity and timestamps shared by the order tables.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// DetailModel is the base of the one-per-summary detail tables.
// OrderSummaryID is both the owner reference and the upsert key.
type DetailModel struct {
	OrderSummaryID uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderNbr       string    `gorm:"type:varchar(50);not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}
