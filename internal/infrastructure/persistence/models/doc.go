// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
// - base.go: shared columns (BaseModel, DetailModel)
// - ordersync.go: order summaries and their lines, ship-to and payment rows
package models
