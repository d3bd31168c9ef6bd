package models

import "github.com/uptrace/bun"

// Venue topology read caches. The topology is owned by the backend; these rows
// only exist so dispatch assignment keeps working while offline.

// VenueNode is a dispatch station (bar, kitchen pass, pickup counter).
type VenueNode struct {
	bun.BaseModel `bun:"table:venue_nodes"`

	ID        string `bun:"id,pk" json:"id"`
	TenantID  string `bun:"tenant_id" json:"tenant_id"`
	ZoneID    string `bun:"zone_id" json:"zone_id,omitempty"`
	Name      string `bun:"name" json:"name"`
	Kind      string `bun:"kind" json:"kind,omitempty"`
	IsDefault bool   `bun:"is_default" json:"is_default"`
}

// VenueZone groups nodes (terrace, main room).
type VenueZone struct {
	bun.BaseModel `bun:"table:venue_zones"`

	ID       string `bun:"id,pk" json:"id"`
	TenantID string `bun:"tenant_id" json:"tenant_id"`
	Name     string `bun:"name" json:"name"`
}

// StorageLocation is a stock-keeping location referenced by inventory rows.
type StorageLocation struct {
	bun.BaseModel `bun:"table:storage_locations"`

	ID       string `bun:"id,pk" json:"id"`
	TenantID string `bun:"tenant_id" json:"tenant_id"`
	Name     string `bun:"name" json:"name"`
}

// InventoryItem is a cached stock level for display purposes only; stock
// deduction happens server-side.
type InventoryItem struct {
	bun.BaseModel `bun:"table:inventory_items"`

	ID         string  `bun:"id,pk" json:"id"`
	TenantID   string  `bun:"tenant_id" json:"tenant_id"`
	ProductID  string  `bun:"product_id" json:"product_id"`
	LocationID string  `bun:"location_id" json:"location_id,omitempty"`
	Quantity   float64 `bun:"quantity" json:"quantity"`
}
