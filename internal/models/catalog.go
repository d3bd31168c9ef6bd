package models

import "github.com/uptrace/bun"

// Product is a denormalized catalog snapshot, enough to build an order while
// offline. The server catalog stays the system of record.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID        string  `bun:"id,pk" json:"id"`
	TenantID  string  `bun:"tenant_id" json:"tenant_id"`
	Name      string  `bun:"name" json:"name"`
	SKU       string  `bun:"sku" json:"sku,omitempty"`
	Category  string  `bun:"category" json:"category,omitempty"`
	Price     float64 `bun:"price" json:"price"`
	ImageURL  string  `bun:"image_url" json:"image_url,omitempty"`
	Available bool    `bun:"available" json:"available"`
}

// Client is a flat read cache of known customers.
type Client struct {
	bun.BaseModel `bun:"table:clients"`

	ID       string `bun:"id,pk" json:"id"`
	TenantID string `bun:"tenant_id" json:"tenant_id"`
	Name     string `bun:"name" json:"name"`
	Phone    string `bun:"phone" json:"phone,omitempty"`
	Email    string `bun:"email" json:"email,omitempty"`
}
