package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// OrderStatus tracks an order through the kitchen lifecycle.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s OrderStatus) bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Closed reports whether the order reached a terminal state and can be archived.
func (s OrderStatus) Closed() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// OrderChannel is the delivery channel chosen at the counter.
type OrderChannel string

const (
	ChannelDineIn   OrderChannel = "dine-in"
	ChannelTakeaway OrderChannel = "takeaway"
)

// SyncStatus marks whether a local record has been confirmed by the server.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// UnknownItemName is shown when an order item references a product that no
// longer exists in the catalog cache.
const UnknownItemName = "unknown item"

// OrderItem is one line of an order. Items are embedded in the order row,
// they are not a separate collection.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Note      string  `json:"note,omitempty"`
}

// DisplayName falls back to a placeholder when the catalog reference dangles.
func (i OrderItem) DisplayName() string {
	if i.Name == "" {
		return UnknownItemName
	}
	return i.Name
}

// OrderItems is stored as a JSON column so the order row stays single-record
// transactional in sqlite.
type OrderItems []OrderItem

func (items OrderItems) Value() (driver.Value, error) {
	if items == nil {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal order items: %w", err)
	}
	return string(b), nil
}

func (items *OrderItems) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*items = nil
		return nil
	case []byte:
		return json.Unmarshal(v, items)
	case string:
		return json.Unmarshal([]byte(v), items)
	default:
		return fmt.Errorf("unsupported order items column type %T", src)
	}
}

// Order is one customer transaction plus the sync metadata the engine needs
// to reconcile it with the authoritative store.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            string       `bun:"id,pk" json:"id"`
	TenantID      string       `bun:"tenant_id" json:"tenant_id"`
	Customer      string       `bun:"customer" json:"customer"`
	TableNumber   string       `bun:"table_number" json:"table_number,omitempty"`
	Channel       OrderChannel `bun:"channel" json:"channel"`
	Items         OrderItems   `bun:"items" json:"items"`
	Total         float64      `bun:"total" json:"total"`
	PaymentMethod string       `bun:"payment_method" json:"payment_method,omitempty"`
	Paid          bool         `bun:"paid" json:"paid"`
	Status        OrderStatus  `bun:"status" json:"status"`
	NodeID        string       `bun:"node_id" json:"node_id,omitempty"`
	PickupCode    string       `bun:"pickup_code" json:"pickup_code,omitempty"`
	CreatedAt     time.Time    `bun:"created_at" json:"created_at"`

	SyncStatus   SyncStatus `bun:"sync_status" json:"sync_status"`
	LastModified int64      `bun:"last_modified" json:"last_modified"`
}

// Touch bumps the local modification timestamp used for conflict tie-breaking.
func (o *Order) Touch() {
	o.LastModified = time.Now().UnixMilli()
}
