package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SyncEventType discriminates the mutation payload carried by a SyncEvent.
type SyncEventType string

const (
	EventCreateOrder     SyncEventType = "create_order"
	EventUpdateStatus    SyncEventType = "update_status"
	EventConfirmDelivery SyncEventType = "confirm_delivery"
)

// SyncEvent is one durable, replayable mutation intent. Events survive process
// restarts and are flushed strictly in enqueue order.
type SyncEvent struct {
	bun.BaseModel `bun:"table:sync_queue"`

	ID       string          `bun:"id,pk" json:"id"`
	TenantID string          `bun:"tenant_id" json:"tenant_id"`
	OrderID  string          `bun:"order_id" json:"order_id"`
	Type     SyncEventType   `bun:"type" json:"type"`
	Payload  json.RawMessage `bun:"payload,type:text" json:"payload"`

	// Timestamp is enqueue time in unix millis and defines the FIFO order.
	Timestamp  int64  `bun:"timestamp" json:"timestamp"`
	RetryCount int    `bun:"retry_count" json:"retry_count"`
	LastError  string `bun:"last_error" json:"last_error,omitempty"`

	// Terminal marks an event rejected by a domain rule. It is not retried;
	// the next flush purges it instead.
	Terminal bool `bun:"terminal" json:"terminal"`
}

// CreateOrderPayload carries the full optimistic order for replay.
type CreateOrderPayload struct {
	Order Order `json:"order"`
}

// UpdateStatusPayload carries a status transition for an existing order.
type UpdateStatusPayload struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

// ConfirmDeliveryPayload carries a staff-confirmed handover.
type ConfirmDeliveryPayload struct {
	OrderID string `json:"order_id"`
	StaffID string `json:"staff_id"`
}

func newSyncEvent(tenantID, orderID string, typ SyncEventType, payload interface{}) (SyncEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SyncEvent{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return SyncEvent{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		OrderID:   orderID,
		Type:      typ,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NewCreateOrderEvent enqueues the submission of a locally created order.
func NewCreateOrderEvent(tenantID string, order Order) (SyncEvent, error) {
	return newSyncEvent(tenantID, order.ID, EventCreateOrder, CreateOrderPayload{Order: order})
}

// NewUpdateStatusEvent enqueues a status transition.
func NewUpdateStatusEvent(tenantID, orderID string, status OrderStatus) (SyncEvent, error) {
	return newSyncEvent(tenantID, orderID, EventUpdateStatus, UpdateStatusPayload{OrderID: orderID, Status: status})
}

// NewConfirmDeliveryEvent enqueues a delivery confirmation.
func NewConfirmDeliveryEvent(tenantID, orderID, staffID string) (SyncEvent, error) {
	return newSyncEvent(tenantID, orderID, EventConfirmDelivery, ConfirmDeliveryPayload{OrderID: orderID, StaffID: staffID})
}

// DecodeCreateOrder returns the typed payload for an EventCreateOrder event.
func (e SyncEvent) DecodeCreateOrder() (CreateOrderPayload, error) {
	var p CreateOrderPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode create_order payload: %w", err)
	}
	return p, nil
}

// DecodeUpdateStatus returns the typed payload for an EventUpdateStatus event.
func (e SyncEvent) DecodeUpdateStatus() (UpdateStatusPayload, error) {
	var p UpdateStatusPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode update_status payload: %w", err)
	}
	return p, nil
}

// DecodeConfirmDelivery returns the typed payload for an EventConfirmDelivery event.
func (e SyncEvent) DecodeConfirmDelivery() (ConfirmDeliveryPayload, error) {
	var p ConfirmDeliveryPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode confirm_delivery payload: %w", err)
	}
	return p, nil
}
