package sync

import (
	"context"
	"fmt"
	"time"

	"pos-sync/internal/gateway"
	"pos-sync/internal/models"
	"pos-sync/internal/notify"
)

// handleChange merges one inbound change feed event into the local store.
// Records for other tenants are discarded before touching anything.
func (e *Engine) handleChange(ctx context.Context, ev gateway.ChangeEvent) {
	if ev.Table != "orders" {
		return
	}
	rec := ev.Record
	if rec.TenantID != e.tenantID {
		e.log.Warn("FEED", fmt.Sprintf("discarding foreign-tenant record %s", rec.ID))
		return
	}

	switch ev.Event {
	case gateway.ChangeInsert:
		e.mergeInsert(ctx, rec)
	case gateway.ChangeUpdate:
		e.mergeUpdate(ctx, rec)
	default:
		e.log.Debug("FEED", fmt.Sprintf("ignoring %s event for %s", ev.Event, rec.ID))
	}
}

// mergeInsert saves the pushed record immediately so a new order shows up
// without waiting on a round trip, then fetches the full record in the
// background. The push payload carries no joined line items.
func (e *Engine) mergeInsert(ctx context.Context, rec models.Order) {
	partial := rec
	partial.SyncStatus = models.SyncSynced
	if partial.Status == "" {
		partial.Status = models.StatusPending
	}
	if partial.LastModified == 0 {
		partial.LastModified = time.Now().UnixMilli()
	}
	if err := e.store.SaveOrder(ctx, partial); err != nil {
		e.log.Error("FEED", fmt.Sprintf("cache inbound order %s: %v", rec.ID, err))
		return
	}
	e.refreshView(ctx)
	e.log.LogOrder("FEED", rec.ID, "new order received")
	e.notifier.Emit(notify.Notification{
		Level: notify.LevelInfo, Title: "New order",
		Message: fmt.Sprintf("Order for %s received", rec.Customer),
	})

	go e.fetchFull(e.runCtx, rec.ID)
}

// mergeUpdate patches the mutable fields of a known order in place. A payment
// confirmation instead triggers a full re-fetch: the paid order must land with
// its final items and totals, not a partial patch.
func (e *Engine) mergeUpdate(ctx context.Context, rec models.Order) {
	local, err := e.store.GetOrder(ctx, rec.ID)
	if err != nil {
		e.log.Error("FEED", fmt.Sprintf("load order %s: %v", rec.ID, err))
		return
	}

	if rec.Paid && (local == nil || !local.Paid) {
		e.fetchFull(ctx, rec.ID)
		e.notifier.Emit(notify.Notification{
			Level: notify.LevelSuccess, Title: "Payment confirmed",
			Message: fmt.Sprintf("Order %s is paid", rec.ID),
		})
		return
	}

	if local == nil {
		// Update for an order we never saw, usually a terminal that came up
		// mid-stream. Treat it like an insert.
		e.mergeInsert(ctx, rec)
		return
	}

	merged := *local
	if models.ValidStatus(rec.Status) {
		merged.Status = rec.Status
	}
	// A partial payload that omits paid must not un-pay a paid order.
	if rec.Paid {
		merged.Paid = true
	}
	if rec.PaymentMethod != "" {
		merged.PaymentMethod = rec.PaymentMethod
	}
	if rec.NodeID != "" {
		merged.NodeID = rec.NodeID
	}
	if rec.Total > 0 {
		merged.Total = rec.Total
	}

	// An order with its own mutation still in flight keeps its pending badge
	// and its local items until that mutation completes.
	if local.SyncStatus == models.SyncPending && e.hasOutstanding(ctx, rec.ID) {
		merged.SyncStatus = models.SyncPending
	} else {
		merged.SyncStatus = models.SyncSynced
	}
	merged.Touch()

	if err := e.store.SaveOrder(ctx, merged); err != nil {
		e.log.Error("FEED", fmt.Sprintf("merge order %s: %v", rec.ID, err))
		return
	}
	e.refreshView(ctx)
}

// fetchFull replaces the cached copy of an order with the authoritative
// server record, items included.
func (e *Engine) fetchFull(ctx context.Context, orderID string) {
	full, err := e.gw.FetchOrder(ctx, orderID)
	if err != nil {
		e.log.Debug("FEED", fmt.Sprintf("full fetch of %s failed: %v", orderID, err))
		return
	}
	if full == nil || full.TenantID != e.tenantID {
		return
	}
	full.SyncStatus = models.SyncSynced
	if full.LastModified == 0 {
		full.LastModified = time.Now().UnixMilli()
	}
	if err := e.store.SaveOrder(ctx, *full); err != nil {
		e.log.Error("FEED", fmt.Sprintf("cache full order %s: %v", orderID, err))
		return
	}
	e.refreshView(ctx)
}
