package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"pos-sync/internal/models"
)

// StorageError wraps any failure of the underlying sqlite layer. The sync
// engine treats these as transient and retries on the next flush.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Store is the local durable cache of the terminal. It holds orders, the sync
// queue and the tenant-scoped read caches. Pure CRUD, no business logic.
type Store struct {
	Bun *bun.DB
}

func New(db *bun.DB) *Store {
	return &Store{Bun: db}
}

func (s *Store) Close() error {
	return s.Bun.Close()
}

// ---------------- ORDERS ----------------

// SaveOrder upserts a single order row.
func (s *Store) SaveOrder(ctx context.Context, order models.Order) error {
	res, err := s.Bun.NewUpdate().
		Model(&order).
		WherePK().
		Exec(ctx)
	if err != nil {
		return storageErr("update order", err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&order).Exec(ctx); err != nil {
		return storageErr("insert order", err)
	}
	return nil
}

// GetOrder returns nil without error when the order is not cached.
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get order", err)
	}
	return &order, nil
}

// OrdersByTenant lists cached orders for one tenant, newest modification first.
func (s *Store) OrdersByTenant(ctx context.Context, tenantID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.Bun.NewSelect().
		Model(&orders).
		Where("tenant_id = ?", tenantID).
		Order("last_modified DESC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	return orders, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	_, err := s.Bun.NewDelete().
		Model((*models.Order)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageErr("delete order", err)
	}
	return nil
}

// ---------------- SYNC QUEUE ----------------

// Enqueue appends a mutation intent to the durable queue.
func (s *Store) Enqueue(ctx context.Context, event models.SyncEvent) error {
	if _, err := s.Bun.NewInsert().Model(&event).Exec(ctx); err != nil {
		return storageErr("enqueue sync event", err)
	}
	return nil
}

// Queue returns the tenant's pending events in strict enqueue (FIFO) order.
func (s *Store) Queue(ctx context.Context, tenantID string) ([]models.SyncEvent, error) {
	var events []models.SyncEvent
	err := s.Bun.NewSelect().
		Model(&events).
		Where("tenant_id = ?", tenantID).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("load sync queue", err)
	}
	return events, nil
}

// UpdateEvent persists retry bookkeeping (retry count, last error, terminal flag).
func (s *Store) UpdateEvent(ctx context.Context, event models.SyncEvent) error {
	_, err := s.Bun.NewUpdate().
		Model(&event).
		Column("payload", "retry_count", "last_error", "terminal").
		WherePK().
		Exec(ctx)
	if err != nil {
		return storageErr("update sync event", err)
	}
	return nil
}

func (s *Store) RemoveEvent(ctx context.Context, id string) error {
	_, err := s.Bun.NewDelete().
		Model((*models.SyncEvent)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storageErr("remove sync event", err)
	}
	return nil
}

// EventsForOrder lists queued mutations referencing one order id.
func (s *Store) EventsForOrder(ctx context.Context, orderID string) ([]models.SyncEvent, error) {
	var events []models.SyncEvent
	err := s.Bun.NewSelect().
		Model(&events).
		Where("order_id = ?", orderID).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("load order events", err)
	}
	return events, nil
}

// RemoveEventsForOrder drops every queued mutation referencing one order id.
// Used by the not-found cleanup path.
func (s *Store) RemoveEventsForOrder(ctx context.Context, orderID string) error {
	_, err := s.Bun.NewDelete().
		Model((*models.SyncEvent)(nil)).
		Where("order_id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return storageErr("remove order events", err)
	}
	return nil
}

// ---------------- READ CACHES ----------------

// ReplaceProducts swaps the tenant's product cache for a fresh snapshot.
func (s *Store) ReplaceProducts(ctx context.Context, tenantID string, products []models.Product) error {
	_, err := s.Bun.NewDelete().
		Model((*models.Product)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return storageErr("clear products", err)
	}
	if len(products) == 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&products).Exec(ctx); err != nil {
		return storageErr("insert products", err)
	}
	return nil
}

func (s *Store) ProductsByTenant(ctx context.Context, tenantID string) ([]models.Product, error) {
	var products []models.Product
	err := s.Bun.NewSelect().
		Model(&products).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.Bun.NewSelect().
		Model(&product).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get product", err)
	}
	return &product, nil
}

// ReplaceClients swaps the tenant's client cache for a fresh snapshot.
func (s *Store) ReplaceClients(ctx context.Context, tenantID string, clients []models.Client) error {
	_, err := s.Bun.NewDelete().
		Model((*models.Client)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return storageErr("clear clients", err)
	}
	if len(clients) == 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&clients).Exec(ctx); err != nil {
		return storageErr("insert clients", err)
	}
	return nil
}

func (s *Store) ClientsByTenant(ctx context.Context, tenantID string) ([]models.Client, error) {
	var clients []models.Client
	err := s.Bun.NewSelect().
		Model(&clients).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list clients", err)
	}
	return clients, nil
}
