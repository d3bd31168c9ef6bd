package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"pos-sync/internal/models"
)

// Open opens (or creates) the terminal's sqlite database file and runs the
// schema migration.
func Open(ctx context.Context, path string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps every operation single-record transactional.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := Migrate(ctx, bunDB); err != nil {
		sqldb.Close()
		return nil, err
	}
	return New(bunDB), nil
}

// Migrate creates the local collections and their tenant indexes.
func Migrate(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Order)(nil),
		(*models.SyncEvent)(nil),
		(*models.Product)(nil),
		(*models.Client)(nil),
		(*models.VenueNode)(nil),
		(*models.VenueZone)(nil),
		(*models.StorageLocation)(nil),
		(*models.InventoryItem)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []struct {
		name   string
		model  interface{}
		column string
	}{
		{"idx_orders_tenant", (*models.Order)(nil), "tenant_id"},
		{"idx_sync_queue_tenant", (*models.SyncEvent)(nil), "tenant_id"},
		{"idx_sync_queue_order", (*models.SyncEvent)(nil), "order_id"},
		{"idx_products_tenant", (*models.Product)(nil), "tenant_id"},
		{"idx_clients_tenant", (*models.Client)(nil), "tenant_id"},
		{"idx_venue_nodes_tenant", (*models.VenueNode)(nil), "tenant_id"},
		{"idx_venue_zones_tenant", (*models.VenueZone)(nil), "tenant_id"},
		{"idx_storage_locations_tenant", (*models.StorageLocation)(nil), "tenant_id"},
		{"idx_inventory_items_tenant", (*models.InventoryItem)(nil), "tenant_id"},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
