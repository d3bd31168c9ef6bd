package store

import (
	"context"
	"database/sql"
	"errors"

	"pos-sync/internal/models"
)

// Venue topology read-through caches. Each snapshot replace is scoped to the
// tenant so a refresh can never leak rows across accounts.

func (s *Store) ReplaceVenueNodes(ctx context.Context, tenantID string, nodes []models.VenueNode) error {
	_, err := s.Bun.NewDelete().
		Model((*models.VenueNode)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return storageErr("clear venue nodes", err)
	}
	if len(nodes) == 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&nodes).Exec(ctx); err != nil {
		return storageErr("insert venue nodes", err)
	}
	return nil
}

func (s *Store) VenueNodesByTenant(ctx context.Context, tenantID string) ([]models.VenueNode, error) {
	var nodes []models.VenueNode
	err := s.Bun.NewSelect().
		Model(&nodes).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list venue nodes", err)
	}
	return nodes, nil
}

// DefaultVenueNode returns nil without error when no default is cached.
func (s *Store) DefaultVenueNode(ctx context.Context, tenantID string) (*models.VenueNode, error) {
	var node models.VenueNode
	err := s.Bun.NewSelect().
		Model(&node).
		Where("tenant_id = ?", tenantID).
		Where("is_default = ?", true).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get default venue node", err)
	}
	return &node, nil
}

func (s *Store) SaveVenueNode(ctx context.Context, node models.VenueNode) error {
	res, err := s.Bun.NewUpdate().Model(&node).WherePK().Exec(ctx)
	if err != nil {
		return storageErr("update venue node", err)
	}
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&node).Exec(ctx); err != nil {
		return storageErr("insert venue node", err)
	}
	return nil
}

func (s *Store) ReplaceVenueZones(ctx context.Context, tenantID string, zones []models.VenueZone) error {
	_, err := s.Bun.NewDelete().
		Model((*models.VenueZone)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return storageErr("clear venue zones", err)
	}
	if len(zones) == 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&zones).Exec(ctx); err != nil {
		return storageErr("insert venue zones", err)
	}
	return nil
}

func (s *Store) VenueZonesByTenant(ctx context.Context, tenantID string) ([]models.VenueZone, error) {
	var zones []models.VenueZone
	err := s.Bun.NewSelect().
		Model(&zones).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list venue zones", err)
	}
	return zones, nil
}

func (s *Store) ReplaceStorageLocations(ctx context.Context, tenantID string, locations []models.StorageLocation) error {
	_, err := s.Bun.NewDelete().
		Model((*models.StorageLocation)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return storageErr("clear storage locations", err)
	}
	if len(locations) == 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&locations).Exec(ctx); err != nil {
		return storageErr("insert storage locations", err)
	}
	return nil
}

func (s *Store) StorageLocationsByTenant(ctx context.Context, tenantID string) ([]models.StorageLocation, error) {
	var locations []models.StorageLocation
	err := s.Bun.NewSelect().
		Model(&locations).
		Where("tenant_id = ?", tenantID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list storage locations", err)
	}
	return locations, nil
}

func (s *Store) ReplaceInventoryItems(ctx context.Context, tenantID string, items []models.InventoryItem) error {
	_, err := s.Bun.NewDelete().
		Model((*models.InventoryItem)(nil)).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return storageErr("clear inventory items", err)
	}
	if len(items) == 0 {
		return nil
	}
	if _, err := s.Bun.NewInsert().Model(&items).Exec(ctx); err != nil {
		return storageErr("insert inventory items", err)
	}
	return nil
}

func (s *Store) InventoryItemsByTenant(ctx context.Context, tenantID string) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.Bun.NewSelect().
		Model(&items).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if err != nil {
		return nil, storageErr("list inventory items", err)
	}
	return items, nil
}

// PurgeForeignTenant deletes every row that does not belong to the active
// tenant. It runs on engine start and on every tenant switch, before any
// cached data becomes visible.
func (s *Store) PurgeForeignTenant(ctx context.Context, tenantID string) error {
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
		_, err := s.Bun.NewDelete().
			Model(model).
			Where("tenant_id != ?", tenantID).
			Exec(ctx)
		if err != nil {
			return storageErr("purge foreign tenant", err)
		}
	}
	return nil
}
