package api

import (
	"context"
	"fmt"

	"github.com/aquamarinepk/aqm"

	"github.com/workshopkit/workshop/services/workshop/internal/jobcard"
)

// Catalog implements jobcard.CatalogService and jobcard.InventoryService.
type Catalog struct {
	services  *aqm.ServiceClient
	inventory *aqm.ServiceClient
}

func NewCatalog(services, inventory *aqm.ServiceClient) *Catalog {
	return &Catalog{services: services, inventory: inventory}
}

func (c *Catalog) ListEntries(ctx context.Context) ([]jobcard.CatalogEntry, error) {
	if c == nil || c.services == nil {
		return nil, fmt.Errorf("service catalog client not configured")
	}
	resp, err := c.services.List(ctx, resServices)
	if err != nil {
		return nil, classify(err, "list services")
	}
	var entries []jobcard.CatalogEntry
	if err := decodeSuccessResponse(resp, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode services: %w", err)
	}
	return entries, nil
}

func (c *Catalog) CreateEntry(ctx context.Context, entry jobcard.CatalogEntry) (*jobcard.CatalogEntry, error) {
	if c == nil || c.services == nil {
		return nil, fmt.Errorf("service catalog client not configured")
	}
	resp, err := c.services.Create(ctx, resServices, entry)
	if err != nil {
		return nil, classify(err, "create service")
	}
	var created jobcard.CatalogEntry
	if err := decodeSuccessResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("failed to decode service: %w", err)
	}
	return &created, nil
}

func (c *Catalog) DeleteEntry(ctx context.Context, id string) error {
	if c == nil || c.services == nil {
		return fmt.Errorf("service catalog client not configured")
	}
	if err := c.services.Delete(ctx, resServices, id); err != nil {
		return classify(err, "delete service "+id)
	}
	return nil
}

func (c *Catalog) ListItems(ctx context.Context) ([]jobcard.InventoryItem, error) {
	if c == nil || c.inventory == nil {
		return nil, fmt.Errorf("inventory client not configured")
	}
	resp, err := c.inventory.List(ctx, resInventory)
	if err != nil {
		return nil, classify(err, "list inventory")
	}
	var items []jobcard.InventoryItem
	if err := decodeSuccessResponse(resp, &items); err != nil {
		return nil, fmt.Errorf("failed to decode inventory: %w", err)
	}
	return items, nil
}
