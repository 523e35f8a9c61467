package jobcard

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aquamarinepk/aqm"
)

type SubOptionKind string

const (
	SubOptionText        SubOptionKind = "text"
	SubOptionSelect      SubOptionKind = "select"
	SubOptionMultiselect SubOptionKind = "multiselect"
)

type SubOption struct {
	Key      string        `json:"key"`
	Label    string        `json:"label"`
	Kind     SubOptionKind `json:"type"`
	Options  []string      `json:"options,omitempty"`
	Required bool          `json:"required,omitempty"`
}

// CatalogEntry is a service offered by the workshop.
type CatalogEntry struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	BasePrice       float64     `json:"basePrice"`
	DefaultDuration float64     `json:"durationMinutes"`
	EstimatedTime   string      `json:"estimatedTime,omitempty"`
	SubOptions      []SubOption `json:"subOptions,omitempty"`
	AllowComments   bool        `json:"allowComments,omitempty"`
	AllowedParts    []string    `json:"allowedParts,omitempty"`
	InventoryItemID string      `json:"inventoryItemId,omitempty"`
	ConsumptionQty  float64     `json:"consumptionQty,omitempty"`
}

func (e *CatalogEntry) subOption(key string) (SubOption, bool) {
	for _, opt := range e.SubOptions {
		if opt.Key == key {
			return opt, true
		}
	}
	return SubOption{}, false
}

type InventoryItem struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CurrentStock float64 `json:"currentStock"`
	MinStock     float64 `json:"minStock"`
	Unit         string  `json:"unit,omitempty"`
	SalePrice    float64 `json:"salePrice"`
}

// LineItem projects an inventory item into a line item candidate.
func (i InventoryItem) LineItem() RawLineItem {
	return RawLineItem{
		"name":            i.Name,
		"price":           i.SalePrice,
		"isInventoryItem": true,
		"inventoryItemId": i.ID,
		"stock": map[string]any{
			"current": i.CurrentStock,
			"min":     i.MinStock,
			"unit":    i.Unit,
		},
	}
}

type Via string

const (
	ViaNone      Via = "none"
	ViaGeneric   Via = "generic"
	ViaOilLegacy Via = "oilLegacy"
)

// Decision is what the resolver concludes about a candidate line item.
type Decision struct {
	Name                  string        `json:"name"`
	RequiresDetailCapture bool          `json:"requiresDetailCapture"`
	Via                   Via           `json:"via"`
	EffectivePrice        float64       `json:"effectivePrice"`
	EffectiveDuration     float64       `json:"effectiveDuration"`
	LowStock              bool          `json:"lowStock,omitempty"`
	Entry                 *CatalogEntry `json:"-"`
}

// DetailCapture carries the details an operator supplies for a gated item.
type DetailCapture struct {
	Details         *Details                  `json:"details,omitempty"`
	SubOptionValues map[string]SubOptionValue `json:"subOptionValues,omitempty"`
	Comments        string                    `json:"comments,omitempty"`
	PartsUsed       []string                  `json:"partsUsed,omitempty"`
}

func (c *DetailCapture) apply(item *ServiceLineItem) {
	if c == nil {
		return
	}
	if !c.Details.IsEmpty() {
		d := *c.Details
		item.Details = &d
	}
	if len(c.SubOptionValues) > 0 {
		item.SubOptionValues = c.SubOptionValues
	}
	if c.Comments != "" {
		item.Comments = c.Comments
	}
	if len(c.PartsUsed) > 0 {
		item.PartsUsed = c.PartsUsed
	}
}

const oilChangeMarker = "oil change"

// Resolve decides whether candidate needs detail capture and which price and
// duration apply. A nil entry means the candidate is its own entry.
func Resolve(candidate ServiceLineItem, entry *CatalogEntry) Decision {
	if entry == nil {
		entry = &CatalogEntry{
			ID:              candidate.ServiceID,
			Name:            candidate.Name,
			BasePrice:       candidate.Price,
			DefaultDuration: candidate.DurationMinutes,
		}
	}

	d := Decision{
		Name:              candidate.Name,
		Via:               ViaNone,
		EffectivePrice:    candidate.Price,
		EffectiveDuration: candidate.DurationMinutes,
		Entry:             entry,
	}
	if d.Name == "" {
		d.Name = entry.Name
	}
	if entry.BasePrice > 0 {
		d.EffectivePrice = entry.BasePrice
	}
	switch {
	case entry.DefaultDuration > 0:
		d.EffectiveDuration = entry.DefaultDuration
	case ParseDuration(entry.EstimatedTime) > 0:
		d.EffectiveDuration = ParseDuration(entry.EstimatedTime)
	}

	switch {
	case len(entry.SubOptions) > 0 || entry.AllowComments || len(entry.AllowedParts) > 0:
		d.RequiresDetailCapture = true
		d.Via = ViaGeneric
	case strings.Contains(strings.ToLower(d.Name), oilChangeMarker):
		d.RequiresDetailCapture = true
		d.Via = ViaOilLegacy
	}
	return d
}

// ValidateCapture checks supplied details against what the decision demands.
func ValidateCapture(decision Decision, capture *DetailCapture) error {
	switch decision.Via {
	case ViaOilLegacy:
		if capture == nil || capture.Details.IsEmpty() {
			return invalid("details", "oil change requires oil filter, grade, make or a note")
		}
		return nil
	case ViaGeneric:
	default:
		return nil
	}

	entry := decision.Entry
	if capture == nil {
		capture = &DetailCapture{}
	}
	for key, value := range capture.SubOptionValues {
		opt, ok := entry.subOption(key)
		if !ok {
			return invalid("subOptionValues."+key, "not declared by service")
		}
		switch opt.Kind {
		case SubOptionSelect:
			if value.Multi || value.Text == "" {
				return invalid("subOptionValues."+key, "exactly one option must be selected")
			}
			if !slices.Contains(opt.Options, value.Text) {
				return invalid("subOptionValues."+key, fmt.Sprintf("%q is not an allowed option", value.Text))
			}
		case SubOptionMultiselect:
			values := value.Values
			if !value.Multi {
				values = []string{value.Text}
			}
			for _, v := range values {
				if !slices.Contains(opt.Options, v) {
					return invalid("subOptionValues."+key, fmt.Sprintf("%q is not an allowed option", v))
				}
			}
		}
	}
	for _, opt := range entry.SubOptions {
		if !opt.Required {
			continue
		}
		if value, ok := capture.SubOptionValues[opt.Key]; !ok || value.isBlank() {
			return invalid("subOptionValues."+opt.Key, opt.Label+" is required")
		}
	}
	for _, part := range capture.PartsUsed {
		if !slices.Contains(entry.AllowedParts, part) {
			return invalid("partsUsed", fmt.Sprintf("%q is not an allowed part", part))
		}
	}
	if capture.Comments != "" && !entry.AllowComments {
		return invalid("comments", "service does not accept comments")
	}
	return nil
}

// Catalog is the service and inventory snapshot fetched once per mount.
type Catalog struct {
	mu        sync.RWMutex
	entries   map[string]CatalogEntry
	order     []string
	inventory map[string]InventoryItem
	services  CatalogService
	stock     InventoryService
	logger    aqm.Logger
}

func NewCatalog(services CatalogService, stock InventoryService, logger aqm.Logger) *Catalog {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Catalog{
		entries:   make(map[string]CatalogEntry),
		inventory: make(map[string]InventoryItem),
		services:  services,
		stock:     stock,
		logger:    logger.With("component", "catalog"),
	}
}

// Warm refreshes the snapshot from whichever collaborators are configured.
func (c *Catalog) Warm(ctx context.Context) error {
	if c.services != nil {
		entries, err := c.services.ListEntries(ctx)
		if err != nil {
			return fmt.Errorf("failed to list services: %w", err)
		}
		c.mu.Lock()
		c.loadEntries(entries)
		c.mu.Unlock()
	}
	if c.stock != nil {
		items, err := c.stock.ListItems(ctx)
		if err != nil {
			return fmt.Errorf("failed to list inventory: %w", err)
		}
		c.mu.Lock()
		c.loadInventory(items)
		c.mu.Unlock()
	}
	return nil
}

// Load replaces the snapshot.
func (c *Catalog) Load(entries []CatalogEntry, items []InventoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadEntries(entries)
	c.loadInventory(items)
}

func (c *Catalog) loadEntries(entries []CatalogEntry) {
	c.entries = make(map[string]CatalogEntry, len(entries))
	c.order = nil
	for _, e := range entries {
		if e.ID == "" {
			c.logger.Debug("skipping catalog entry without id", "name", e.Name)
			continue
		}
		if _, dup := c.entries[e.ID]; !dup {
			c.order = append(c.order, e.ID)
		}
		c.entries[e.ID] = e
	}
}

func (c *Catalog) loadInventory(items []InventoryItem) {
	c.inventory = make(map[string]InventoryItem, len(items))
	for _, item := range items {
		c.inventory[item.ID] = item
	}
}

func (c *Catalog) Entry(id string) (*CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (c *Catalog) InventoryItem(id string) (InventoryItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.inventory[id]
	return item, ok
}

func (c *Catalog) Entries() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CatalogEntry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

func (c *Catalog) InventoryItems() []InventoryItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]InventoryItem, 0, len(c.inventory))
	for _, item := range c.inventory {
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b InventoryItem) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Resolve looks the candidate's service up in the snapshot and resolves it.
func (c *Catalog) Resolve(candidate ServiceLineItem) Decision {
	var entry *CatalogEntry
	if candidate.ServiceID != "" {
		entry, _ = c.Entry(candidate.ServiceID)
	}
	d := Resolve(candidate, entry)
	if entry != nil && entry.InventoryItemID != "" {
		if item, ok := c.InventoryItem(entry.InventoryItemID); ok {
			qty := entry.ConsumptionQty
			if qty <= 0 {
				qty = 1
			}
			d.LowStock = item.CurrentStock-qty < item.MinStock
		}
	}
	return d
}

// Create adds a service to the remote catalog and to the snapshot.
func (c *Catalog) Create(ctx context.Context, entry CatalogEntry) (*CatalogEntry, error) {
	if strings.TrimSpace(entry.Name) == "" {
		return nil, invalid("name", "service name is required")
	}
	if c.services == nil {
		return nil, fmt.Errorf("catalog service not configured")
	}
	created, err := c.services.CreateEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %q: %w", entry.Name, err)
	}
	c.mu.Lock()
	if _, exists := c.entries[created.ID]; !exists {
		c.order = append(c.order, created.ID)
	}
	c.entries[created.ID] = *created
	c.mu.Unlock()
	return created, nil
}

// Delete removes a service remotely and from the snapshot. Line items already
// referencing it keep their stored values.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if c.services == nil {
		return fmt.Errorf("catalog service not configured")
	}
	if err := c.services.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("failed to delete service %s: %w", id, err)
	}
	c.mu.Lock()
	delete(c.entries, id)
	c.order = slices.DeleteFunc(c.order, func(v string) bool { return v == id })
	c.mu.Unlock()
	return nil
}
