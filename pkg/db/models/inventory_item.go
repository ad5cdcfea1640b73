package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem is the single source of truth for per-variant stock counters.
// Both counters are mutated only through the inventory ledger's conditional
// updates; direct writes elsewhere break the no-lost-update guarantee.
type InventoryItem struct {
	VariantID         uuid.UUID  `gorm:"column:variant_id;type:uuid;primaryKey"`
	Quantity          int        `gorm:"column:quantity;not null;default:0"`
	ReservedQty       int        `gorm:"column:reserved_qty;not null;default:0"`
	LowStockThreshold int        `gorm:"column:low_stock_threshold;not null;default:0"`
	TrackInventory    bool       `gorm:"column:track_inventory;not null"`
	AllowBackorder    bool       `gorm:"column:allow_backorder;not null"`
	LastRestockedAt   *time.Time `gorm:"column:last_restocked_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryItem) TableName() string {
	return "inventory_items"
}

// Available is always derived; it is never stored.
// Negative values represent backorder debt.
func (i InventoryItem) Available() int {
	return i.Quantity - i.ReservedQty
}
