package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/pkg/enums"
)

// InventoryAdjustment is one append-only entry in the stock movement log.
// Rows are immutable once written; compensations are new entries.
type InventoryAdjustment struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	VariantID         uuid.UUID              `gorm:"column:variant_id;type:uuid;not null;index:idx_inventory_adjustments_variant_created,priority:1"`
	QuantityChange    int                    `gorm:"column:quantity_change;not null"`
	Reason            enums.AdjustmentReason `gorm:"column:reason;type:adjustment_reason_enum;not null"`
	ActorUserID       *uuid.UUID             `gorm:"column:actor_user_id;type:uuid"`
	Notes             *string                `gorm:"column:notes"`
	ResultingQuantity int                    `gorm:"column:resulting_quantity;not null"`
	ResultingReserved int                    `gorm:"column:resulting_reserved;not null"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime;index:idx_inventory_adjustments_variant_created,priority:2"`
}

func (InventoryAdjustment) TableName() string {
	return "inventory_adjustments"
}

// BeforeCreate assigns the ID client-side so sqlite test databases work
// without a uuid default.
func (a *InventoryAdjustment) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
