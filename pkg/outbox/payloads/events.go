package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockroom-backend/pkg/enums"
)

// StockReservedEvent records a successful reservation against a variant.
type StockReservedEvent struct {
	VariantID uuid.UUID  `json:"variant_id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Qty       int        `json:"qty"`
	Available int        `json:"available"`
}

// StockReleasedEvent records reserved stock returning to the available pool.
type StockReleasedEvent struct {
	VariantID uuid.UUID  `json:"variant_id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Qty       int        `json:"qty"`
	Available int        `json:"available"`
}

// StockAdjustedEvent records a manual or restock quantity change.
type StockAdjustedEvent struct {
	VariantID         uuid.UUID              `json:"variant_id"`
	QuantityChange    int                    `json:"quantity_change"`
	Reason            enums.AdjustmentReason `json:"reason"`
	ResultingQuantity int                    `json:"resulting_quantity"`
	ResultingReserved int                    `json:"resulting_reserved"`
}

// LowStockWarningEvent is emitted when available stock drops to the threshold.
type LowStockWarningEvent struct {
	VariantID uuid.UUID `json:"variant_id"`
	Available int       `json:"available"`
	Threshold int       `json:"threshold"`
}

// OrderCancelledEvent signals a pending order was cancelled and its stock released.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason,omitempty"`
}

// OrderShippedEvent signals reserved stock was converted to a sale.
type OrderShippedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	ShippedAt time.Time `json:"shipped_at"`
}

// OrderRefundedEvent signals a refund returned stock to the available pool.
type OrderRefundedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	RefundedAt time.Time `json:"refunded_at"`
}
