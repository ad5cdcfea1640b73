package enums

// OutboxEventType identifies the domain events written to outbox_events.
type OutboxEventType string

const (
	EventInventoryReserved OutboxEventType = "inventory.reserved"
	EventInventoryReleased OutboxEventType = "inventory.released"
	EventInventoryAdjusted OutboxEventType = "inventory.adjusted"
	EventInventoryLowStock OutboxEventType = "inventory.low_stock"
	EventOrderCancelled    OutboxEventType = "order.cancelled"
	EventOrderShipped      OutboxEventType = "order.shipped"
	EventOrderRefunded     OutboxEventType = "order.refunded"
)

// OutboxAggregateType identifies the aggregate an event belongs to.
type OutboxAggregateType string

const (
	AggregateInventoryItem OutboxAggregateType = "inventory_item"
	AggregateOrder         OutboxAggregateType = "order"
)

// Topic routes the event type to its Pub/Sub topic key.
func (t OutboxEventType) Topic() string {
	switch t {
	case EventOrderCancelled, EventOrderShipped, EventOrderRefunded:
		return "orders"
	default:
		return "inventory"
	}
}
