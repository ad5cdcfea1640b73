package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockroom-backend/pkg/config"
	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	"github.com/angelmondragon/stockroom-backend/pkg/enums"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox/payloads"
)

func testConfig() config.PubSubConfig {
	return config.PubSubConfig{
		InventoryTopic: "inventory-events",
		OrdersTopic:    "order-events",
	}
}

func buildRow(t *testing.T, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, data interface{}) models.OutboxEvent {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   uuid.New(),
		Payload:       payload,
	}
}

func TestResolveRoutesInventoryEvents(t *testing.T) {
	reg, err := NewEventRegistry(testConfig())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	variantID := uuid.New()
	row := buildRow(t, enums.EventInventoryReserved, enums.AggregateInventoryItem, payloads.StockReservedEvent{
		VariantID: variantID,
		Qty:       3,
		Available: 7,
	})

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "inventory-events" {
		t.Fatalf("expected inventory topic, got %s", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.StockReservedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.VariantID != variantID || payload.Qty != 3 {
		t.Fatalf("payload fields lost: %+v", payload)
	}
}

func TestResolveRoutesOrderEvents(t *testing.T) {
	reg, err := NewEventRegistry(testConfig())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	row := buildRow(t, enums.EventOrderCancelled, enums.AggregateOrder, payloads.OrderCancelledEvent{
		OrderID:     uuid.New(),
		CancelledAt: time.Now().UTC(),
	})

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "order-events" {
		t.Fatalf("expected orders topic, got %s", resolved.Descriptor.Topic)
	}
}

func TestResolveRejectsUnknownAndMismatchedRows(t *testing.T) {
	reg, err := NewEventRegistry(testConfig())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	var nonRetry NonRetryableError

	unknown := buildRow(t, enums.OutboxEventType("inventory.unknown"), enums.AggregateInventoryItem, map[string]any{})
	if _, err := reg.Resolve(unknown); !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error for unknown type, got %v", err)
	}

	mismatch := buildRow(t, enums.EventInventoryReserved, enums.AggregateOrder, payloads.StockReservedEvent{})
	if _, err := reg.Resolve(mismatch); !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error for aggregate mismatch, got %v", err)
	}

	empty := buildRow(t, enums.EventInventoryReserved, enums.AggregateInventoryItem, nil)
	if _, err := reg.Resolve(empty); !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error for empty payload, got %v", err)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders"}); err == nil {
		t.Fatal("expected error when inventory topic missing")
	}
	if _, err := NewEventRegistry(config.PubSubConfig{InventoryTopic: "inventory"}); err == nil {
		t.Fatal("expected error when orders topic missing")
	}
}
