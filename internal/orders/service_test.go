package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/internal/inventory"
	"github.com/angelmondragon/stockroom-backend/internal/reservation"
	"github.com/angelmondragon/stockroom-backend/pkg/config"
	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	"github.com/angelmondragon/stockroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type capturingEmitter struct {
	events []outbox.DomainEvent
}

func (e *capturingEmitter) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		panic("emit outside transaction")
	}
	e.events = append(e.events, event)
	return nil
}

func (e *capturingEmitter) countByType(eventType enums.OutboxEventType) int {
	n := 0
	for _, event := range e.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db      *gorm.DB
	svc     Service
	emitter *capturingEmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.InventoryItem{},
		&models.InventoryAdjustment{},
		&models.Order{},
		&models.OrderLineItem{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ledger, err := inventory.NewService(inventory.NewRepository(db))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	coord, err := reservation.NewCoordinator(ledger)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	emitter := &capturingEmitter{}
	runner := gormTxRunner{db: db}
	workflow, err := reservation.NewService(runner, coord, emitter, nil, nil, config.InventoryConfig{
		MaxReserveRetries: 3,
		ReserveRetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}
	svc, err := NewService(NewRepository(db), runner, coord, workflow, emitter, nil, nil)
	if err != nil {
		t.Fatalf("new orders service: %v", err)
	}
	return &testEnv{db: db, svc: svc, emitter: emitter}
}

func (env *testEnv) seedVariant(t *testing.T, quantity int) uuid.UUID {
	t.Helper()
	item := models.InventoryItem{
		VariantID:      uuid.New(),
		Quantity:       quantity,
		TrackInventory: true,
	}
	if err := env.db.Create(&item).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return item.VariantID
}

func (env *testEnv) variantState(t *testing.T, variantID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := env.db.First(&item, "variant_id = ?", variantID).Error; err != nil {
		t.Fatalf("load variant: %v", err)
	}
	return item
}

func (env *testEnv) adjustmentCount(t *testing.T, reason enums.AdjustmentReason) int64 {
	t.Helper()
	var n int64
	if err := env.db.Model(&models.InventoryAdjustment{}).Where("reason = ?", reason).Count(&n).Error; err != nil {
		t.Fatalf("count adjustments: %v", err)
	}
	return n
}

func TestCreateOrderReservesStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	variantA := env.seedVariant(t, 10)
	variantB := env.seedVariant(t, 5)
	actor := uuid.New()

	order, err := env.svc.CreateOrder(ctx, CreateOrderInput{
		ActorUserID: &actor,
		Items: []LineItemInput{
			{VariantID: variantA, Qty: 2},
			{VariantID: variantB, Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if len(order.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(order.LineItems))
	}

	if got := env.variantState(t, variantA); got.ReservedQty != 2 {
		t.Fatalf("variant A not reserved: %+v", got)
	}
	if got := env.variantState(t, variantB); got.ReservedQty != 1 {
		t.Fatalf("variant B not reserved: %+v", got)
	}
	if n := env.emitter.countByType(enums.EventInventoryReserved); n != 2 {
		t.Fatalf("expected 2 reserved events, got %d", n)
	}
}

func TestCreateOrderFailureRollsBackEverything(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	plenty := env.seedVariant(t, 100)
	scarce := env.seedVariant(t, 1)

	_, err := env.svc.CreateOrder(ctx, CreateOrderInput{
		Items: []LineItemInput{
			{VariantID: plenty, Qty: 10},
			{VariantID: scarce, Qty: 5},
		},
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["variant_id"] != scarce.String() {
		t.Fatalf("expected failing variant in details, got %v", typed.Details())
	}

	if got := env.variantState(t, plenty); got.ReservedQty != 0 {
		t.Fatalf("rollback did not undo reservation: %+v", got)
	}
	var orderCount int64
	if err := env.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("failed reservation must roll back the order row, found %d", orderCount)
	}
}

func TestCancelReleasesStockAndIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	variantA := env.seedVariant(t, 10)
	variantB := env.seedVariant(t, 5)

	order, err := env.svc.CreateOrder(ctx, CreateOrderInput{
		Items: []LineItemInput{
			{VariantID: variantA, Qty: 2},
			{VariantID: variantB, Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, order.ID, nil, "customer request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled order: %+v", cancelled)
	}

	if got := env.variantState(t, variantA); got.ReservedQty != 0 || got.Quantity != 10 {
		t.Fatalf("variant A not restored: %+v", got)
	}
	if got := env.variantState(t, variantB); got.ReservedQty != 0 || got.Quantity != 5 {
		t.Fatalf("variant B not restored: %+v", got)
	}
	if n := env.adjustmentCount(t, enums.AdjustmentReasonRelease); n != 2 {
		t.Fatalf("expected 2 release adjustments, got %d", n)
	}
	if n := env.emitter.countByType(enums.EventOrderCancelled); n != 1 {
		t.Fatalf("expected 1 cancelled event, got %d", n)
	}

	// duplicate cancel is a no-op
	again, err := env.svc.Cancel(ctx, order.ID, nil, "")
	if err != nil {
		t.Fatalf("duplicate cancel: %v", err)
	}
	if again.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", again.Status)
	}
	if n := env.adjustmentCount(t, enums.AdjustmentReasonRelease); n != 2 {
		t.Fatalf("duplicate cancel must not release again, got %d adjustments", n)
	}
	if n := env.emitter.countByType(enums.EventOrderCancelled); n != 1 {
		t.Fatalf("duplicate cancel must not emit again, got %d events", n)
	}
}

func TestShipConvertsReservationsToSales(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	variantID := env.seedVariant(t, 10)

	order, err := env.svc.CreateOrder(ctx, CreateOrderInput{
		Items: []LineItemInput{{VariantID: variantID, Qty: 4}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	shipped, err := env.svc.Ship(ctx, order.ID, nil)
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.Status != enums.OrderStatusShipped || shipped.ShippedAt == nil {
		t.Fatalf("unexpected shipped order: %+v", shipped)
	}

	got := env.variantState(t, variantID)
	if got.Quantity != 6 || got.ReservedQty != 0 {
		t.Fatalf("ship must convert not release: %+v", got)
	}
	if n := env.adjustmentCount(t, enums.AdjustmentReasonSale); n != 1 {
		t.Fatalf("expected 1 sale adjustment, got %d", n)
	}
	if n := env.adjustmentCount(t, enums.AdjustmentReasonRelease); n != 0 {
		t.Fatalf("ship must not log releases, got %d", n)
	}
}

func TestRefundAfterShipLeavesStockAlone(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	variantID := env.seedVariant(t, 10)

	order, err := env.svc.CreateOrder(ctx, CreateOrderInput{
		Items: []LineItemInput{{VariantID: variantID, Qty: 4}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := env.svc.Ship(ctx, order.ID, nil); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := env.svc.Deliver(ctx, order.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	refunded, err := env.svc.Refund(ctx, order.ID, nil)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != enums.OrderStatusRefunded || refunded.RefundedAt == nil {
		t.Fatalf("unexpected refunded order: %+v", refunded)
	}

	// the reservation was already converted; clamp releases nothing
	got := env.variantState(t, variantID)
	if got.Quantity != 6 || got.ReservedQty != 0 {
		t.Fatalf("refund after ship must not move stock: %+v", got)
	}
	if n := env.adjustmentCount(t, enums.AdjustmentReasonRelease); n != 0 {
		t.Fatalf("expected no release adjustments, got %d", n)
	}
	if n := env.emitter.countByType(enums.EventOrderRefunded); n != 1 {
		t.Fatalf("expected 1 refunded event, got %d", n)
	}
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	variantID := env.seedVariant(t, 10)

	order, err := env.svc.CreateOrder(ctx, CreateOrderInput{
		Items: []LineItemInput{{VariantID: variantID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// refund before ship
	if _, err := env.svc.Refund(ctx, order.ID, nil); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict refunding pending order, got %v", err)
	}

	if _, err := env.svc.Ship(ctx, order.ID, nil); err != nil {
		t.Fatalf("ship: %v", err)
	}

	// cancel after ship
	if _, err := env.svc.Cancel(ctx, order.ID, nil, ""); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict cancelling shipped order, got %v", err)
	}

	// unknown order
	if _, err := env.svc.Cancel(ctx, uuid.New(), nil, ""); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
