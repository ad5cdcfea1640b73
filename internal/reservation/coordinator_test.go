package reservation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/internal/inventory"
	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	"github.com/angelmondragon/stockroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:reservation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryItem{}, &models.InventoryAdjustment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestCoordinator(t *testing.T, db *gorm.DB) *Coordinator {
	t.Helper()
	ledger, err := inventory.NewService(inventory.NewRepository(db))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	coord, err := NewCoordinator(ledger)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return coord
}

func seedVariant(t *testing.T, db *gorm.DB, quantity, reserved int) uuid.UUID {
	t.Helper()
	item := models.InventoryItem{
		VariantID:      uuid.New(),
		Quantity:       quantity,
		ReservedQty:    reserved,
		TrackInventory: true,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return item.VariantID
}

func variantState(t *testing.T, db *gorm.DB, variantID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := db.First(&item, "variant_id = ?", variantID).Error; err != nil {
		t.Fatalf("load variant: %v", err)
	}
	return item
}

func TestReserveItemsSuccess(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	coord := newTestCoordinator(t, db)
	ctx := context.Background()

	variantA := seedVariant(t, db, 10, 0)
	variantB := seedVariant(t, db, 3, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		results, terr := coord.ReserveItems(ctx, tx, []LineItem{
			{VariantID: variantA, Qty: 4},
			{VariantID: variantB, Qty: 3},
		})
		if terr != nil {
			return terr
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		for _, result := range results {
			switch result.VariantID {
			case variantA:
				if result.Available != 6 {
					t.Fatalf("expected available 6 for A, got %d", result.Available)
				}
			case variantB:
				if result.Available != 0 {
					t.Fatalf("expected available 0 for B, got %d", result.Available)
				}
			default:
				t.Fatalf("unexpected variant in results: %s", result.VariantID)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reserve items: %v", err)
	}

	if got := variantState(t, db, variantA); got.ReservedQty != 4 {
		t.Fatalf("variant A not reserved: %+v", got)
	}
	if got := variantState(t, db, variantB); got.ReservedQty != 3 {
		t.Fatalf("variant B not reserved: %+v", got)
	}
}

func TestReserveItemsMergesDuplicates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	coord := newTestCoordinator(t, db)
	ctx := context.Background()

	variantID := seedVariant(t, db, 10, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		results, terr := coord.ReserveItems(ctx, tx, []LineItem{
			{VariantID: variantID, Qty: 3},
			{VariantID: variantID, Qty: 4},
		})
		if terr != nil {
			return terr
		}
		if len(results) != 1 || results[0].Qty != 7 {
			t.Fatalf("expected single merged reservation of 7, got %+v", results)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("merged reserve: %v", err)
	}

	got := variantState(t, db, variantID)
	if got.ReservedQty != 7 {
		t.Fatalf("expected reserved 7, got %+v", got)
	}

	rows := []models.InventoryAdjustment{}
	if err := db.Where("variant_id = ?", variantID).Find(&rows).Error; err != nil {
		t.Fatalf("load adjustments: %v", err)
	}
	if len(rows) != 1 || rows[0].QuantityChange != -7 {
		t.Fatalf("merged reserve must log once, got %+v", rows)
	}
}

func TestReserveItemsAllOrNothing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	coord := newTestCoordinator(t, db)
	ctx := context.Background()

	// sorted processing order is by variant id, so force the plentiful
	// variant first by checking both states after rollback instead
	plenty := seedVariant(t, db, 100, 0)
	scarce := seedVariant(t, db, 1, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, terr := coord.ReserveItems(ctx, tx, []LineItem{
			{VariantID: plenty, Qty: 10},
			{VariantID: scarce, Qty: 5},
		})
		return terr
	})
	if err == nil {
		t.Fatal("expected batch failure")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["variant_id"] != scarce.String() {
		t.Fatalf("expected failing variant in details, got %v", typed.Details())
	}

	// rollback must leave both variants untouched
	if got := variantState(t, db, plenty); got.ReservedQty != 0 {
		t.Fatalf("rollback did not undo reservation: %+v", got)
	}
	if got := variantState(t, db, scarce); got.ReservedQty != 0 {
		t.Fatalf("failed variant mutated: %+v", got)
	}
}

func TestReserveItemsValidation(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	coord := newTestCoordinator(t, db)
	ctx := context.Background()
	variantID := seedVariant(t, db, 5, 0)

	cases := [][]LineItem{
		nil,
		{},
		{{VariantID: variantID, Qty: 0}},
		{{VariantID: variantID, Qty: -2}},
		{{VariantID: uuid.Nil, Qty: 1}},
	}
	for _, items := range cases {
		err := db.Transaction(func(tx *gorm.DB) error {
			_, terr := coord.ReserveItems(ctx, tx, items)
			return terr
		})
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("expected validation error for %+v, got %v", items, err)
		}
	}

	if got := variantState(t, db, variantID); got.ReservedQty != 0 {
		t.Fatalf("validation failures must not mutate state: %+v", got)
	}
}

func TestReleaseItemsRestoresBothVariants(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	coord := newTestCoordinator(t, db)
	ctx := context.Background()

	variantA := seedVariant(t, db, 10, 2)
	variantB := seedVariant(t, db, 10, 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		results, terr := coord.ReleaseItems(ctx, tx, []LineItem{
			{VariantID: variantA, Qty: 2},
			{VariantID: variantB, Qty: 1},
		})
		if terr != nil {
			return terr
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 release results, got %d", len(results))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("release items: %v", err)
	}

	if got := variantState(t, db, variantA); got.ReservedQty != 0 {
		t.Fatalf("variant A not released: %+v", got)
	}
	if got := variantState(t, db, variantB); got.ReservedQty != 0 {
		t.Fatalf("variant B not released: %+v", got)
	}

	var rows []models.InventoryAdjustment
	if err := db.Where("reason = ?", enums.AdjustmentReasonRelease).Find(&rows).Error; err != nil {
		t.Fatalf("load adjustments: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two release adjustments, got %d", len(rows))
	}
}

func TestReleaseItemsClampIsNotAnError(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	coord := newTestCoordinator(t, db)
	ctx := context.Background()

	variantID := seedVariant(t, db, 10, 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		results, terr := coord.ReleaseItems(ctx, tx, []LineItem{{VariantID: variantID, Qty: 9}})
		if terr != nil {
			return terr
		}
		if results[0].Released != 2 {
			t.Fatalf("expected clamp to 2, got %+v", results[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("clamped release: %v", err)
	}

	if got := variantState(t, db, variantID); got.ReservedQty != 0 || got.Quantity != 10 {
		t.Fatalf("unexpected state after clamp: %+v", got)
	}
}

func TestReleaseItemsCollectsMissingVariants(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	coord := newTestCoordinator(t, db)
	ctx := context.Background()

	present := seedVariant(t, db, 10, 3)
	missing := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		results, terr := coord.ReleaseItems(ctx, tx, []LineItem{
			{VariantID: present, Qty: 3},
			{VariantID: missing, Qty: 1},
		})
		if terr == nil {
			t.Fatal("expected aggregated error for missing variant")
		}
		// the present variant is still processed
		if len(results) != 1 || results[0].VariantID != present {
			t.Fatalf("expected the present variant to release, got %+v", results)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}
