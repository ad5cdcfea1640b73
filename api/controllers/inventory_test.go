package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/internal/inventory"
	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox"
	"github.com/angelmondragon/stockroom-backend/pkg/types"
)

type fakeInventoryService struct {
	upsertInput  *inventory.UpsertItemInput
	adjustInput  *inventory.AdjustInput
	availability *inventory.Availability
	err          error
}

func (f *fakeInventoryService) UpsertItem(_ context.Context, input inventory.UpsertItemInput) (*models.InventoryItem, error) {
	f.upsertInput = &input
	if f.err != nil {
		return nil, f.err
	}
	return &models.InventoryItem{VariantID: input.VariantID, Quantity: input.Quantity}, nil
}

func (f *fakeInventoryService) AdjustQuantity(_ context.Context, _ *gorm.DB, input inventory.AdjustInput) (*models.InventoryItem, error) {
	f.adjustInput = &input
	if f.err != nil {
		return nil, f.err
	}
	return &models.InventoryItem{VariantID: input.VariantID}, nil
}

func (f *fakeInventoryService) Adjust(ctx context.Context, input inventory.AdjustInput) (*models.InventoryItem, error) {
	return f.AdjustQuantity(ctx, nil, input)
}

func (f *fakeInventoryService) Reserve(context.Context, *gorm.DB, uuid.UUID, int) (*models.InventoryItem, error) {
	panic("not used")
}

func (f *fakeInventoryService) Release(context.Context, *gorm.DB, uuid.UUID, int) (*models.InventoryItem, int, error) {
	panic("not used")
}

func (f *fakeInventoryService) ConvertReservationToSale(context.Context, *gorm.DB, uuid.UUID, int) (*models.InventoryItem, int, error) {
	panic("not used")
}

func (f *fakeInventoryService) GetAvailability(context.Context, uuid.UUID) (*inventory.Availability, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.availability, nil
}

func (f *fakeInventoryService) GetHistory(context.Context, uuid.UUID, inventory.HistoryFilters, inventory.HistoryParams) (*inventory.HistoryPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &inventory.HistoryPage{}, nil
}

func (f *fakeInventoryService) GetLowStockItems(context.Context) ([]models.InventoryItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func newInventoryRouter(svc *fakeInventoryService) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Get("/low-stock", LowStockReport(svc, nil))
		r.Route("/{variantId}", func(r chi.Router) {
			r.Put("/", UpsertInventoryItem(svc, nil))
			r.Get("/", InventoryAvailability(svc, nil))
			r.Post("/adjust", AdjustInventory(svc, nil))
			r.Get("/history", InventoryHistory(svc, nil))
		})
	})
	return r
}

func TestUpsertInventoryItem(t *testing.T) {
	svc := &fakeInventoryService{}
	router := newInventoryRouter(svc)
	variantID := uuid.New()

	body := bytes.NewBufferString(`{"quantity":10,"low_stock_threshold":2,"track_inventory":true}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/inventory/"+variantID.String(), body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.upsertInput == nil || svc.upsertInput.VariantID != variantID || svc.upsertInput.Quantity != 10 {
		t.Fatalf("unexpected input: %+v", svc.upsertInput)
	}
	if !svc.upsertInput.TrackInventory || svc.upsertInput.AllowBackorder {
		t.Fatalf("flags not mapped: %+v", svc.upsertInput)
	}
}

func TestUpsertInventoryItemRejectsBadVariantID(t *testing.T) {
	router := newInventoryRouter(&fakeInventoryService{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/inventory/not-a-uuid", bytes.NewBufferString(`{"quantity":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdjustInventoryRejectsUnknownReason(t *testing.T) {
	svc := &fakeInventoryService{}
	router := newInventoryRouter(svc)
	variantID := uuid.New()

	body := bytes.NewBufferString(`{"delta":5,"reason":"theft"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/"+variantID.String()+"/adjust", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.adjustInput != nil {
		t.Fatalf("service must not be called on validation failure")
	}
}

func TestAdjustInventoryPassesDeltaAndReason(t *testing.T) {
	svc := &fakeInventoryService{}
	router := newInventoryRouter(svc)
	variantID := uuid.New()

	body := bytes.NewBufferString(`{"delta":-3,"reason":"manual","notes":"cycle count"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/"+variantID.String()+"/adjust", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.adjustInput == nil || svc.adjustInput.Delta != -3 || string(svc.adjustInput.Reason) != "manual" {
		t.Fatalf("unexpected input: %+v", svc.adjustInput)
	}
	if svc.adjustInput.Notes == nil || *svc.adjustInput.Notes != "cycle count" {
		t.Fatalf("notes not mapped: %+v", svc.adjustInput)
	}
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// Drives the adjust route through the real service and workflow rather than
// the fake, so the handler-to-transaction wiring is covered end to end.
func TestAdjustInventoryAgainstRealService(t *testing.T) {
	dsn := "file:controllers_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryItem{}, &models.InventoryAdjustment{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc, err := inventory.NewService(inventory.NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	emitter := outbox.NewService(outbox.NewRepository(db), nil)
	workflow, err := inventory.NewAdjustmentWorkflow(gormTxRunner{db: db}, svc, emitter, nil, nil)
	if err != nil {
		t.Fatalf("new workflow: %v", err)
	}

	variantID := uuid.New()
	item := models.InventoryItem{VariantID: variantID, Quantity: 10, TrackInventory: true}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	r := chi.NewRouter()
	r.Post("/api/v1/inventory/{variantId}/adjust", AdjustInventory(workflow, nil))

	body := bytes.NewBufferString(`{"delta":50,"reason":"restock"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/"+variantID.String()+"/adjust", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got models.InventoryItem
	if err := db.Where("variant_id = ?", variantID).First(&got).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Quantity != 60 {
		t.Fatalf("expected quantity 60, got %d", got.Quantity)
	}

	var adjustments []models.InventoryAdjustment
	if err := db.Where("variant_id = ?", variantID).Find(&adjustments).Error; err != nil {
		t.Fatalf("load adjustments: %v", err)
	}
	if len(adjustments) != 1 {
		t.Fatalf("expected 1 adjustment row, got %d", len(adjustments))
	}
	if adjustments[0].QuantityChange != 50 || adjustments[0].ResultingQuantity != 60 {
		t.Fatalf("unexpected adjustment row: %+v", adjustments[0])
	}

	var events []models.OutboxEvent
	if err := db.Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 outbox event, got %d", len(events))
	}
}

func TestInventoryAvailabilityNotFound(t *testing.T) {
	svc := &fakeInventoryService{err: pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")}
	router := newInventoryRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected error code %s", envelope.Error.Code)
	}
}

func TestInventoryHistoryRejectsBadLimit(t *testing.T) {
	router := newInventoryRouter(&fakeInventoryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory/"+uuid.NewString()+"/history?limit=9999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
