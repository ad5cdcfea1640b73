package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	"github.com/angelmondragon/stockroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
)

// Service is the stock ledger: the only component allowed to mutate the
// quantity/reserved counters or append to the adjustment log.
type Service interface {
	UpsertItem(ctx context.Context, input UpsertItemInput) (*models.InventoryItem, error)
	AdjustQuantity(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.InventoryItem, error)
	Reserve(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) (*models.InventoryItem, error)
	Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error)
	ConvertReservationToSale(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error)
	GetAvailability(ctx context.Context, variantID uuid.UUID) (*Availability, error)
	GetHistory(ctx context.Context, variantID uuid.UUID, filters HistoryFilters, params HistoryParams) (*HistoryPage, error)
	GetLowStockItems(ctx context.Context) ([]models.InventoryItem, error)
}

// UpsertItemInput creates or replaces an inventory record (admin surface).
type UpsertItemInput struct {
	VariantID         uuid.UUID
	Quantity          int
	ReservedQty       int
	LowStockThreshold int
	TrackInventory    bool
	AllowBackorder    bool
}

// AdjustInput captures a manual or restock quantity change.
type AdjustInput struct {
	VariantID   uuid.UUID
	Delta       int
	Reason      enums.AdjustmentReason
	ActorUserID *uuid.UUID
	Notes       *string
}

// Availability is the read-committed snapshot exposed to callers.
type Availability struct {
	VariantID       uuid.UUID  `json:"variant_id"`
	Quantity        int        `json:"quantity"`
	Reserved        int        `json:"reserved"`
	Available       int        `json:"available"`
	TrackInventory  bool       `json:"track_inventory"`
	AllowBackorder  bool       `json:"allow_backorder"`
	LastRestockedAt *time.Time `json:"last_restocked_at,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires the ledger service with its repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) UpsertItem(ctx context.Context, input UpsertItemInput) (*models.InventoryItem, error) {
	if input.VariantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if input.Quantity < 0 || input.ReservedQty < 0 || input.LowStockThreshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "counters must not be negative")
	}
	if input.TrackInventory && !input.AllowBackorder && input.ReservedQty > input.Quantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reserved quantity exceeds stock")
	}

	item := &models.InventoryItem{
		VariantID:         input.VariantID,
		Quantity:          input.Quantity,
		ReservedQty:       input.ReservedQty,
		LowStockThreshold: input.LowStockThreshold,
		TrackInventory:    input.TrackInventory,
		AllowBackorder:    input.AllowBackorder,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.repo.Upsert(ctx, item); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, input.VariantID)
}

// AdjustQuantity applies a signed delta inside the caller's transaction and
// appends one adjustment row carrying the post-mutation snapshot.
func (s *service) AdjustQuantity(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.InventoryItem, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory adjustment")
	}
	if input.VariantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must not be zero")
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid adjustment reason")
	}

	repo := s.repo.WithTx(tx)

	// every real quantity move is logged, tracked or not; tracking only
	// gates the reservation paths
	touchRestockedAt := input.Delta > 0 && input.Reason == enums.AdjustmentReasonRestock
	item, err := repo.ApplyQuantityDelta(ctx, input.VariantID, input.Delta, touchRestockedAt)
	if err != nil {
		return nil, err
	}

	row := &models.InventoryAdjustment{
		VariantID:         input.VariantID,
		QuantityChange:    input.Delta,
		Reason:            input.Reason,
		ActorUserID:       input.ActorUserID,
		Notes:             input.Notes,
		ResultingQuantity: item.Quantity,
		ResultingReserved: item.ReservedQty,
	}
	if err := repo.AppendAdjustment(ctx, row); err != nil {
		return nil, err
	}
	return item, nil
}

// Reserve moves qty into the reserved pool. Untracked variants succeed
// without touching state.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) (*models.InventoryItem, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reserve")
	}
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reserve quantity must be positive")
	}

	repo := s.repo.WithTx(tx)

	current, err := repo.Get(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if !current.TrackInventory {
		return current, nil
	}

	item, err := repo.ApplyReserve(ctx, variantID, qty)
	if err != nil {
		return nil, err
	}

	row := &models.InventoryAdjustment{
		VariantID:         variantID,
		QuantityChange:    -qty,
		Reason:            enums.AdjustmentReasonReserve,
		ResultingQuantity: item.Quantity,
		ResultingReserved: item.ReservedQty,
	}
	if err := repo.AppendAdjustment(ctx, row); err != nil {
		return nil, err
	}
	return item, nil
}

// Release returns reserved stock, clamping at zero. Releasing more than is
// reserved is not an error; the returned int is the amount actually released.
func (s *service) Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error) {
	if tx == nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory release")
	}
	if variantID == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if qty <= 0 {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "release quantity must be positive")
	}

	repo := s.repo.WithTx(tx)

	current, err := repo.Get(ctx, variantID)
	if err != nil {
		return nil, 0, err
	}
	if !current.TrackInventory {
		return current, 0, nil
	}

	item, released, err := repo.ApplyRelease(ctx, variantID, qty)
	if err != nil {
		return nil, 0, err
	}
	if released == 0 {
		return item, 0, nil
	}

	row := &models.InventoryAdjustment{
		VariantID:         variantID,
		QuantityChange:    released,
		Reason:            enums.AdjustmentReasonRelease,
		ResultingQuantity: item.Quantity,
		ResultingReserved: item.ReservedQty,
	}
	if err := repo.AppendAdjustment(ctx, row); err != nil {
		return nil, 0, err
	}
	return item, released, nil
}

// ConvertReservationToSale finalizes shipped stock: reserved and quantity
// drop together so the sold units leave both pools.
func (s *service) ConvertReservationToSale(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error) {
	if tx == nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for sale conversion")
	}
	if variantID == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if qty <= 0 {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "sale quantity must be positive")
	}

	repo := s.repo.WithTx(tx)

	current, err := repo.Get(ctx, variantID)
	if err != nil {
		return nil, 0, err
	}
	if !current.TrackInventory {
		return current, 0, nil
	}

	item, converted, err := repo.ApplySaleConversion(ctx, variantID, qty)
	if err != nil {
		return nil, 0, err
	}
	if converted == 0 {
		return item, 0, nil
	}

	row := &models.InventoryAdjustment{
		VariantID:         variantID,
		QuantityChange:    -converted,
		Reason:            enums.AdjustmentReasonSale,
		ResultingQuantity: item.Quantity,
		ResultingReserved: item.ReservedQty,
	}
	if err := repo.AppendAdjustment(ctx, row); err != nil {
		return nil, 0, err
	}
	return item, converted, nil
}

func (s *service) GetAvailability(ctx context.Context, variantID uuid.UUID) (*Availability, error) {
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	item, err := s.repo.Get(ctx, variantID)
	if err != nil {
		return nil, err
	}
	return &Availability{
		VariantID:       item.VariantID,
		Quantity:        item.Quantity,
		Reserved:        item.ReservedQty,
		Available:       item.Available(),
		TrackInventory:  item.TrackInventory,
		AllowBackorder:  item.AllowBackorder,
		LastRestockedAt: item.LastRestockedAt,
	}, nil
}

func (s *service) GetLowStockItems(ctx context.Context) ([]models.InventoryItem, error) {
	return s.repo.ListLowStock(ctx)
}
