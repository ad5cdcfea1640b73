package reservation

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
)

// LineItem is one variant/quantity pair from an order.
type LineItem struct {
	VariantID uuid.UUID
	Qty       int
}

// ReservationResult reports the post-reserve state for one distinct variant.
type ReservationResult struct {
	VariantID uuid.UUID
	Qty       int
	Available int
}

// ReleaseResult reports how much stock actually returned per distinct variant.
type ReleaseResult struct {
	VariantID uuid.UUID
	Requested int
	Released  int
	Available int
}

// Coordinator batches order line items into ledger calls. It owns no
// transaction: callers pass their own tx so a failure rolls back every
// reservation made before it.
type Coordinator struct {
	ledger inventory.Service
}

// NewCoordinator wires the coordinator with the stock ledger.
func NewCoordinator(ledger inventory.Service) (*Coordinator, error) {
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory ledger required")
	}
	return &Coordinator{ledger: ledger}, nil
}

// ReserveItems reserves every line item inside the caller's transaction.
// Duplicate variants are merged by summing and variants are processed in
// sorted order so concurrent batches cannot deadlock each other. The first
// failure aborts the batch; the enclosing rollback undoes prior reservations.
func (c *Coordinator) ReserveItems(ctx context.Context, tx *gorm.DB, items []LineItem) ([]ReservationResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for batch reserve")
	}
	merged, err := mergeLineItems(items)
	if err != nil {
		return nil, err
	}

	results := make([]ReservationResult, 0, len(merged))
	for _, item := range merged {
		updated, err := c.ledger.Reserve(ctx, tx, item.VariantID, item.Qty)
		if err != nil {
			return nil, annotateVariant(err, item.VariantID)
		}
		results = append(results, ReservationResult{
			VariantID: item.VariantID,
			Qty:       item.Qty,
			Available: updated.Available(),
		})
	}
	return results, nil
}

// ReleaseItems returns reserved stock for every line item. Over-release
// clamps at zero and is never an error; dependency failures are collected
// across items so one broken variant does not hide the rest.
func (c *Coordinator) ReleaseItems(ctx context.Context, tx *gorm.DB, items []LineItem) ([]ReleaseResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for batch release")
	}
	merged, err := mergeLineItems(items)
	if err != nil {
		return nil, err
	}

	var errs error
	results := make([]ReleaseResult, 0, len(merged))
	for _, item := range merged {
		updated, released, err := c.ledger.Release(ctx, tx, item.VariantID, item.Qty)
		if err != nil {
			errs = multierr.Append(errs, annotateVariant(err, item.VariantID))
			continue
		}
		results = append(results, ReleaseResult{
			VariantID: item.VariantID,
			Requested: item.Qty,
			Released:  released,
			Available: updated.Available(),
		})
	}
	if errs != nil {
		return results, errs
	}
	return results, nil
}

// SaleResult reports how much reserved stock was converted per variant.
type SaleResult struct {
	VariantID uuid.UUID
	Requested int
	Converted int
}

// ConvertItemsToSale finalizes shipped line items: reserved stock leaves both
// pools. Clamps like release; conversion of already-settled stock is a no-op.
func (c *Coordinator) ConvertItemsToSale(ctx context.Context, tx *gorm.DB, items []LineItem) ([]SaleResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for sale conversion")
	}
	merged, err := mergeLineItems(items)
	if err != nil {
		return nil, err
	}

	results := make([]SaleResult, 0, len(merged))
	for _, item := range merged {
		_, converted, err := c.ledger.ConvertReservationToSale(ctx, tx, item.VariantID, item.Qty)
		if err != nil {
			return nil, annotateVariant(err, item.VariantID)
		}
		results = append(results, SaleResult{
			VariantID: item.VariantID,
			Requested: item.Qty,
			Converted: converted,
		})
	}
	return results, nil
}

// mergeLineItems validates quantities, sums duplicates, and orders variants
// deterministically.
func mergeLineItems(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}

	byVariant := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.VariantID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item quantity must be positive").
				WithDetails(map[string]any{"variant_id": item.VariantID.String()})
		}
		byVariant[item.VariantID] += item.Qty
	}

	merged := make([]LineItem, 0, len(byVariant))
	for variantID, qty := range byVariant {
		merged = append(merged, LineItem{VariantID: variantID, Qty: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].VariantID.String() < merged[j].VariantID.String()
	})
	return merged, nil
}

func annotateVariant(err error, variantID uuid.UUID) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	if _, ok := typed.Details().(map[string]any); ok {
		return err
	}
	return typed.WithDetails(map[string]any{"variant_id": variantID.String()})
}
