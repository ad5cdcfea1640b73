package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
	"github.com/angelmondragon/stockroom-backend/pkg/pagination"
)

// casAttempts bounds the clamp retry loop on release paths.
const casAttempts = 5

// Repository owns row-level access to inventory_items and the adjustment log.
// All counter mutations are single conditional UPDATEs checked via
// RowsAffected so concurrent writers can never lose updates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, variantID uuid.UUID) (*models.InventoryItem, error)
	Upsert(ctx context.Context, item *models.InventoryItem) error
	ApplyQuantityDelta(ctx context.Context, variantID uuid.UUID, delta int, touchRestockedAt bool) (*models.InventoryItem, error)
	ApplyReserve(ctx context.Context, variantID uuid.UUID, qty int) (*models.InventoryItem, error)
	ApplyRelease(ctx context.Context, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error)
	ApplySaleConversion(ctx context.Context, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error)
	AppendAdjustment(ctx context.Context, row *models.InventoryAdjustment) error
	ListAdjustments(ctx context.Context, variantID uuid.UUID, filters HistoryFilters, limit int, cursor *pagination.Cursor) ([]models.InventoryAdjustment, error)
	ListLowStock(ctx context.Context) ([]models.InventoryItem, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, variantID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).First(&item, "variant_id = ?", variantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory item")
	}
	return &item, nil
}

func (r *repository) Upsert(ctx context.Context, item *models.InventoryItem) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "variant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"quantity", "reserved_qty", "low_stock_threshold",
				"track_inventory", "allow_backorder", "updated_at",
			}),
		}).
		Create(item).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert inventory item")
	}
	return nil
}

// ApplyQuantityDelta adds delta to quantity guarded against negative stock and
// against dropping quantity below reserved for non-backorder records.
func (r *repository) ApplyQuantityDelta(ctx context.Context, variantID uuid.UUID, delta int, touchRestockedAt bool) (*models.InventoryItem, error) {
	assignments := map[string]any{
		"quantity":   gorm.Expr("quantity + ?", delta),
		"updated_at": time.Now().UTC(),
	}
	if touchRestockedAt {
		assignments["last_restocked_at"] = time.Now().UTC()
	}

	res := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("variant_id = ? AND quantity + ? >= 0 AND (allow_backorder OR quantity + ? >= reserved_qty)", variantID, delta, delta).
		Updates(assignments)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "adjust inventory quantity")
	}
	if res.RowsAffected == 0 {
		item, err := r.Get(ctx, variantID)
		if err != nil {
			return nil, err
		}
		return nil, insufficientStock(variantID, item)
	}
	return r.Get(ctx, variantID)
}

// ApplyReserve moves qty into the reserved pool when the backorder flag or the
// available balance allows it.
func (r *repository) ApplyReserve(ctx context.Context, variantID uuid.UUID, qty int) (*models.InventoryItem, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET reserved_qty = reserved_qty + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ? AND (allow_backorder OR reserved_qty + ? <= quantity)
	`, qty, variantID, qty)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
	}
	if res.RowsAffected == 0 {
		item, err := r.Get(ctx, variantID)
		if err != nil {
			return nil, err
		}
		return nil, insufficientStock(variantID, item)
	}
	return r.Get(ctx, variantID)
}

// ApplyRelease returns qty from the reserved pool, clamping at zero. The
// second return value is the amount actually released.
func (r *repository) ApplyRelease(ctx context.Context, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		item, err := r.Get(ctx, variantID)
		if err != nil {
			return nil, 0, err
		}
		released := qty
		if item.ReservedQty < released {
			released = item.ReservedQty
		}
		if released == 0 {
			return item, 0, nil
		}

		res := r.db.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET reserved_qty = reserved_qty - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE variant_id = ? AND reserved_qty >= ?
		`, released, variantID, released)
		if res.Error != nil {
			return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
		}
		if res.RowsAffected == 1 {
			item, err := r.Get(ctx, variantID)
			if err != nil {
				return nil, 0, err
			}
			return item, released, nil
		}
		// reserved shrank under us; re-read and clamp again
	}
	return nil, 0, pkgerrors.New(pkgerrors.CodeDependency, "release inventory contention")
}

// ApplySaleConversion removes qty from both pools together, clamping against
// the reserved balance. Returns the quantity actually converted.
func (r *repository) ApplySaleConversion(ctx context.Context, variantID uuid.UUID, qty int) (*models.InventoryItem, int, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		item, err := r.Get(ctx, variantID)
		if err != nil {
			return nil, 0, err
		}
		converted := qty
		if item.ReservedQty < converted {
			converted = item.ReservedQty
		}
		if converted > item.Quantity {
			converted = item.Quantity
		}
		if converted == 0 {
			return item, 0, nil
		}

		res := r.db.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET reserved_qty = reserved_qty - ?,
				quantity = quantity - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE variant_id = ? AND reserved_qty >= ? AND quantity >= ?
		`, converted, converted, variantID, converted, converted)
		if res.Error != nil {
			return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "convert reservation to sale")
		}
		if res.RowsAffected == 1 {
			item, err := r.Get(ctx, variantID)
			if err != nil {
				return nil, 0, err
			}
			return item, converted, nil
		}
	}
	return nil, 0, pkgerrors.New(pkgerrors.CodeDependency, "sale conversion contention")
}

func (r *repository) AppendAdjustment(ctx context.Context, row *models.InventoryAdjustment) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append inventory adjustment")
	}
	return nil
}

func (r *repository) ListAdjustments(ctx context.Context, variantID uuid.UUID, filters HistoryFilters, limit int, cursor *pagination.Cursor) ([]models.InventoryAdjustment, error) {
	q := r.db.WithContext(ctx).
		Model(&models.InventoryAdjustment{}).
		Where("variant_id = ?", variantID)

	if filters.Since != nil {
		q = q.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		q = q.Where("created_at <= ?", *filters.Until)
	}
	if filters.Reason != nil {
		q = q.Where("reason = ?", *filters.Reason)
	}
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.InventoryAdjustment
	err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inventory adjustments")
	}
	return rows, nil
}

func (r *repository) ListLowStock(ctx context.Context) ([]models.InventoryItem, error) {
	var rows []models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("track_inventory AND quantity - reserved_qty <= low_stock_threshold").
		Order("variant_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list low stock items")
	}
	return rows, nil
}

func insufficientStock(variantID uuid.UUID, item *models.InventoryItem) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
		WithDetails(map[string]any{
			"variant_id": variantID.String(),
			"available":  item.Available(),
		})
}
