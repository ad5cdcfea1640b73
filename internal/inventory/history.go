package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	"github.com/angelmondragon/stockroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
	"github.com/angelmondragon/stockroom-backend/pkg/pagination"
)

// HistoryFilters narrows the adjustment log query.
type HistoryFilters struct {
	Since  *time.Time
	Until  *time.Time
	Reason *enums.AdjustmentReason
}

// HistoryParams carries pagination inputs for the history read surface.
type HistoryParams struct {
	Limit  int
	Cursor string
}

// HistoryPage is one descending page of the adjustment log.
type HistoryPage struct {
	Items      []models.InventoryAdjustment `json:"items"`
	NextCursor string                       `json:"next_cursor,omitempty"`
}

// GetHistory reads the append-only adjustment log newest-first.
func (s *service) GetHistory(ctx context.Context, variantID uuid.UUID, filters HistoryFilters, params HistoryParams) (*HistoryPage, error) {
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if filters.Reason != nil && !filters.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid adjustment reason filter")
	}
	if filters.Since != nil && filters.Until != nil && filters.Since.After(*filters.Until) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "since must not be after until")
	}

	// existence check keeps missing variants a 404 instead of an empty page
	if _, err := s.repo.Get(ctx, variantID); err != nil {
		return nil, err
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid history cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListAdjustments(ctx, variantID, filters, limit+1, cursor)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}
