package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	"github.com/angelmondragon/stockroom-backend/pkg/enums"
	"github.com/angelmondragon/stockroom-backend/pkg/logger"
	"github.com/angelmondragon/stockroom-backend/pkg/metrics"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type lowStockLister interface {
	GetLowStockItems(ctx context.Context) ([]models.InventoryItem, error)
}

type dedupingEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// LowStockJobParams configures the low-stock report job.
type LowStockJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Inventory lowStockLister
	Outbox    dedupingEmitter
	Metrics   *metrics.InventoryMetrics
}

// NewLowStockJob constructs the job that scans tracked variants sitting at or
// below their threshold and queues one warning event per variant.
func NewLowStockJob(params LowStockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &lowStockJob{
		logg:      params.Logger,
		db:        params.DB,
		inventory: params.Inventory,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		now:       time.Now,
	}, nil
}

type lowStockJob struct {
	logg      *logger.Logger
	db        txRunner
	inventory lowStockLister
	outbox    dedupingEmitter
	metrics   *metrics.InventoryMetrics
	now       func() time.Time
}

func (j *lowStockJob) Name() string { return "low-stock-report" }

func (j *lowStockJob) Run(ctx context.Context) error {
	items, err := j.inventory.GetLowStockItems(ctx)
	if err != nil {
		return fmt.Errorf("query low stock items: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetLowStockItems(len(items))
	}

	var errs error
	queued := 0
	for _, item := range items {
		if err := j.warnItem(ctx, item); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("variant %s: %w", item.VariantID, err))
			continue
		}
		queued++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"low_stock_count": len(items),
		"queued":          queued,
	})
	j.logg.Info(logCtx, "low stock report complete")
	return errs
}

func (j *lowStockJob) warnItem(ctx context.Context, item models.InventoryItem) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		event := outbox.DomainEvent{
			EventType:     enums.EventInventoryLowStock,
			AggregateType: enums.AggregateInventoryItem,
			AggregateID:   item.VariantID,
			Version:       1,
			OccurredAt:    j.now().UTC(),
			Data: payloads.LowStockWarningEvent{
				VariantID: item.VariantID,
				Available: item.Available(),
				Threshold: item.LowStockThreshold,
			},
		}
		return j.outbox.EmitIfNotExists(ctx, tx, event)
	})
}
