package inventory

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/pkg/db/models"
	"github.com/angelmondragon/stockroom-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockroom-backend/pkg/errors"
	"github.com/angelmondragon/stockroom-backend/pkg/logger"
	"github.com/angelmondragon/stockroom-backend/pkg/metrics"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// AdjustmentWorkflow owns the transaction around a manual or restock
// adjustment: the counter move, the adjustment row, and the outbox event
// commit together or not at all.
type AdjustmentWorkflow struct {
	tx      txRunner
	ledger  Service
	outbox  outboxEmitter
	metrics *metrics.InventoryMetrics
	logg    *logger.Logger
}

// NewAdjustmentWorkflow wires the workflow.
func NewAdjustmentWorkflow(tx txRunner, ledger Service, emitter outboxEmitter, m *metrics.InventoryMetrics, logg *logger.Logger) (*AdjustmentWorkflow, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory service required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	return &AdjustmentWorkflow{
		tx:      tx,
		ledger:  ledger,
		outbox:  emitter,
		metrics: m,
		logg:    logg,
	}, nil
}

// Adjust applies the delta inside its own transaction and queues the
// inventory.adjusted event alongside it.
func (w *AdjustmentWorkflow) Adjust(ctx context.Context, input AdjustInput) (*models.InventoryItem, error) {
	var item *models.InventoryItem
	err := w.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		item, err = w.ledger.AdjustQuantity(ctx, tx, input)
		if err != nil {
			return err
		}

		var actor *outbox.ActorRef
		if input.ActorUserID != nil {
			actor = &outbox.ActorRef{UserID: *input.ActorUserID}
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventInventoryAdjusted,
			AggregateType: enums.AggregateInventoryItem,
			AggregateID:   input.VariantID,
			Actor:         actor,
			Version:       1,
			Data: payloads.StockAdjustedEvent{
				VariantID:         input.VariantID,
				QuantityChange:    input.Delta,
				Reason:            input.Reason,
				ResultingQuantity: item.Quantity,
				ResultingReserved: item.ReservedQty,
			},
		}
		return w.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	w.metrics.IncAdjustment(input.Reason.String())
	if w.logg != nil {
		logCtx := w.logg.WithVariantID(ctx, input.VariantID.String())
		logCtx = w.logg.WithFields(logCtx, map[string]any{
			"delta":  input.Delta,
			"reason": input.Reason.String(),
		})
		w.logg.Info(logCtx, "inventory quantity adjusted")
	}
	return item, nil
}
