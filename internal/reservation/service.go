package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/pkg/config"
	dbpkg "github.com/angelmondragon/stockroom-backend/pkg/db"
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

// Service runs the reserve-for-order workflow: one transaction per attempt,
// bounded retries on transaction conflicts, outbox events on success.
type Service struct {
	tx          txRunner
	coordinator *Coordinator
	outbox      outboxEmitter
	metrics     *metrics.InventoryMetrics
	logg        *logger.Logger
	cfg         config.InventoryConfig
}

// NewService wires the workflow service.
func NewService(tx txRunner, coordinator *Coordinator, emitter outboxEmitter, m *metrics.InventoryMetrics, logg *logger.Logger, cfg config.InventoryConfig) (*Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if coordinator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reservation coordinator required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	return &Service{
		tx:          tx,
		coordinator: coordinator,
		outbox:      emitter,
		metrics:     m,
		logg:        logg,
		cfg:         cfg,
	}, nil
}

// ReserveForOrder reserves every line item all-or-nothing. Serialization and
// deadlock failures are retried with a short delay; business failures
// (insufficient stock, validation) surface immediately.
func (s *Service) ReserveForOrder(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, items []LineItem) ([]ReservationResult, error) {
	return s.ReserveForOrderWithin(ctx, orderID, actor, items, nil)
}

// ReserveForOrderWithin additionally runs `within` inside each attempt's
// transaction before reserving, so callers can persist order rows atomically
// with the reservation. Retried attempts replay the step after rollback.
func (s *Service) ReserveForOrderWithin(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, items []LineItem, within func(tx *gorm.DB) error) ([]ReservationResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	maxAttempts := s.cfg.MaxReserveRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retryDelay := s.cfg.ReserveRetryDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var results []ReservationResult
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if within != nil {
				if err := within(tx); err != nil {
					return err
				}
			}
			reserved, err := s.coordinator.ReserveItems(ctx, tx, items)
			if err != nil {
				return err
			}
			for _, result := range reserved {
				event := outbox.DomainEvent{
					EventType:     enums.EventInventoryReserved,
					AggregateType: enums.AggregateInventoryItem,
					AggregateID:   result.VariantID,
					Actor:         actor,
					Version:       1,
					Data: payloads.StockReservedEvent{
						VariantID: result.VariantID,
						OrderID:   &orderID,
						Qty:       result.Qty,
						Available: result.Available,
					},
				}
				if err := s.outbox.Emit(ctx, tx, event); err != nil {
					return err
				}
			}
			results = reserved
			return nil
		})
		if err == nil {
			s.metrics.IncReservation("reserved")
			return results, nil
		}

		if !dbpkg.IsSerializationFailure(err) {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
				s.metrics.IncReservation("insufficient_stock")
			} else {
				s.metrics.IncReservation("error")
			}
			return nil, err
		}

		lastErr = err
		s.metrics.IncConflictRetry()
		if s.logg != nil {
			attemptCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id": orderID.String(),
				"attempt":  attempt,
			})
			s.logg.Warn(attemptCtx, "reservation transaction conflict, retrying")
		}
		if attempt < maxAttempts && retryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	s.metrics.IncReservation("conflict_exhausted")
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "reservation retries exhausted")
}
