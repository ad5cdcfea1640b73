package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockroom-backend/internal/reservation"
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

type reserveWorkflow interface {
	ReserveForOrderWithin(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, items []reservation.LineItem, within func(tx *gorm.DB) error) ([]reservation.ReservationResult, error)
}

// Service drives the slim order state machine that exercises the stock
// coordinators: cancel and refund release reserved stock, ship converts it
// to sales.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, reason string) (*models.Order, error)
	Ship(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error)
	Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Refund(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error)
}

// CreateOrderInput captures a new pending order.
type CreateOrderInput struct {
	ActorUserID *uuid.UUID
	Items       []LineItemInput
}

// LineItemInput is one requested variant/quantity pair.
type LineItemInput struct {
	VariantID uuid.UUID
	Qty       int
}

type service struct {
	repo        Repository
	tx          txRunner
	coordinator *reservation.Coordinator
	workflow    reserveWorkflow
	outbox      outboxEmitter
	metrics     *metrics.InventoryMetrics
	logg        *logger.Logger
}

// NewService wires the orders service.
func NewService(repo Repository, tx txRunner, coordinator *reservation.Coordinator, workflow reserveWorkflow, emitter outboxEmitter, m *metrics.InventoryMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if coordinator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reservation coordinator required")
	}
	if workflow == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reserve workflow required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	return &service{
		repo:        repo,
		tx:          tx,
		coordinator: coordinator,
		workflow:    workflow,
		outbox:      emitter,
		metrics:     m,
		logg:        logg,
	}, nil
}

// CreateOrder persists the order and reserves its stock in one transaction.
// Any reservation failure rolls back the order row too.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}

	lineItems := make([]reservation.LineItem, 0, len(input.Items))
	for _, item := range input.Items {
		lineItems = append(lineItems, reservation.LineItem{VariantID: item.VariantID, Qty: item.Qty})
	}

	orderID := uuid.New()
	var actor *outbox.ActorRef
	if input.ActorUserID != nil {
		actor = &outbox.ActorRef{UserID: *input.ActorUserID}
	}

	_, err := s.workflow.ReserveForOrderWithin(ctx, orderID, actor, lineItems, func(tx *gorm.DB) error {
		order := &models.Order{
			ID:          orderID,
			Status:      enums.OrderStatusPending,
			ActorUserID: input.ActorUserID,
		}
		for _, item := range input.Items {
			order.LineItems = append(order.LineItems, models.OrderLineItem{
				OrderID:   orderID,
				VariantID: item.VariantID,
				Qty:       item.Qty,
			})
		}
		return s.repo.WithTx(tx).Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, orderID)
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.repo.Get(ctx, orderID)
}

// Cancel releases the reserved stock of a pending order. Cancelling an
// already-cancelled order is a no-op.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef, reason string) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled {
			result = order
			return nil
		}
		if order.Status != enums.OrderStatusPending {
			return stateConflict(order.Status, enums.OrderStatusCancelled)
		}

		moved, err := repo.TransitionStatus(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusCancelled, "cancelled_at")
		if err != nil {
			return err
		}
		if !moved {
			// lost the race; reload and treat a completed cancel as idempotent
			order, err = repo.Get(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status == enums.OrderStatusCancelled {
				result = order
				return nil
			}
			return stateConflict(order.Status, enums.OrderStatusCancelled)
		}

		if err := s.releaseLineItems(ctx, tx, order, actor); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor,
			Version:       1,
			Data: payloads.OrderCancelledEvent{
				OrderID:     orderID,
				CancelledAt: time.Now().UTC(),
				Reason:      reason,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result, err = repo.Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Ship converts the order's reservations into sales. It must not release.
func (s *service) Ship(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			return stateConflict(order.Status, enums.OrderStatusShipped)
		}

		moved, err := repo.TransitionStatus(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusShipped, "shipped_at")
		if err != nil {
			return err
		}
		if !moved {
			order, err = repo.Get(ctx, orderID)
			if err != nil {
				return err
			}
			return stateConflict(order.Status, enums.OrderStatusShipped)
		}

		if _, err := s.coordinator.ConvertItemsToSale(ctx, tx, toLineItems(order)); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor,
			Version:       1,
			Data: payloads.OrderShippedEvent{
				OrderID:   orderID,
				ShippedAt: time.Now().UTC(),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result, err = repo.Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deliver marks a shipped order as delivered. No stock movement.
func (s *service) Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, err := repo.TransitionStatus(ctx, orderID, enums.OrderStatusShipped, enums.OrderStatusDelivered, "")
		if err != nil {
			return err
		}
		order, err := repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !moved && order.Status != enums.OrderStatusDelivered {
			return stateConflict(order.Status, enums.OrderStatusDelivered)
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund releases whatever is still reserved for the order. Stock already
// converted to sales by Ship clamps to a zero release, so refunding a shipped
// order adjusts nothing.
func (s *service) Refund(ctx context.Context, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusRefunded {
			result = order
			return nil
		}
		if order.Status != enums.OrderStatusShipped && order.Status != enums.OrderStatusDelivered {
			return stateConflict(order.Status, enums.OrderStatusRefunded)
		}

		moved, err := repo.TransitionStatus(ctx, orderID, order.Status, enums.OrderStatusRefunded, "refunded_at")
		if err != nil {
			return err
		}
		if !moved {
			order, err = repo.Get(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status == enums.OrderStatusRefunded {
				result = order
				return nil
			}
			return stateConflict(order.Status, enums.OrderStatusRefunded)
		}

		if err := s.releaseLineItems(ctx, tx, order, actor); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor,
			Version:       1,
			Data: payloads.OrderRefundedEvent{
				OrderID:    orderID,
				RefundedAt: time.Now().UTC(),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result, err = repo.Get(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) releaseLineItems(ctx context.Context, tx *gorm.DB, order *models.Order, actor *outbox.ActorRef) error {
	results, err := s.coordinator.ReleaseItems(ctx, tx, toLineItems(order))
	if err != nil {
		s.metrics.IncRelease("error")
		return err
	}
	for _, result := range results {
		if result.Released == 0 {
			s.metrics.IncRelease("clamped")
			continue
		}
		s.metrics.IncRelease("released")
		event := outbox.DomainEvent{
			EventType:     enums.EventInventoryReleased,
			AggregateType: enums.AggregateInventoryItem,
			AggregateID:   result.VariantID,
			Actor:         actor,
			Version:       1,
			Data: payloads.StockReleasedEvent{
				VariantID: result.VariantID,
				OrderID:   &order.ID,
				Qty:       result.Released,
				Available: result.Available,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func toLineItems(order *models.Order) []reservation.LineItem {
	items := make([]reservation.LineItem, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		items = append(items, reservation.LineItem{VariantID: item.VariantID, Qty: item.Qty})
	}
	return items
}

func stateConflict(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order state transition disallowed").
		WithDetails(map[string]any{
			"current_status": from.String(),
			"target_status":  to.String(),
		})
}
