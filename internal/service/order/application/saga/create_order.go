package saga

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/service/order/domain"
)

const ReasonSagaCompensation = "SAGA_COMPENSATION"

// CreateOrderHandler persists the PENDING order together with its OrderCreatedEvent.
type CreateOrderHandler struct {
	NextHandler
	uow domain.UnitOfWork
}

func NewCreateOrderHandler(uow domain.UnitOfWork) *CreateOrderHandler {
	return &CreateOrderHandler{uow: uow}
}

func (h *CreateOrderHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := startStep(orderCtx, "CreateOrder")
	defer span.End()

	order, err := domain.NewOrder(orderCtx.CustomerID, orderCtx.StoreID, orderCtx.Lines, orderCtx.PointsToUse, orderCtx.now())
	if err != nil {
		return failStep(span, err, "invalid order")
	}
	err = h.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		return tx.Outbox().Record(ctx, domain.CreatedMessage(order, orderCtx.TraceID(), orderCtx.Saga.ID))
	})
	if err != nil {
		return failStep(span, errors.Wrap(err, "persist pending order"), "failed to save order")
	}
	orderCtx.Order = order
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	span.AddEvent("pending order saved with OrderCreatedEvent")

	sagaID := orderCtx.Saga.ID
	orderCtx.Saga.AddCompensation("Cancel Order", func(ctx context.Context) error {
		_, err := CancelOrder(ctx, h.uow, order.ID, ReasonSagaCompensation, sagaID, orderCtx.now())
		return err
	})

	return h.executeNext(orderCtx)
}

// CancelOrder cancels the order and records OrderCancelledEvent in one transaction.
// A cancelled order is left alone and reported as unchanged.
func CancelOrder(ctx context.Context, uow domain.UnitOfWork, orderID, reason, sagaID string, now time.Time) (*domain.Order, error) {
	var cancelled *domain.Order
	err := uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		changed, err := order.Cancel(reason, now)
		if err != nil || !changed {
			return err
		}
		if err := tx.Orders().Update(ctx, order); err != nil {
			return err
		}
		cancelled = order
		return tx.Outbox().Record(ctx, domain.CancelledMessage(order, now, "", sagaID))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cancel order %s", orderID)
	}
	if cancelled != nil {
		logger.Ctx(ctx).Info().Str("order_id", orderID).Str("reason", reason).Str("saga_id", sagaID).Msg("order cancelled")
	}
	return cancelled, nil
}
