package saga

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/order/domain/port"
)

// ReservePointsHandler holds the points the customer spends on the order. It is
// skipped when no points are used.
type ReservePointsHandler struct {
	NextHandler
}

func (h *ReservePointsHandler) Handle(orderCtx *OrderContext) error {
	if orderCtx.PointsToUse <= 0 {
		return h.executeNext(orderCtx)
	}
	ctx, span := startStep(orderCtx, "ReservePoints")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.points", orderCtx.PointsToUse))

	req := port.PointRequest{
		SagaID:     orderCtx.Saga.ID,
		OrderID:    orderCtx.Order.ID,
		CustomerID: orderCtx.CustomerID,
		Points:     orderCtx.PointsToUse,
	}
	reply, err := orderCtx.PointService.ReservePoints(ctx, req)
	if err != nil {
		return failStep(span, errors.Wrap(err, "reserve points"), "point reservation call failed")
	}
	if !reply.Success {
		return failStep(span, errs.ErrInsufficientPoints.With(reply.ErrorMessage, nil), "point reservation rejected")
	}
	orderCtx.PointReservationID = reply.ReservationID

	points := orderCtx.PointService
	orderCtx.Saga.AddCompensation("Cancel Point Reservation", func(ctx context.Context) error {
		reply, err := points.CancelReservation(ctx, req)
		if err != nil {
			return err
		}
		if !reply.Success {
			return errors.Errorf("point reservation cancel rejected: %s", reply.ErrorMessage)
		}
		return nil
	})

	return h.executeNext(orderCtx)
}
