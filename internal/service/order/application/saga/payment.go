package saga

import (
	"context"

	"github.com/pkg/errors"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/order/domain"
	"eatcloud/internal/service/order/domain/port"
)

// RequestPaymentHandler asks the payment service for a checkout and stores its URL on the order.
type RequestPaymentHandler struct {
	NextHandler
	uow domain.UnitOfWork
}

func NewRequestPaymentHandler(uow domain.UnitOfWork) *RequestPaymentHandler {
	return &RequestPaymentHandler{uow: uow}
}

func (h *RequestPaymentHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := startStep(orderCtx, "RequestPayment")
	defer span.End()

	order := orderCtx.Order
	req := port.PaymentRequest{
		SagaID:     orderCtx.Saga.ID,
		OrderID:    order.ID,
		CustomerID: orderCtx.CustomerID,
		Amount:     order.FinalAmount,
	}
	reply, err := orderCtx.PaymentService.RequestPayment(ctx, req)
	if err != nil {
		return failStep(span, errors.Wrap(err, "request payment"), "payment request call failed")
	}
	if !reply.Success {
		return failStep(span, errs.ErrPaymentRequestFailed.With(reply.ErrorMessage, nil), "payment request rejected")
	}

	payments := orderCtx.PaymentService
	orderCtx.Saga.AddCompensation("Cancel Payment Request", func(ctx context.Context) error {
		reply, err := payments.CancelPaymentRequest(ctx, req)
		if err != nil {
			return err
		}
		if !reply.Success {
			return errors.Errorf("payment request cancel rejected: %s", reply.ErrorMessage)
		}
		return nil
	})

	err = h.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := order.AttachPayment(reply.PaymentURL, orderCtx.now()); err != nil {
			return err
		}
		return tx.Orders().Update(ctx, order)
	})
	if err != nil {
		return failStep(span, errors.Wrap(err, "store payment url"), "failed to save payment url")
	}
	span.AddEvent("payment url stored")

	return h.executeNext(orderCtx)
}
