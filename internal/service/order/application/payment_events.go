package application

import (
	"context"
	"time"

	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/service/order/domain"
)

// PaymentOutcomeService applies the payment provider's final verdict to an order.
type PaymentOutcomeService struct {
	uow domain.UnitOfWork
	now func() time.Time
}

func NewPaymentOutcomeService(uow domain.UnitOfWork) *PaymentOutcomeService {
	return &PaymentOutcomeService{uow: uow, now: time.Now}
}

// Completed marks the order PAID. A redelivered completion is a no-op.
func (s *PaymentOutcomeService) Completed(ctx context.Context, orderID, paymentID string) error {
	return s.apply(ctx, orderID, "paid", func(o *domain.Order, now time.Time) (bool, error) {
		return o.MarkPaid(now)
	}, paymentID)
}

// Failed marks the order PAYMENT_FAILED.
func (s *PaymentOutcomeService) Failed(ctx context.Context, orderID, reason string) error {
	return s.apply(ctx, orderID, "payment failed", func(o *domain.Order, now time.Time) (bool, error) {
		return o.MarkPaymentFailed(now)
	}, reason)
}

func (s *PaymentOutcomeService) apply(ctx context.Context, orderID, what string, move func(*domain.Order, time.Time) (bool, error), detail string) error {
	changed := false
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		changed, err = move(order, s.now().UTC())
		if err != nil || !changed {
			return err
		}
		return tx.Orders().Update(ctx, order)
	})
	if err != nil {
		return err
	}
	if changed {
		logger.Ctx(ctx).Info().Str("order_id", orderID).Str("detail", detail).Msgf("order marked %s", what)
	}
	return nil
}
