package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/service/order/domain"
	"eatcloud/internal/service/order/domain/port"
)

const ReasonStockInsufficient = "STOCK_INSUFFICIENT"

// CompensationService undoes an order after its saga finished, when the store reports
// that a line could not be reserved.
type CompensationService struct {
	uow     domain.UnitOfWork
	cancels port.CancelEmitter
	now     func() time.Time
	newID   func() string
}

func NewCompensationService(uow domain.UnitOfWork, cancels port.CancelEmitter) *CompensationService {
	return &CompensationService{uow: uow, cancels: cancels, now: time.Now, newID: uuid.NewString}
}

// CompensateForStockShortage cancels the order once per event id. The point and payment
// cancel requests are sent after the cancellation committed and are not awaited.
func (s *CompensationService) CompensateForStockShortage(ctx context.Context, eventID, orderID, reason string) error {
	if reason == "" {
		reason = ReasonStockInsufficient
	}
	log := logger.Ctx(ctx).With().Str("order_id", orderID).Str("event_id", eventID).Logger()
	now := s.now().UTC()

	var cancelled *domain.Order
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if eventID != "" {
			done, err := tx.Markers().Processed(ctx, eventID)
			if err != nil || done {
				return err
			}
		}
		mark := func() error {
			if eventID == "" {
				return nil
			}
			return tx.Markers().MarkProcessed(ctx, eventID, now)
		}

		order, err := tx.Orders().FindByID(ctx, orderID)
		if errors.Is(err, errs.ErrNotFound) {
			log.Warn().Msg("stock shortage for unknown order, skipped")
			return mark()
		}
		if err != nil {
			return err
		}
		if !order.Status.CanMoveTo(domain.StatusCancelled) {
			log.Info().Str("status", string(order.Status)).Msg("order already finalized, no compensation")
			return mark()
		}
		if _, err := order.Cancel(reason, now); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, order); err != nil {
			return err
		}
		if err := tx.Outbox().Record(ctx, domain.CancelledMessage(order, now, "", "")); err != nil {
			return err
		}
		cancelled = order
		return mark()
	})
	if err != nil {
		return errors.Wrapf(err, "compensate order %s", orderID)
	}
	if cancelled == nil {
		return nil
	}
	log.Info().Str("reason", reason).Msg("order cancelled for stock shortage")

	// each cancel request carries a fresh saga id, the creating saga has finished
	if cancelled.PointsToUse > 0 {
		req := port.PointRequest{SagaID: s.newID(), OrderID: cancelled.ID, CustomerID: cancelled.CustomerID, Points: cancelled.PointsToUse}
		if err := s.cancels.EmitPointCancel(ctx, req); err != nil {
			log.Error().Err(err).Str("action", "MANUAL_INTERVENTION_REQUIRED").Msg("emit point reservation cancel")
		}
	}
	req := port.PaymentRequest{SagaID: s.newID(), OrderID: cancelled.ID, CustomerID: cancelled.CustomerID, Amount: cancelled.FinalAmount}
	if err := s.cancels.EmitPaymentCancel(ctx, req); err != nil {
		log.Error().Err(err).Str("action", "MANUAL_INTERVENTION_REQUIRED").Msg("emit payment request cancel")
	}
	return nil
}
