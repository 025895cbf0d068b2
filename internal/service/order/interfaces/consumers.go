package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/mq"
	"eatcloud/internal/service/order/application"
)

// StockShortageHandler compensates orders the store could not fully reserve.
// Every other stock event is ignored here.
func StockShortageHandler(svc *application.CompensationService) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := outbox.ParseEnvelope(msg.Value)
		if err != nil {
			return mq.Permanent(err)
		}
		if env.EventType != outbox.TypeStockInsufficient {
			return nil
		}
		p, err := env.Decode()
		if err != nil {
			return mq.Permanent(err)
		}
		short := p.(outbox.StockInsufficient)
		if short.OrderID == "" {
			logger.Ctx(ctx).Warn().Str("event_id", env.ID).Msg("stock shortage without order id, skipped")
			return nil
		}
		logger.Ctx(ctx).Info().
			Str("order_id", short.OrderID).
			Str("menu_id", short.MenuID).
			Int64("requested", short.RequestedQty).
			Msg("stock shortage reported")
		return svc.CompensateForStockShortage(ctx, env.ID, short.OrderID, application.ReasonStockInsufficient)
	}
}

// PaymentCompletedEvent is published by the payment service once the customer paid.
type PaymentCompletedEvent struct {
	PaymentID   string    `json:"paymentId"`
	OrderID     string    `json:"orderId"`
	CustomerID  string    `json:"customerId"`
	Amount      int64     `json:"amount"`
	PointsUsed  int64     `json:"pointsUsed"`
	CompletedAt time.Time `json:"completedAt"`
}

type PaymentFailedEvent struct {
	OrderID       string `json:"orderId"`
	CustomerID    string `json:"customerId"`
	FailureReason string `json:"failureReason"`
}

func decodeJSON[T any](msg kafka.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Value, &v); err != nil {
		return v, mq.Permanent(errors.Wrapf(err, "decode %s", msg.Topic))
	}
	return v, nil
}

func PaymentCompletedHandler(svc *application.PaymentOutcomeService) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		ev, err := decodeJSON[PaymentCompletedEvent](msg)
		if err != nil {
			return err
		}
		return svc.Completed(ctx, ev.OrderID, ev.PaymentID)
	}
}

func PaymentFailedHandler(svc *application.PaymentOutcomeService) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		ev, err := decodeJSON[PaymentFailedEvent](msg)
		if err != nil {
			return err
		}
		return svc.Failed(ctx, ev.OrderID, ev.FailureReason)
	}
}
