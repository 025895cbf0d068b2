package interfaces

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/mq"
	"eatcloud/internal/service/store/application"
)

// envelopeOf parses a message value; a malformed value can never succeed on retry.
func envelopeOf(msg kafka.Message) (outbox.Envelope, outbox.Payload, error) {
	env, err := outbox.ParseEnvelope(msg.Value)
	if err != nil {
		return env, nil, mq.Permanent(err)
	}
	p, err := env.Decode()
	if err != nil {
		return env, nil, mq.Permanent(err)
	}
	return env, p, nil
}

// StockEventHandler feeds stock-events into the projector.
func StockEventHandler(projector *application.Projector) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		env, err := outbox.ParseEnvelope(msg.Value)
		if err != nil {
			return mq.Permanent(err)
		}
		return projector.Apply(ctx, env)
	}
}

// OrderCreatedHandler reserves every line of a new order. Short stock is final:
// the insufficiency event is already recorded and the order side compensates.
func OrderCreatedHandler(inventory *application.InventoryService) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		_, p, err := envelopeOf(msg)
		if err != nil {
			return err
		}
		order, ok := p.(outbox.OrderCreated)
		if !ok {
			logger.Ctx(ctx).Warn().Str("event_type", p.EventType()).Msg("unexpected event on order topic, skipped")
			return nil
		}
		for _, line := range order.Lines {
			_, err := inventory.Reserve(ctx, application.ReserveCommand{
				OrderID:     order.OrderID,
				OrderLineID: line.LineID,
				SKU:         line.MenuID,
				Qty:         int64(line.Quantity),
			})
			switch {
			case err == nil:
			case errors.Is(err, errs.ErrInsufficientStock):
				logger.Ctx(ctx).Info().Str("order_id", order.OrderID).Str("menu_id", line.MenuID).Msg("line not reserved, stock short")
			case errors.Is(err, errs.ErrInvalidRequest):
				return mq.Permanent(err)
			default:
				return err
			}
		}
		return nil
	}
}

// OrderCancelledHandler gives back the stock of a cancelled order.
func OrderCancelledHandler(inventory *application.InventoryService) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		_, p, err := envelopeOf(msg)
		if err != nil {
			return err
		}
		c, ok := p.(outbox.OrderCancelled)
		if !ok {
			logger.Ctx(ctx).Warn().Str("event_type", p.EventType()).Msg("unexpected event on order topic, skipped")
			return nil
		}
		reason := c.Reason
		if reason == "" {
			reason = "ORDER_CANCELLED"
		}
		return inventory.CancelOrder(ctx, c.OrderID, reason)
	}
}
