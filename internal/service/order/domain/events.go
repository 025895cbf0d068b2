package domain

import (
	"time"

	"eatcloud/internal/outbox"
)

const Source = "order-service"

// CreatedMessage is the outbox message announcing a new order.
func CreatedMessage(o *Order, traceID, sagaID string) outbox.Message {
	lines := make([]outbox.OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = outbox.OrderLine{
			LineID:    l.ID,
			MenuID:    l.MenuID,
			MenuName:  l.MenuName,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}
	return outbox.Message{
		AggregateType: outbox.AggregateOrder,
		AggregateID:   o.ID,
		Payload: outbox.OrderCreated{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			CustomerID:  o.CustomerID,
			StoreID:     o.StoreID,
			TotalPrice:  o.TotalPrice,
			PointsToUse: o.PointsToUse,
			FinalAmount: o.FinalAmount,
			Lines:       lines,
			CreatedAt:   o.CreatedAt,
		},
		Headers: outbox.DefaultHeaders(traceID, sagaID, Source),
	}
}

// CancelledMessage is the outbox message announcing a cancelled order.
func CancelledMessage(o *Order, at time.Time, traceID, sagaID string) outbox.Message {
	return outbox.Message{
		AggregateType: outbox.AggregateOrder,
		AggregateID:   o.ID,
		Payload: outbox.OrderCancelled{
			OrderID:     o.ID,
			CustomerID:  o.CustomerID,
			Reason:      o.CancelReason,
			CancelledAt: at,
		},
		Headers: outbox.DefaultHeaders(traceID, sagaID, Source),
	}
}
