// Package topics names the Kafka topics shared by the order and store services.
package topics

import "eatcloud/internal/pkg/mq"

const (
	OrderCreated   = "order.created"
	OrderCancelled = "order.cancelled"
	StockEvents    = "stock-events"

	PointReservationRequest        = "point.reservation.request"
	PointReservationResponse       = "point.reservation.response"
	PointReservationCancel         = "point.reservation.cancel"
	PointReservationCancelResponse = "point.reservation.cancel.response"

	PaymentRequest               = "payment.request"
	PaymentRequestResponse       = "payment.request.response"
	PaymentRequestCancel         = "payment.request.cancel"
	PaymentRequestCancelResponse = "payment.request.cancel.response"

	PaymentCompleted = "payment.completed"
	PaymentFailed    = "payment.failed"
)

// Consumed lists the topics the order service reads; their dead letter topics feed the alert consumer.
var Consumed = []string{
	StockEvents,
	PointReservationResponse,
	PointReservationCancelResponse,
	PaymentRequestResponse,
	PaymentRequestCancelResponse,
	PaymentCompleted,
	PaymentFailed,
	OrderCreated,
	OrderCancelled,
}

// DeadLetters maps each topic to its dead letter topic.
func DeadLetters(ts ...string) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, mq.DLT(t))
	}
	return out
}
