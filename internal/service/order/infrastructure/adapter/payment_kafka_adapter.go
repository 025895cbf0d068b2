package adapter

import (
	"context"
	"time"

	"eatcloud/internal/pkg/topics"
	"eatcloud/internal/service/order/domain/port"
)

// PaymentKafkaAdapter implements port.PaymentService as request/response over Kafka.
type PaymentKafkaAdapter struct {
	sender  Sender
	regs    *Registries
	timeout time.Duration
}

func NewPaymentKafkaAdapter(sender Sender, regs *Registries, timeout time.Duration) *PaymentKafkaAdapter {
	return &PaymentKafkaAdapter{sender: sender, regs: regs, timeout: timeout}
}

func paymentRequest(req port.PaymentRequest) RequestEvent {
	return RequestEvent{SagaID: req.SagaID, OrderID: req.OrderID, CustomerID: req.CustomerID, Amount: req.Amount}
}

func paymentReply(resp ResponseEvent) *port.PaymentReply {
	return &port.PaymentReply{PaymentURL: resp.PaymentURL, Success: resp.Success, ErrorMessage: resp.ErrorMessage}
}

func (a *PaymentKafkaAdapter) RequestPayment(ctx context.Context, req port.PaymentRequest) (*port.PaymentReply, error) {
	resp, err := a.regs.Payment.Call(ctx, req.SagaID, a.timeout, func(ctx context.Context) error {
		return a.sender.Send(ctx, topics.PaymentRequest, req.OrderID, paymentRequest(req))
	})
	if err != nil {
		return nil, err
	}
	return paymentReply(resp), nil
}

func (a *PaymentKafkaAdapter) CancelPaymentRequest(ctx context.Context, req port.PaymentRequest) (*port.PaymentReply, error) {
	resp, err := a.regs.PaymentCancel.Call(ctx, req.SagaID, a.timeout, func(ctx context.Context) error {
		return a.sender.Send(ctx, topics.PaymentRequestCancel, req.OrderID, paymentRequest(req))
	})
	if err != nil {
		return nil, err
	}
	return paymentReply(resp), nil
}

// CancelKafkaEmitter sends cancel requests without registering for a reply. Their
// responses reach the cancel registries unmatched and are dropped there.
type CancelKafkaEmitter struct {
	sender Sender
}

func NewCancelKafkaEmitter(sender Sender) *CancelKafkaEmitter {
	return &CancelKafkaEmitter{sender: sender}
}

func (e *CancelKafkaEmitter) EmitPointCancel(ctx context.Context, req port.PointRequest) error {
	return e.sender.Send(ctx, topics.PointReservationCancel, req.OrderID, pointRequest(req))
}

func (e *CancelKafkaEmitter) EmitPaymentCancel(ctx context.Context, req port.PaymentRequest) error {
	return e.sender.Send(ctx, topics.PaymentRequestCancel, req.OrderID, paymentRequest(req))
}
