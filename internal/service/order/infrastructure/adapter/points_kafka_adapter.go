package adapter

import (
	"context"
	"time"

	"eatcloud/internal/pkg/topics"
	"eatcloud/internal/service/order/domain/port"
)

// Sender writes a JSON message to a topic. *mq.JSONProducer satisfies it.
type Sender interface {
	Send(ctx context.Context, topic, key string, v any) error
}

// PointKafkaAdapter implements port.PointService as request/response over Kafka.
type PointKafkaAdapter struct {
	sender  Sender
	regs    *Registries
	timeout time.Duration
}

func NewPointKafkaAdapter(sender Sender, regs *Registries, timeout time.Duration) *PointKafkaAdapter {
	return &PointKafkaAdapter{sender: sender, regs: regs, timeout: timeout}
}

func pointRequest(req port.PointRequest) RequestEvent {
	return RequestEvent{SagaID: req.SagaID, OrderID: req.OrderID, CustomerID: req.CustomerID, Points: req.Points}
}

func pointReply(resp ResponseEvent) *port.PointReply {
	return &port.PointReply{ReservationID: resp.ReservationID, Success: resp.Success, ErrorMessage: resp.ErrorMessage}
}

func (a *PointKafkaAdapter) ReservePoints(ctx context.Context, req port.PointRequest) (*port.PointReply, error) {
	resp, err := a.regs.PointReserve.Call(ctx, req.SagaID, a.timeout, func(ctx context.Context) error {
		return a.sender.Send(ctx, topics.PointReservationRequest, req.OrderID, pointRequest(req))
	})
	if err != nil {
		return nil, err
	}
	return pointReply(resp), nil
}

func (a *PointKafkaAdapter) CancelReservation(ctx context.Context, req port.PointRequest) (*port.PointReply, error) {
	resp, err := a.regs.PointCancel.Call(ctx, req.SagaID, a.timeout, func(ctx context.Context) error {
		return a.sender.Send(ctx, topics.PointReservationCancel, req.OrderID, pointRequest(req))
	})
	if err != nil {
		return nil, err
	}
	return pointReply(resp), nil
}
