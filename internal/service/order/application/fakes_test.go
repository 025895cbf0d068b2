package application

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"eatcloud/internal/service/order/domain/port"
)

type fakeCart struct {
	items    map[string][]port.CartItem
	err      error
	clearErr error
	cleared  []string
}

func (c *fakeCart) GetCart(_ context.Context, customerID string) ([]port.CartItem, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.items[customerID], nil
}

func (c *fakeCart) ClearCart(_ context.Context, customerID string) error {
	if c.clearErr != nil {
		return c.clearErr
	}
	c.cleared = append(c.cleared, customerID)
	return nil
}

// fakePoints keeps a per-customer balance and the currently reserved points.
type fakePoints struct {
	mu       sync.Mutex
	balance  map[string]int64
	reserved map[string]int64
	down     bool
}

func newFakePoints(balances map[string]int64) *fakePoints {
	return &fakePoints{balance: balances, reserved: map[string]int64{}}
}

func (p *fakePoints) ReservePoints(_ context.Context, req port.PointRequest) (*port.PointReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return nil, errors.New("points service down")
	}
	if p.balance[req.CustomerID]-p.reserved[req.CustomerID] < req.Points {
		return &port.PointReply{Success: false, ErrorMessage: "not enough points"}, nil
	}
	p.reserved[req.CustomerID] += req.Points
	return &port.PointReply{ReservationID: "res-" + req.OrderID, Success: true}, nil
}

func (p *fakePoints) CancelReservation(_ context.Context, req port.PointRequest) (*port.PointReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved[req.CustomerID] -= req.Points
	return &port.PointReply{Success: true}, nil
}

func (p *fakePoints) Reserved(customerID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserved[customerID]
}

type fakePayments struct {
	err       error
	reject    string
	requested []port.PaymentRequest
	cancelled []port.PaymentRequest
}

func (p *fakePayments) RequestPayment(_ context.Context, req port.PaymentRequest) (*port.PaymentReply, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.reject != "" {
		return &port.PaymentReply{Success: false, ErrorMessage: p.reject}, nil
	}
	p.requested = append(p.requested, req)
	return &port.PaymentReply{Success: true, PaymentURL: "https://pay.example/" + req.OrderID}, nil
}

func (p *fakePayments) CancelPaymentRequest(_ context.Context, req port.PaymentRequest) (*port.PaymentReply, error) {
	p.cancelled = append(p.cancelled, req)
	return &port.PaymentReply{Success: true}, nil
}

type fakeEmitter struct {
	points   []port.PointRequest
	payments []port.PaymentRequest
	err      error
}

func (e *fakeEmitter) EmitPointCancel(_ context.Context, req port.PointRequest) error {
	e.points = append(e.points, req)
	return e.err
}

func (e *fakeEmitter) EmitPaymentCancel(_ context.Context, req port.PaymentRequest) error {
	e.payments = append(e.payments, req)
	return e.err
}
