package port

import "context"

type PointRequest struct {
	SagaID     string
	OrderID    string
	CustomerID string
	Points     int64
}

// PointReply is the customer service's answer to a reservation or cancel request.
type PointReply struct {
	ReservationID string
	Success       bool
	ErrorMessage  string
}

// PointService is the outbound port to the customer's point balance.
// Both calls block until the correlated reply arrives or the reply timeout passes.
type PointService interface {
	ReservePoints(ctx context.Context, req PointRequest) (*PointReply, error)
	CancelReservation(ctx context.Context, req PointRequest) (*PointReply, error)
}
