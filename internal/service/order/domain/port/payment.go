package port

import "context"

type PaymentRequest struct {
	SagaID     string
	OrderID    string
	CustomerID string
	Amount     int64
}

type PaymentReply struct {
	PaymentURL   string
	Success      bool
	ErrorMessage string
}

// PaymentService is the outbound port to the payment provider.
type PaymentService interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentReply, error)
	CancelPaymentRequest(ctx context.Context, req PaymentRequest) (*PaymentReply, error)
}

// CancelEmitter sends cancel requests without waiting for a reply. It serves the
// asynchronous compensation of an order whose saga has long finished.
type CancelEmitter interface {
	EmitPointCancel(ctx context.Context, req PointRequest) error
	EmitPaymentCancel(ctx context.Context, req PaymentRequest) error
}
