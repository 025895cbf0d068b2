package adapter

import (
	"time"

	"eatcloud/internal/correlator"
)

// RequestEvent is the body of every point and payment request or cancel message.
type RequestEvent struct {
	SagaID     string `json:"sagaId"`
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Points     int64  `json:"points,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
}

// ResponseEvent is the body of every .response topic. Requests are correlated by SagaID.
type ResponseEvent struct {
	OrderID       string `json:"orderId"`
	CustomerID    string `json:"customerId"`
	SagaID        string `json:"sagaId"`
	ReservationID string `json:"reservationId,omitempty"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
	Success       bool   `json:"success"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// Registries holds one pending-request registry per response kind.
type Registries struct {
	PointReserve  *correlator.Registry[ResponseEvent]
	PointCancel   *correlator.Registry[ResponseEvent]
	Payment       *correlator.Registry[ResponseEvent]
	PaymentCancel *correlator.Registry[ResponseEvent]
}

func NewRegistries() *Registries {
	return &Registries{
		PointReserve:  correlator.NewRegistry[ResponseEvent]("point-reservation"),
		PointCancel:   correlator.NewRegistry[ResponseEvent]("point-reservation-cancel"),
		Payment:       correlator.NewRegistry[ResponseEvent]("payment-request"),
		PaymentCancel: correlator.NewRegistry[ResponseEvent]("payment-request-cancel"),
	}
}

func (r *Registries) All() []*correlator.Registry[ResponseEvent] {
	return []*correlator.Registry[ResponseEvent]{r.PointReserve, r.PointCancel, r.Payment, r.PaymentCancel}
}

// DefaultJanitorInterval is how often stale entries are swept.
const DefaultJanitorInterval = 5 * time.Second
