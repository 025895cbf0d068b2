// internal/service/order/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrIllegalTransition is returned when a status change is not allowed from the current status.
var ErrIllegalTransition = errors.New("illegal order status transition")

type OrderLine struct {
	ID        string
	MenuID    string
	MenuName  string
	Quantity  int
	UnitPrice int64
}

// Subtotal is UnitPrice times Quantity.
func (l OrderLine) Subtotal() int64 { return l.UnitPrice * int64(l.Quantity) }

// Order is the root of the order aggregate.
type Order struct {
	ID           string
	OrderNumber  string
	CustomerID   string
	StoreID      string
	Lines        []OrderLine
	TotalPrice   int64
	PointsToUse  int64
	FinalAmount  int64
	Status       Status
	PaymentURL   string
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewOrder builds a PENDING order. Line ids are assigned here and travel with
// OrderCreatedEvent so the store can key its reservations on them.
func NewOrder(customerID, storeID string, lines []OrderLine, points int64, now time.Time) (*Order, error) {
	if customerID == "" || len(lines) == 0 {
		return nil, errors.New("order needs a customer and at least one line")
	}
	if points < 0 {
		return nil, errors.New("points to use cannot be negative")
	}
	o := &Order{
		ID:          uuid.NewString(),
		OrderNumber: NewOrderNumber(now),
		CustomerID:  customerID,
		StoreID:     storeID,
		Lines:       make([]OrderLine, len(lines)),
		PointsToUse: points,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, l := range lines {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		o.Lines[i] = l
		o.TotalPrice += l.Subtotal()
	}
	o.FinalAmount = max(o.TotalPrice-points, 0)
	return o, nil
}

// NewOrderNumber formats ORD-YYYYMMDD-XXXXX with five random uppercase hex characters.
func NewOrderNumber(now time.Time) string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:5]
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), random)
}

func (o *Order) transition(to Status, now time.Time) error {
	if !o.Status.CanMoveTo(to) {
		return errors.Wrapf(ErrIllegalTransition, "order %s: %s -> %s", o.ID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// Cancel moves a PENDING order to CANCELLED. Cancelling a cancelled order is a no-op
// and reports changed=false.
func (o *Order) Cancel(reason string, now time.Time) (changed bool, err error) {
	if o.Status == StatusCancelled {
		return false, nil
	}
	if err := o.transition(StatusCancelled, now); err != nil {
		return false, err
	}
	o.CancelReason = reason
	return true, nil
}

// MarkPaid is idempotent on a PAID order.
func (o *Order) MarkPaid(now time.Time) (changed bool, err error) {
	if o.Status == StatusPaid {
		return false, nil
	}
	return true, o.transition(StatusPaid, now)
}

func (o *Order) MarkPaymentFailed(now time.Time) (changed bool, err error) {
	if o.Status == StatusPaymentFailed {
		return false, nil
	}
	return true, o.transition(StatusPaymentFailed, now)
}

func (o *Order) MarkFailed(now time.Time) error {
	return o.transition(StatusFailed, now)
}

// AttachPayment stores the checkout URL of a pending order.
func (o *Order) AttachPayment(url string, now time.Time) error {
	if o.Status != StatusPending {
		return errors.Wrapf(ErrIllegalTransition, "order %s: payment url on %s order", o.ID, o.Status)
	}
	o.PaymentURL = url
	o.UpdatedAt = now
	return nil
}
