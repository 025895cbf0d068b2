// internal/service/order/domain/state.go
package domain

// Status is the lifecycle status of an order.
type Status string

const (
	StatusPending       Status = "PENDING"        // created by the saga, waiting for payment
	StatusPaid          Status = "PAID"           // payment completed
	StatusCancelled     Status = "CANCELLED"      // compensated, by the customer or the system
	StatusPaymentFailed Status = "PAYMENT_FAILED" // payment rejected by the provider
	StatusFailed        Status = "FAILED"         // processing failed after creation
)

var transitions = map[Status][]Status{
	StatusPending:       {StatusPaid, StatusCancelled, StatusPaymentFailed, StatusFailed},
	StatusPaymentFailed: {StatusCancelled},
}

// CanMoveTo reports whether the status may change to next.
func (s Status) CanMoveTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Final reports whether no further transition is possible.
func (s Status) Final() bool { return len(transitions[s]) == 0 }
