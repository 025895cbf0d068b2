// internal/service/store/domain/inventory.go
package domain

import "time"

// Stock is the authoritative counter row of one menu item (SKU).
// It only ever changes through the compare-and-set statements of StockStore.
type Stock struct {
	SKU       string
	Available int64
	Reserved  int64
	Version   int64
	UpdatedAt time.Time
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCanceled  ReservationStatus = "CANCELED"
	ReservationReturned  ReservationStatus = "RETURNED"
)

// Reservation holds qty units of one SKU for one order line. OrderLineID is unique.
type Reservation struct {
	ID          string
	SKU         string
	OrderID     string
	OrderLineID string
	Quantity    int64
	Status      ReservationStatus
	Reason      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

func (r *Reservation) IsPending() bool { return r.Status == ReservationPending }

// Expired reports whether a pending reservation outlived its TTL at now.
func (r *Reservation) Expired(now time.Time) bool {
	return r.IsPending() && !r.ExpiresAt.After(now)
}
