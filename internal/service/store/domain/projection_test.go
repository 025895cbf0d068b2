package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"eatcloud/internal/outbox"
)

func TestCountsApply(t *testing.T) {
	cases := []struct {
		name  string
		start Counts
		move  Movement
		want  Counts
		known bool
	}{
		{"reserved", Counts{10, 0}, Movement{EventType: outbox.TypeStockReserved, Qty: 3}, Counts{7, 3}, true},
		{"committed", Counts{7, 3}, Movement{EventType: outbox.TypeStockCommitted, Qty: 3}, Counts{7, 0}, true},
		{"confirmed alias", Counts{7, 3}, Movement{EventType: outbox.TypeStockConfirmed, Qty: 1}, Counts{7, 2}, true},
		{"released", Counts{7, 3}, Movement{EventType: outbox.TypeStockReleased, Qty: 3}, Counts{10, 0}, true},
		{"canceled alias", Counts{7, 3}, Movement{EventType: outbox.TypeStockCanceled, Qty: 1}, Counts{8, 2}, true},
		{"returned", Counts{7, 3}, Movement{EventType: outbox.TypeStockReturned, Qty: 2}, Counts{9, 1}, true},
		{"adjusted up", Counts{1, 1}, Movement{EventType: outbox.TypeStockAdjusted, Delta: 4}, Counts{5, 1}, true},
		{"adjusted clamps", Counts{1, 1}, Movement{EventType: outbox.TypeStockAdjusted, Delta: -4}, Counts{0, 1}, true},
		{"reserved clamps", Counts{0, 0}, Movement{EventType: outbox.TypeStockCommitted, Qty: 2}, Counts{0, 0}, true},
		{"insufficient", Counts{1, 1}, Movement{EventType: outbox.TypeStockInsufficient, Qty: 9}, Counts{1, 1}, true},
		{"unknown", Counts{1, 1}, Movement{EventType: "stock.lost", Qty: 9}, Counts{1, 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, known := tc.start.Apply(tc.move)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.known, known)
		})
	}
}

func TestFoldFromZero(t *testing.T) {
	log := []StockEvent{
		{EventType: outbox.TypeStockAdjusted, Delta: 5},
		{EventType: outbox.TypeStockReserved, Quantity: 2},
		{EventType: outbox.TypeStockCommitted, Quantity: 2},
		{EventType: outbox.TypeStockReserved, Quantity: 1},
	}
	assert.Equal(t, Counts{Avail: 2, Reserved: 1}, Fold(log))
}

func TestMovementOf(t *testing.T) {
	m, sku, ok := MovementOf(outbox.StockAdjusted{MenuID: "m1", Delta: -2})
	assert.True(t, ok)
	assert.Equal(t, "m1", sku)
	assert.Equal(t, int64(-2), m.Delta)

	m, _, ok = MovementOf(outbox.StockInsufficient{MenuID: "m1", RequestedQty: 4})
	assert.True(t, ok)
	assert.Equal(t, int64(4), m.Qty)

	_, _, ok = MovementOf(outbox.OrderCancelled{OrderID: "o1"})
	assert.False(t, ok)
}

func TestReservationExpired(t *testing.T) {
	now := time.Now()
	r := Reservation{Status: ReservationPending, ExpiresAt: now}
	assert.True(t, r.Expired(now))
	r.Status = ReservationConfirmed
	assert.False(t, r.Expired(now.Add(time.Hour)))
}
