package domain

import (
	"time"

	"eatcloud/internal/outbox"
)

// Projection is the read model of one SKU, folded from stock events.
type Projection struct {
	SKU       string
	Avail     int64
	Reserved  int64
	UpdatedAt time.Time
}

// StockEvent is one row of the append-only stock event log. Seq breaks ties between
// events created in the same instant, so the log has a total order per SKU.
type StockEvent struct {
	Seq       int64
	EventID   string
	SKU       string
	EventType string
	Quantity  int64
	Delta     int64
	CreatedAt time.Time
}

// Movement is the quantity effect of a stock event, independent of its wire payload.
type Movement struct {
	EventType string
	Qty       int64
	Delta     int64
}

// MovementOf extracts the movement of a decoded stock payload. ok is false for
// payloads that are not stock events.
func MovementOf(p outbox.Payload) (m Movement, sku string, ok bool) {
	switch v := p.(type) {
	case outbox.StockReserved:
		return Movement{EventType: outbox.TypeStockReserved, Qty: v.Qty}, v.MenuID, true
	case outbox.StockCommitted:
		return Movement{EventType: outbox.TypeStockCommitted, Qty: v.Qty}, v.MenuID, true
	case outbox.StockReleased:
		return Movement{EventType: outbox.TypeStockReleased, Qty: v.Qty}, v.MenuID, true
	case outbox.StockReturned:
		return Movement{EventType: outbox.TypeStockReturned, Qty: v.Qty}, v.MenuID, true
	case outbox.StockAdjusted:
		return Movement{EventType: outbox.TypeStockAdjusted, Delta: v.Delta}, v.MenuID, true
	case outbox.StockInsufficient:
		return Movement{EventType: outbox.TypeStockInsufficient, Qty: v.RequestedQty}, v.MenuID, true
	default:
		return Movement{}, "", false
	}
}

// Counts is the (avail, reserved) pair a projection folds.
type Counts struct {
	Avail    int64
	Reserved int64
}

// Apply folds one movement. Both counters are clamped at zero after every step,
// so the fold is the same whether it runs live or during a replay.
// known is false for event types the fold does not recognise; c is returned unchanged.
func (c Counts) Apply(m Movement) (next Counts, known bool) {
	next = c
	switch m.EventType {
	case outbox.TypeStockReserved:
		next.Avail -= m.Qty
		next.Reserved += m.Qty
	case outbox.TypeStockCommitted, outbox.TypeStockConfirmed:
		next.Reserved -= m.Qty
	case outbox.TypeStockReleased, outbox.TypeStockReturned, outbox.TypeStockCanceled:
		next.Avail += m.Qty
		next.Reserved -= m.Qty
	case outbox.TypeStockAdjusted:
		next.Avail += m.Delta
	case outbox.TypeStockInsufficient:
	default:
		return c, false
	}
	next.Avail = max(next.Avail, 0)
	next.Reserved = max(next.Reserved, 0)
	return next, true
}

// Fold replays events from zero.
func Fold(events []StockEvent) Counts {
	var c Counts
	for _, e := range events {
		c, _ = c.Apply(Movement{EventType: e.EventType, Qty: e.Quantity, Delta: e.Delta})
	}
	return c
}
