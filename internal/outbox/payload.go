package outbox

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var ErrUnknownEventType = errors.New("unknown event type")

const (
	TypeOrderCreated   = "OrderCreatedEvent"
	TypeOrderCancelled = "OrderCancelledEvent"

	TypeStockReserved     = "stock.reserved"
	TypeStockCommitted    = "stock.committed"
	TypeStockReleased     = "stock.released"
	TypeStockReturned     = "stock.returned"
	TypeStockAdjusted     = "stock.adjusted"
	TypeStockInsufficient = "stock.insufficient"

	// Older producers used these names; they decode to the current variants.
	TypeStockConfirmed = "stock.confirmed"
	TypeStockCanceled  = "stock.canceled"
)

const (
	AggregateOrder     = "ORDER"
	AggregateInventory = "INVENTORY_ITEM"
)

// Payload is the closed set of event bodies the outbox carries.
type Payload interface {
	EventType() string
	payload()
}

type OrderLine struct {
	LineID    string `json:"lineId"`
	MenuID    string `json:"menuId"`
	MenuName  string `json:"menuName"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type OrderCreated struct {
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	CustomerID  string      `json:"customerId"`
	StoreID     string      `json:"storeId"`
	TotalPrice  int64       `json:"totalPrice"`
	PointsToUse int64       `json:"pointsToUse"`
	FinalAmount int64       `json:"finalAmount"`
	Lines       []OrderLine `json:"lines"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type OrderCancelled struct {
	OrderID     string    `json:"orderId"`
	CustomerID  string    `json:"customerId"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}

// StockLine identifies the order line a stock movement belongs to.
type StockLine struct {
	MenuID        string    `json:"menuId"`
	OrderID       string    `json:"orderId"`
	OrderLineID   string    `json:"orderLineId"`
	ReservationID string    `json:"reservationId,omitempty"`
	Qty           int64     `json:"qty"`
	OccurredAt    time.Time `json:"occurredAt"`
	EventVersion  int       `json:"eventVersion"`
}

type StockReserved struct{ StockLine }

type StockCommitted struct{ StockLine }

type StockReleased struct {
	StockLine
	Reason string `json:"reason,omitempty"`
}

type StockReturned struct {
	StockLine
	Reason string `json:"reason,omitempty"`
}

type StockAdjusted struct {
	MenuID       string    `json:"menuId"`
	Delta        int64     `json:"delta"`
	OccurredAt   time.Time `json:"occurredAt"`
	EventVersion int       `json:"eventVersion"`
}

type StockInsufficient struct {
	MenuID       string    `json:"menuId"`
	OrderID      string    `json:"orderId"`
	OrderLineID  string    `json:"orderLineId"`
	RequestedQty int64     `json:"requestedQty"`
	OccurredAt   time.Time `json:"occurredAt"`
	EventVersion int       `json:"eventVersion"`
}

func (OrderCreated) EventType() string      { return TypeOrderCreated }
func (OrderCancelled) EventType() string    { return TypeOrderCancelled }
func (StockReserved) EventType() string     { return TypeStockReserved }
func (StockCommitted) EventType() string    { return TypeStockCommitted }
func (StockReleased) EventType() string     { return TypeStockReleased }
func (StockReturned) EventType() string     { return TypeStockReturned }
func (StockAdjusted) EventType() string     { return TypeStockAdjusted }
func (StockInsufficient) EventType() string { return TypeStockInsufficient }

func (OrderCreated) payload()      {}
func (OrderCancelled) payload()    {}
func (StockReserved) payload()     {}
func (StockCommitted) payload()    {}
func (StockReleased) payload()     {}
func (StockReturned) payload()     {}
func (StockAdjusted) payload()     {}
func (StockInsufficient) payload() {}

// Decode parses raw as the variant named by eventType.
func Decode(eventType string, raw []byte) (Payload, error) {
	switch eventType {
	case TypeOrderCreated:
		return decodeAs[OrderCreated](raw)
	case TypeOrderCancelled:
		return decodeAs[OrderCancelled](raw)
	case TypeStockReserved:
		return decodeAs[StockReserved](raw)
	case TypeStockCommitted, TypeStockConfirmed:
		return decodeAs[StockCommitted](raw)
	case TypeStockReleased, TypeStockCanceled:
		return decodeAs[StockReleased](raw)
	case TypeStockReturned:
		return decodeAs[StockReturned](raw)
	case TypeStockAdjusted:
		return decodeAs[StockAdjusted](raw)
	case TypeStockInsufficient:
		return decodeAs[StockInsufficient](raw)
	default:
		return nil, errors.Wrap(ErrUnknownEventType, eventType)
	}
}

func decodeAs[P Payload](raw []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrapf(err, "decode %s payload", p.EventType())
	}
	return p, nil
}
