package infrastructure

import (
	"time"

	"gorm.io/datatypes"

	"eatcloud/internal/service/order/domain"
)

type LineModel struct {
	ID        string `json:"id"`
	MenuID    string `json:"menuId"`
	MenuName  string `json:"menuName"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// OrderModel maps orders. Lines are a JSON column, the aggregate is always loaded whole.
type OrderModel struct {
	ID           string `gorm:"type:char(36);primaryKey"`
	OrderNumber  string `gorm:"type:varchar(32);not null;uniqueIndex"`
	CustomerID   string `gorm:"type:varchar(64);not null;index"`
	StoreID      string `gorm:"type:varchar(64);not null"`
	Lines        datatypes.JSONType[[]LineModel]
	TotalPrice   int64  `gorm:"not null"`
	PointsToUse  int64  `gorm:"not null;default:0"`
	FinalAmount  int64  `gorm:"not null"`
	Status       string `gorm:"type:varchar(16);not null;index"`
	PaymentURL   string `gorm:"type:varchar(512)"`
	CancelReason string `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (OrderModel) TableName() string { return "orders" }

// ProcessedModel maps order_processed_events, the consumer idempotency markers.
type ProcessedModel struct {
	EventID     string `gorm:"type:varchar(64);primaryKey"`
	ProcessedAt time.Time
}

func (ProcessedModel) TableName() string { return "order_processed_events" }

// Models lists every table of the order service, for auto-migration.
func Models() []any {
	return []any{&OrderModel{}, &ProcessedModel{}}
}

func fromDomainOrder(o *domain.Order) *OrderModel {
	lines := make([]LineModel, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = LineModel{ID: l.ID, MenuID: l.MenuID, MenuName: l.MenuName, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return &OrderModel{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		CustomerID:   o.CustomerID,
		StoreID:      o.StoreID,
		Lines:        datatypes.NewJSONType(lines),
		TotalPrice:   o.TotalPrice,
		PointsToUse:  o.PointsToUse,
		FinalAmount:  o.FinalAmount,
		Status:       string(o.Status),
		PaymentURL:   o.PaymentURL,
		CancelReason: o.CancelReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func toDomainOrder(m *OrderModel) *domain.Order {
	stored := m.Lines.Data()
	lines := make([]domain.OrderLine, len(stored))
	for i, l := range stored {
		lines[i] = domain.OrderLine{ID: l.ID, MenuID: l.MenuID, MenuName: l.MenuName, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return &domain.Order{
		ID:           m.ID,
		OrderNumber:  m.OrderNumber,
		CustomerID:   m.CustomerID,
		StoreID:      m.StoreID,
		Lines:        lines,
		TotalPrice:   m.TotalPrice,
		PointsToUse:  m.PointsToUse,
		FinalAmount:  m.FinalAmount,
		Status:       domain.Status(m.Status),
		PaymentURL:   m.PaymentURL,
		CancelReason: m.CancelReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
