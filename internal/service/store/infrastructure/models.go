package infrastructure

import (
	"time"

	"eatcloud/internal/service/store/domain"
)

// StockModel maps inventory_stocks.
type StockModel struct {
	SKU       string `gorm:"column:sku;type:varchar(64);primaryKey"`
	Available int64  `gorm:"not null;default:0"`
	Reserved  int64  `gorm:"not null;default:0"`
	Version   int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (StockModel) TableName() string { return "inventory_stocks" }

// ReservationModel maps inventory_reservations.
type ReservationModel struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	SKU         string    `gorm:"column:sku;type:varchar(64);not null;index"`
	OrderID     string    `gorm:"type:varchar(64);not null;index"`
	OrderLineID string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	Quantity    int64     `gorm:"not null"`
	Status      string    `gorm:"type:varchar(16);not null;index:idx_reservation_expiry,priority:1"`
	Reason      string    `gorm:"type:varchar(255)"`
	ExpiresAt   time.Time `gorm:"not null;index:idx_reservation_expiry,priority:2"`
	CreatedAt   time.Time
}

func (ReservationModel) TableName() string { return "inventory_reservations" }

// ProjectionModel maps stock_projections.
type ProjectionModel struct {
	SKU       string `gorm:"column:sku;type:varchar(64);primaryKey"`
	Avail     int64  `gorm:"not null;default:0"`
	Reserved  int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (ProjectionModel) TableName() string { return "stock_projections" }

// ProcessedModel maps stock_proj_processed, the consumer idempotency markers.
type ProcessedModel struct {
	EventID     string `gorm:"type:char(36);primaryKey"`
	ProcessedAt time.Time
}

func (ProcessedModel) TableName() string { return "stock_proj_processed" }

// StockEventModel maps stock_event_log.
type StockEventModel struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	EventID   string `gorm:"type:char(36);not null;uniqueIndex"`
	SKU       string `gorm:"column:sku;type:varchar(64);not null;index:idx_stock_event_order,priority:1"`
	EventType string `gorm:"type:varchar(64);not null"`
	Quantity  int64
	Delta     int64
	CreatedAt time.Time `gorm:"index:idx_stock_event_order,priority:2"`
}

func (StockEventModel) TableName() string { return "stock_event_log" }

// Models lists every table of the store service, for auto-migration.
func Models() []any {
	return []any{&StockModel{}, &ReservationModel{}, &ProjectionModel{}, &ProcessedModel{}, &StockEventModel{}}
}

func toDomainStock(m *StockModel) *domain.Stock {
	return &domain.Stock{SKU: m.SKU, Available: m.Available, Reserved: m.Reserved, Version: m.Version, UpdatedAt: m.UpdatedAt}
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		ID:          m.ID,
		SKU:         m.SKU,
		OrderID:     m.OrderID,
		OrderLineID: m.OrderLineID,
		Quantity:    m.Quantity,
		Status:      domain.ReservationStatus(m.Status),
		Reason:      m.Reason,
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
	}
}

func fromDomainReservation(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:          r.ID,
		SKU:         r.SKU,
		OrderID:     r.OrderID,
		OrderLineID: r.OrderLineID,
		Quantity:    r.Quantity,
		Status:      string(r.Status),
		Reason:      r.Reason,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
	}
}

func toDomainEvent(m *StockEventModel) domain.StockEvent {
	return domain.StockEvent{
		Seq:       m.Seq,
		EventID:   m.EventID,
		SKU:       m.SKU,
		EventType: m.EventType,
		Quantity:  m.Quantity,
		Delta:     m.Delta,
		CreatedAt: m.CreatedAt,
	}
}
