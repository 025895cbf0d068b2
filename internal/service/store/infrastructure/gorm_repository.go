package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/store/domain"
)

// GormStockStore runs the compare-and-set statements on inventory_stocks.
type GormStockStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStockStore(db *gorm.DB) *GormStockStore {
	return &GormStockStore{db: db, now: time.Now}
}

func (s *GormStockStore) cas(ctx context.Context, op string, where string, args []any, set map[string]any) (bool, error) {
	set["version"] = gorm.Expr("version + 1")
	set["updated_at"] = s.now().UTC()
	res := s.db.WithContext(ctx).Model(&StockModel{}).Where(where, args...).Updates(set)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "stock %s", op)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStockStore) Reserve(ctx context.Context, sku string, qty int64) (bool, error) {
	return s.cas(ctx, "reserve", "sku = ? AND available >= ?", []any{sku, qty}, map[string]any{
		"available": gorm.Expr("available - ?", qty),
		"reserved":  gorm.Expr("reserved + ?", qty),
	})
}

func (s *GormStockStore) Consume(ctx context.Context, sku string, qty int64) (bool, error) {
	return s.cas(ctx, "consume", "sku = ? AND reserved >= ?", []any{sku, qty}, map[string]any{
		"reserved": gorm.Expr("reserved - ?", qty),
	})
}

func (s *GormStockStore) Release(ctx context.Context, sku string, qty int64) (bool, error) {
	return s.cas(ctx, "release", "sku = ? AND reserved >= ?", []any{sku, qty}, map[string]any{
		"available": gorm.Expr("available + ?", qty),
		"reserved":  gorm.Expr("reserved - ?", qty),
	})
}

func (s *GormStockStore) Adjust(ctx context.Context, sku string, delta int64) (bool, error) {
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	return s.cas(ctx, "adjust", "sku = ? AND (? >= 0 OR available >= ?)", []any{sku, delta, abs}, map[string]any{
		"available": gorm.Expr("available + ?", delta),
	})
}

func (s *GormStockStore) Create(ctx context.Context, sku string) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&StockModel{SKU: sku, UpdatedAt: s.now().UTC()})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "create stock %s", sku)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStockStore) Get(ctx context.Context, sku string) (*domain.Stock, error) {
	var m StockModel
	if err := s.db.WithContext(ctx).Where("sku = ?", sku).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errs.ErrNotFound, "stock %s", sku)
		}
		return nil, errors.Wrapf(err, "get stock %s", sku)
	}
	return toDomainStock(&m), nil
}

type GormReservationStore struct {
	db *gorm.DB
}

func NewGormReservationStore(db *gorm.DB) *GormReservationStore {
	return &GormReservationStore{db: db}
}

func (s *GormReservationStore) FindByOrderLine(ctx context.Context, orderLineID string) (*domain.Reservation, error) {
	var m ReservationModel
	if err := s.db.WithContext(ctx).Where("order_line_id = ?", orderLineID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errs.ErrNotFound, "reservation for line %s", orderLineID)
		}
		return nil, errors.Wrapf(err, "find reservation for line %s", orderLineID)
	}
	return toDomainReservation(&m), nil
}

func (s *GormReservationStore) FindByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	var ms []ReservationModel
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&ms).Error; err != nil {
		return nil, errors.Wrapf(err, "find reservations of order %s", orderID)
	}
	out := make([]domain.Reservation, 0, len(ms))
	for i := range ms {
		out = append(out, *toDomainReservation(&ms[i]))
	}
	return out, nil
}

func (s *GormReservationStore) Create(ctx context.Context, r *domain.Reservation) error {
	if err := s.db.WithContext(ctx).Create(fromDomainReservation(r)).Error; err != nil {
		return errors.Wrapf(err, "create reservation for line %s", r.OrderLineID)
	}
	return nil
}

func (s *GormReservationStore) UpdateStatus(ctx context.Context, id string, status domain.ReservationStatus, reason string) error {
	err := s.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "reason": reason}).Error
	return errors.Wrapf(err, "update reservation %s", id)
}

func (s *GormReservationStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	var ms []ReservationModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", string(domain.ReservationPending), now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&ms).Error
	if err != nil {
		return nil, errors.Wrap(err, "find expired reservations")
	}
	out := make([]domain.Reservation, 0, len(ms))
	for i := range ms {
		out = append(out, *toDomainReservation(&ms[i]))
	}
	return out, nil
}

type GormProjectionStore struct {
	db *gorm.DB
}

func NewGormProjectionStore(db *gorm.DB) *GormProjectionStore {
	return &GormProjectionStore{db: db}
}

func (s *GormProjectionStore) Processed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ProcessedModel{}).Where("event_id = ?", eventID).Count(&n).Error; err != nil {
		return false, errors.Wrapf(err, "check marker %s", eventID)
	}
	return n > 0, nil
}

func (s *GormProjectionStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	err := s.db.WithContext(ctx).Create(&ProcessedModel{EventID: eventID, ProcessedAt: at}).Error
	return errors.Wrapf(err, "insert marker %s", eventID)
}

func (s *GormProjectionStore) Load(ctx context.Context, sku string) (*domain.Projection, error) {
	var m ProjectionModel
	if err := s.db.WithContext(ctx).Where("sku = ?", sku).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errs.ErrNotFound, "projection %s", sku)
		}
		return nil, errors.Wrapf(err, "load projection %s", sku)
	}
	return &domain.Projection{SKU: m.SKU, Avail: m.Avail, Reserved: m.Reserved, UpdatedAt: m.UpdatedAt}, nil
}

func (s *GormProjectionStore) Save(ctx context.Context, p *domain.Projection) error {
	m := &ProjectionModel{SKU: p.SKU, Avail: p.Avail, Reserved: p.Reserved, UpdatedAt: p.UpdatedAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"avail", "reserved", "updated_at"}),
	}).Create(m).Error
	return errors.Wrapf(err, "save projection %s", p.SKU)
}

func (s *GormProjectionStore) AppendLog(ctx context.Context, e *domain.StockEvent) error {
	m := &StockEventModel{
		EventID:   e.EventID,
		SKU:       e.SKU,
		EventType: e.EventType,
		Quantity:  e.Quantity,
		Delta:     e.Delta,
		CreatedAt: e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrapf(err, "append stock event %s", e.EventID)
	}
	e.Seq = m.Seq
	return nil
}

func (s *GormProjectionStore) History(ctx context.Context, sku string) ([]domain.StockEvent, error) {
	var ms []StockEventModel
	err := s.db.WithContext(ctx).Where("sku = ?", sku).Order("created_at ASC").Order("seq ASC").Find(&ms).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load stock history %s", sku)
	}
	out := make([]domain.StockEvent, 0, len(ms))
	for i := range ms {
		out = append(out, toDomainEvent(&ms[i]))
	}
	return out, nil
}

// outboxRecorder binds the outbox appender to a transaction.
type outboxRecorder struct {
	tx       *gorm.DB
	appender *outbox.Appender
}

func (r outboxRecorder) Record(ctx context.Context, msg outbox.Message) error {
	return r.appender.Append(ctx, r.tx, msg)
}
