package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/order/domain"
)

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	err := r.db.WithContext(ctx).Create(fromDomainOrder(order)).Error
	return errors.Wrapf(err, "insert order %s", order.ID)
}

// Update writes the mutable columns of the order. The row must exist.
func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	m := fromDomainOrder(order)
	res := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", order.ID).Updates(map[string]any{
		"status":        m.Status,
		"payment_url":   m.PaymentURL,
		"cancel_reason": m.CancelReason,
		"updated_at":    m.UpdatedAt,
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %s", order.ID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(errs.ErrNotFound, "order %s", order.ID)
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var m OrderModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errs.ErrNotFound, "order %s", id)
		}
		return nil, errors.Wrapf(err, "load order %s", id)
	}
	return toDomainOrder(&m), nil
}

type GormMarkerStore struct {
	db *gorm.DB
}

func NewGormMarkerStore(db *gorm.DB) *GormMarkerStore {
	return &GormMarkerStore{db: db}
}

func (s *GormMarkerStore) Processed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ProcessedModel{}).Where("event_id = ?", eventID).Count(&n).Error; err != nil {
		return false, errors.Wrapf(err, "check marker %s", eventID)
	}
	return n > 0, nil
}

func (s *GormMarkerStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	err := s.db.WithContext(ctx).Create(&ProcessedModel{EventID: eventID, ProcessedAt: at}).Error
	return errors.Wrapf(err, "insert marker %s", eventID)
}

type outboxRecorder struct {
	tx       *gorm.DB
	appender *outbox.Appender
}

func (r outboxRecorder) Record(ctx context.Context, msg outbox.Message) error {
	return r.appender.Append(ctx, r.tx, msg)
}
