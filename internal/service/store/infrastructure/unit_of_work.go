package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"eatcloud/internal/outbox"
	"eatcloud/internal/service/store/domain"
)

// UnitOfWork opens one GORM transaction per Do and hands fn stores bound to it.
type UnitOfWork struct {
	db       *gorm.DB
	appender *outbox.Appender
}

func NewUnitOfWork(db *gorm.DB, appender *outbox.Appender) *UnitOfWork {
	return &UnitOfWork{db: db, appender: appender}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormTx{tx: tx, appender: u.appender})
	})
}

type gormTx struct {
	tx       *gorm.DB
	appender *outbox.Appender
}

func (t *gormTx) Stocks() domain.StockStore             { return NewGormStockStore(t.tx) }
func (t *gormTx) Reservations() domain.ReservationStore { return NewGormReservationStore(t.tx) }
func (t *gormTx) Projections() domain.ProjectionStore   { return NewGormProjectionStore(t.tx) }
func (t *gormTx) Outbox() domain.EventRecorder          { return outboxRecorder{tx: t.tx, appender: t.appender} }
