package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"eatcloud/internal/outbox"
	"eatcloud/internal/service/order/domain"
)

// UnitOfWork opens one GORM transaction per Do. The order row, its outbox rows and
// the consumer markers commit together.
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

func (t *gormTx) Orders() domain.OrderRepository { return NewGormOrderRepository(t.tx) }
func (t *gormTx) Outbox() domain.EventRecorder   { return outboxRecorder{tx: t.tx, appender: t.appender} }
func (t *gormTx) Markers() domain.MarkerStore    { return NewGormMarkerStore(t.tx) }
