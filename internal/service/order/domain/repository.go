// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"

	"eatcloud/internal/outbox"
)

// OrderRepository persists the order aggregate. FindByID returns an error wrapping
// errs.ErrNotFound for an unknown id.
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	Update(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
}

// EventRecorder appends outbox rows inside the current transaction.
type EventRecorder interface {
	Record(ctx context.Context, msg outbox.Message) error
}

// MarkerStore remembers consumed event ids so redelivered events are skipped.
type MarkerStore interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
}

// Tx is one database transaction of the order service.
type Tx interface {
	Orders() OrderRepository
	Outbox() EventRecorder
	Markers() MarkerStore
}

// UnitOfWork runs fn in a transaction that commits when fn returns nil.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
