// internal/service/store/domain/repository.go
package domain

import (
	"context"
	"time"

	"eatcloud/internal/outbox"
)

// StockStore mutates stock rows with guarded single statements. Each method reports
// whether the guard held (one row updated).
type StockStore interface {
	// Reserve moves qty from available to reserved if available >= qty.
	Reserve(ctx context.Context, sku string, qty int64) (bool, error)
	// Consume drops qty from reserved if reserved >= qty.
	Consume(ctx context.Context, sku string, qty int64) (bool, error)
	// Release moves qty from reserved back to available if reserved >= qty.
	Release(ctx context.Context, sku string, qty int64) (bool, error)
	// Adjust adds a signed delta to available unless it would go negative.
	Adjust(ctx context.Context, sku string, delta int64) (bool, error)
	// Create inserts a 0/0 row; it reports false if the SKU already exists.
	Create(ctx context.Context, sku string) (bool, error)
	Get(ctx context.Context, sku string) (*Stock, error)
}

type ReservationStore interface {
	// FindByOrderLine returns errs.ErrNotFound when the line has no reservation.
	FindByOrderLine(ctx context.Context, orderLineID string) (*Reservation, error)
	FindByOrder(ctx context.Context, orderID string) ([]Reservation, error)
	Create(ctx context.Context, r *Reservation) error
	UpdateStatus(ctx context.Context, id string, status ReservationStatus, reason string) error
	// FindExpired lists pending reservations with expires_at <= now, oldest first.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
}

type ProjectionStore interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
	// Load returns errs.ErrNotFound when the SKU has no projection yet.
	Load(ctx context.Context, sku string) (*Projection, error)
	// Save inserts or overwrites the projection row.
	Save(ctx context.Context, p *Projection) error
	AppendLog(ctx context.Context, e *StockEvent) error
	// History returns the log of sku ordered by created_at, seq.
	History(ctx context.Context, sku string) ([]StockEvent, error)
}

// EventRecorder appends outbox messages to the current transaction.
type EventRecorder interface {
	Record(ctx context.Context, msg outbox.Message) error
}

// Tx exposes the stores bound to one database transaction.
type Tx interface {
	Stocks() StockStore
	Reservations() ReservationStore
	Projections() ProjectionStore
	Outbox() EventRecorder
}

// UnitOfWork runs fn in one transaction, committing when fn returns nil.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
