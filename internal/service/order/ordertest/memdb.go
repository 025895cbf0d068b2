// Package ordertest provides an in-memory order unit of work for tests.
package ordertest

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/order/domain"
)

// DB is an in-memory domain.UnitOfWork. Transactions are serialized and rolled back
// on error. Orders are copied in and out so callers never share state with the store.
type DB struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	markers map[string]time.Time
	outbox  []outbox.Message

	// FailUpdate makes every Update fail, for exercising rollback paths.
	FailUpdate error
}

func New() *DB {
	return &DB{orders: map[string]domain.Order{}, markers: map[string]time.Time{}}
}

func clone(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}

func (m *DB) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := make(map[string]domain.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	markers := make(map[string]time.Time, len(m.markers))
	for k, v := range m.markers {
		markers[k] = v
	}
	box := append([]outbox.Message(nil), m.outbox...)

	if err := fn(ctx, memTx{m}); err != nil {
		m.orders, m.markers, m.outbox = orders, markers, box
		return err
	}
	return nil
}

// Order returns a copy of the stored order.
func (m *DB) Order(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return clone(o), ok
}

// Orders returns every stored order.
func (m *DB) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, clone(o))
	}
	return out
}

// Put stores o as is.
func (m *DB) Put(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = clone(o)
}

// Messages returns the recorded outbox messages of eventType, or all when empty.
func (m *DB) Messages(eventType string) []outbox.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbox.Message
	for _, msg := range m.outbox {
		if eventType == "" || msg.Payload.EventType() == eventType {
			out = append(out, msg)
		}
	}
	return out
}

func (m *DB) Marked(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[eventID]
	return ok
}

type memTx struct{ m *DB }

func (t memTx) Orders() domain.OrderRepository { return memOrders(t) }
func (t memTx) Outbox() domain.EventRecorder   { return memOutbox(t) }
func (t memTx) Markers() domain.MarkerStore    { return memMarkers(t) }

type memOrders memTx

func (r memOrders) Create(_ context.Context, o *domain.Order) error {
	if _, ok := r.m.orders[o.ID]; ok {
		return errors.Errorf("order %s already exists", o.ID)
	}
	r.m.orders[o.ID] = clone(*o)
	return nil
}

func (r memOrders) Update(_ context.Context, o *domain.Order) error {
	if r.m.FailUpdate != nil {
		return r.m.FailUpdate
	}
	if _, ok := r.m.orders[o.ID]; !ok {
		return errors.Wrapf(errs.ErrNotFound, "order %s", o.ID)
	}
	r.m.orders[o.ID] = clone(*o)
	return nil
}

func (r memOrders) FindByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := r.m.orders[id]
	if !ok {
		return nil, errors.Wrapf(errs.ErrNotFound, "order %s", id)
	}
	c := clone(o)
	return &c, nil
}

type memOutbox memTx

func (r memOutbox) Record(_ context.Context, msg outbox.Message) error {
	r.m.outbox = append(r.m.outbox, msg)
	return nil
}

type memMarkers memTx

func (r memMarkers) Processed(_ context.Context, id string) (bool, error) {
	_, ok := r.m.markers[id]
	return ok, nil
}

func (r memMarkers) MarkProcessed(_ context.Context, id string, at time.Time) error {
	r.m.markers[id] = at
	return nil
}
