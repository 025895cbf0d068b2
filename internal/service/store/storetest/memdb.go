// Package storetest provides an in-memory store unit of work for tests.
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/store/domain"
)

// DB is an in-memory domain.UnitOfWork. Transactions are serialized and rolled
// back on error, which is enough to exercise the guarded statements.
type DB struct {
	mu           sync.Mutex
	stocks       map[string]domain.Stock
	reservations map[string]domain.Reservation
	projections  map[string]domain.Projection
	markers      map[string]time.Time
	log          []domain.StockEvent
	outbox       []outbox.Message
	seq          int64
}

func New() *DB {
	return &DB{
		stocks:       map[string]domain.Stock{},
		reservations: map[string]domain.Reservation{},
		projections:  map[string]domain.Projection{},
		markers:      map[string]time.Time{},
	}
}

type memSnapshot struct {
	stocks       map[string]domain.Stock
	reservations map[string]domain.Reservation
	projections  map[string]domain.Projection
	markers      map[string]time.Time
	log          []domain.StockEvent
	outbox       []outbox.Message
	seq          int64
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *DB) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		stocks:       copyMap(m.stocks),
		reservations: copyMap(m.reservations),
		projections:  copyMap(m.projections),
		markers:      copyMap(m.markers),
		log:          append([]domain.StockEvent(nil), m.log...),
		outbox:       append([]outbox.Message(nil), m.outbox...),
		seq:          m.seq,
	}
	if err := fn(ctx, memTx{m}); err != nil {
		m.stocks, m.reservations, m.projections = snap.stocks, snap.reservations, snap.projections
		m.markers, m.log, m.outbox, m.seq = snap.markers, snap.log, snap.outbox, snap.seq
		return err
	}
	return nil
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

func (m *DB) Stock(sku string) domain.Stock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stocks[sku]
}

func (m *DB) Reservation(line string) domain.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservations[line]
}

// Envelopes turns the outbox rows into what the stock-events consumer receives.
func (m *DB) Envelopes() []outbox.Envelope {
	msgs := m.Messages("")
	out := make([]outbox.Envelope, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			panic(err)
		}
		out = append(out, outbox.Envelope{
			ID:            uuid.NewString(),
			EventType:     msg.Payload.EventType(),
			AggregateType: msg.AggregateType,
			AggregateID:   msg.AggregateID,
			Payload:       raw,
			Headers:       msg.Headers,
			CreatedAt:     time.Now().UTC(),
		})
	}
	return out
}

func (m *DB) SetStock(st domain.Stock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stocks[st.SKU] = st
}

func (m *DB) Projection(sku string) domain.Projection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projections[sku]
}

func (m *DB) SetProjection(p domain.Projection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projections[p.SKU] = p
}

// LogLen is the number of stock event log rows.
func (m *DB) LogLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

func (m *DB) Marked(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[eventID]
	return ok
}

func (m *DB) MarkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}

type memTx struct{ m *DB }

func (t memTx) Stocks() domain.StockStore             { return memStocks(t) }
func (t memTx) Reservations() domain.ReservationStore { return memReservations(t) }
func (t memTx) Projections() domain.ProjectionStore   { return memProjections(t) }
func (t memTx) Outbox() domain.EventRecorder          { return memRecorder(t) }

type memStocks struct{ m *DB }

func (s memStocks) update(sku string, guard func(domain.Stock) bool, apply func(*domain.Stock)) (bool, error) {
	st, ok := s.m.stocks[sku]
	if !ok || !guard(st) {
		return false, nil
	}
	apply(&st)
	st.Version++
	s.m.stocks[sku] = st
	return true, nil
}

func (s memStocks) Reserve(_ context.Context, sku string, qty int64) (bool, error) {
	return s.update(sku, func(st domain.Stock) bool { return st.Available >= qty }, func(st *domain.Stock) {
		st.Available -= qty
		st.Reserved += qty
	})
}

func (s memStocks) Consume(_ context.Context, sku string, qty int64) (bool, error) {
	return s.update(sku, func(st domain.Stock) bool { return st.Reserved >= qty }, func(st *domain.Stock) {
		st.Reserved -= qty
	})
}

func (s memStocks) Release(_ context.Context, sku string, qty int64) (bool, error) {
	return s.update(sku, func(st domain.Stock) bool { return st.Reserved >= qty }, func(st *domain.Stock) {
		st.Available += qty
		st.Reserved -= qty
	})
}

func (s memStocks) Adjust(_ context.Context, sku string, delta int64) (bool, error) {
	return s.update(sku, func(st domain.Stock) bool { return delta >= 0 || st.Available >= -delta }, func(st *domain.Stock) {
		st.Available += delta
	})
}

func (s memStocks) Create(_ context.Context, sku string) (bool, error) {
	if _, ok := s.m.stocks[sku]; ok {
		return false, nil
	}
	s.m.stocks[sku] = domain.Stock{SKU: sku}
	return true, nil
}

func (s memStocks) Get(_ context.Context, sku string) (*domain.Stock, error) {
	st, ok := s.m.stocks[sku]
	if !ok {
		return nil, errors.Wrap(errs.ErrNotFound, sku)
	}
	return &st, nil
}

type memReservations struct{ m *DB }

func (s memReservations) FindByOrderLine(_ context.Context, line string) (*domain.Reservation, error) {
	r, ok := s.m.reservations[line]
	if !ok {
		return nil, errors.Wrap(errs.ErrNotFound, line)
	}
	return &r, nil
}

func (s memReservations) FindByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range s.m.reservations {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderLineID < out[j].OrderLineID })
	return out, nil
}

func (s memReservations) Create(_ context.Context, r *domain.Reservation) error {
	if _, ok := s.m.reservations[r.OrderLineID]; ok {
		return errors.New("duplicate order_line_id")
	}
	s.m.reservations[r.OrderLineID] = *r
	return nil
}

func (s memReservations) UpdateStatus(_ context.Context, id string, status domain.ReservationStatus, reason string) error {
	for k, r := range s.m.reservations {
		if r.ID == id {
			r.Status, r.Reason = status, reason
			s.m.reservations[k] = r
			return nil
		}
	}
	return errors.Wrap(errs.ErrNotFound, id)
}

func (s memReservations) FindExpired(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, r := range s.m.reservations {
		if r.Expired(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memProjections struct{ m *DB }

func (s memProjections) Processed(_ context.Context, id string) (bool, error) {
	_, ok := s.m.markers[id]
	return ok, nil
}

func (s memProjections) MarkProcessed(_ context.Context, id string, at time.Time) error {
	if _, ok := s.m.markers[id]; ok {
		return errors.New("duplicate marker")
	}
	s.m.markers[id] = at
	return nil
}

func (s memProjections) Load(_ context.Context, sku string) (*domain.Projection, error) {
	p, ok := s.m.projections[sku]
	if !ok {
		return nil, errors.Wrap(errs.ErrNotFound, sku)
	}
	return &p, nil
}

func (s memProjections) Save(_ context.Context, p *domain.Projection) error {
	s.m.projections[p.SKU] = *p
	return nil
}

func (s memProjections) AppendLog(_ context.Context, e *domain.StockEvent) error {
	s.m.seq++
	e.Seq = s.m.seq
	s.m.log = append(s.m.log, *e)
	return nil
}

func (s memProjections) History(_ context.Context, sku string) ([]domain.StockEvent, error) {
	var out []domain.StockEvent
	for _, e := range s.m.log {
		if e.SKU == sku {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memRecorder struct{ m *DB }

func (r memRecorder) Record(_ context.Context, msg outbox.Message) error {
	r.m.outbox = append(r.m.outbox, msg)
	return nil
}
