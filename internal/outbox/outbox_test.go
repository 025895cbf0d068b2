package outbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDecodeClosedSet(t *testing.T) {
	raw := []byte(`{"menuId":"m1","orderId":"o1","orderLineId":"l1","qty":2}`)

	p, err := Decode(TypeStockReserved, raw)
	require.NoError(t, err)
	r, ok := p.(StockReserved)
	require.True(t, ok)
	assert.Equal(t, int64(2), r.Qty)
	assert.Equal(t, "l1", r.OrderLineID)

	p, err = Decode(TypeStockConfirmed, raw)
	require.NoError(t, err)
	assert.Equal(t, TypeStockCommitted, p.EventType())

	p, err = Decode(TypeStockCanceled, raw)
	require.NoError(t, err)
	assert.IsType(t, StockReleased{}, p)

	_, err = Decode("stock.teleported", raw)
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Decode(TypeOrderCreated, []byte(`not json`))
	assert.Error(t, err)
}

func TestTopicMappingResolveOrder(t *testing.T) {
	m := NewTopicMapping(map[string]string{
		"stock.reserved":        "stock-events",
		"ordercreatedevent":     "order.created",
		"order-cancelled-event": "order.cancelled",
	})

	topic, ok := m.Resolve("stock.reserved")
	assert.True(t, ok)
	assert.Equal(t, "stock-events", topic)

	topic, ok = m.Resolve(TypeOrderCreated)
	assert.True(t, ok)
	assert.Equal(t, "order.created", topic)

	topic, ok = m.Resolve(TypeOrderCancelled)
	assert.True(t, ok)
	assert.Equal(t, "order.cancelled", topic)

	_, ok = m.Resolve("stock.adjusted")
	assert.False(t, ok)
}

func TestTopicMappingValidateListsMissing(t *testing.T) {
	m := NewTopicMapping(map[string]string{TypeStockReserved: "stock-events"})
	err := m.Validate(TypeStockReserved, TypeStockReturned, TypeStockAdjusted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock.adjusted, stock.returned")
	assert.NoError(t, m.Validate(TypeStockReserved))
}

func TestLoadMappingFileKeepsCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mapping:\n  OrderCreatedEvent: order.created\n"), 0o644))

	got, err := LoadMappingFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"OrderCreatedEvent": "order.created"}, got)
}

func TestKebab(t *testing.T) {
	assert.Equal(t, "order-created-event", kebab("OrderCreatedEvent"))
	assert.Equal(t, "stock-reserved", kebab("stock.reserved"))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, 2*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Second, Backoff(2))
	assert.Equal(t, 32*time.Second, Backoff(5))
	assert.Equal(t, 60*time.Second, Backoff(6))
	assert.Equal(t, 60*time.Second, Backoff(40))
}

func TestParseEnvelopeUnwrapsString(t *testing.T) {
	env := Envelope{ID: "e1", EventType: TypeStockAdjusted, AggregateID: "m1", Payload: json.RawMessage(`{"menuId":"m1","delta":5}`)}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	double, err := json.Marshal(string(raw))
	require.NoError(t, err)

	for _, in := range [][]byte{raw, double} {
		got, err := ParseEnvelope(in)
		require.NoError(t, err)
		assert.Equal(t, "e1", got.ID)
		p, err := got.Decode()
		require.NoError(t, err)
		assert.Equal(t, int64(5), p.(StockAdjusted).Delta)
	}
}

// memStore is an in-memory Store with the same due-row semantics as Repository.
type memStore struct {
	mu     sync.Mutex
	events []Event
}

func (s *memStore) WithDueBatch(ctx context.Context, now time.Time, limit int, fn func(context.Context, Batch, []Event) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Event
	for _, e := range s.events {
		if (e.Status == StatusPending || e.Status == StatusFailed) && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	if len(due) == 0 {
		return nil
	}
	return fn(ctx, memBatch{s}, due)
}

func (s *memStore) get(id string) *Event {
	for i := range s.events {
		if s.events[i].ID == id {
			return &s.events[i]
		}
	}
	return nil
}

type memBatch struct{ s *memStore }

func (b memBatch) MarkSent(_ context.Context, id string) error {
	b.s.get(id).Status = StatusSent
	return nil
}

func (b memBatch) MarkFailed(_ context.Context, id string, retry int, next time.Time, lastErr string) error {
	e := b.s.get(id)
	e.Status, e.RetryCount, e.NextAttemptAt, e.LastError = StatusFailed, retry, next, lastErr
	return nil
}

type flakyBroker struct {
	mu       sync.Mutex
	failures map[string]int
	sent     []string
	topics   []string
	keys     []string
}

func (b *flakyBroker) Publish(_ context.Context, topic string, key, value []byte, _ map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return err
	}
	if b.failures[env.ID] > 0 {
		b.failures[env.ID]--
		return errors.New("broker unavailable")
	}
	b.sent = append(b.sent, env.ID)
	b.topics = append(b.topics, topic)
	b.keys = append(b.keys, string(key))
	return nil
}

func (b *flakyBroker) Close() error { return nil }

func stockEvent(id string, created time.Time) Event {
	return Event{
		ID:            id,
		AggregateType: AggregateInventory,
		AggregateID:   "menu-1",
		EventType:     TypeStockReserved,
		Payload:       datatypes.JSON(`{"menuId":"menu-1","orderId":"o1","orderLineId":"l1","qty":1}`),
		Status:        StatusPending,
		CreatedAt:     created,
		NextAttemptAt: created,
	}
}

func TestPublisherBacksOffThenDelivers(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{events: []Event{stockEvent("e1", start)}}
	broker := &flakyBroker{failures: map[string]int{"e1": 3}}
	p := NewPublisher(store, broker, NewTopicMapping(map[string]string{TypeStockReserved: "stock-events"}), 50, time.Second)

	now := start
	p.now = func() time.Time { return now }

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		res, err := p.PollOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{Failed: 1}, res)

		e := store.get("e1")
		assert.Equal(t, StatusFailed, e.Status)
		assert.Equal(t, i+1, e.RetryCount)
		assert.Contains(t, e.LastError, "broker unavailable")
		delays = append(delays, e.NextAttemptAt.Sub(now))

		// not due yet: nothing is claimed
		res, err = p.PollOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)

		now = e.NextAttemptAt
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1}, res)
	assert.Equal(t, StatusSent, store.get("e1").Status)
	assert.Equal(t, []string{"stock-events"}, broker.topics)
	assert.Equal(t, []string{"menu-1"}, broker.keys)
}

func TestPublisherBadEventDoesNotBlockBatch(t *testing.T) {
	start := time.Now().UTC().Add(-time.Minute)
	bad := stockEvent("a-bad", start)
	bad.EventType = "stock.unknown"
	unmapped := stockEvent("b-unmapped", start.Add(time.Millisecond))
	unmapped.EventType = TypeStockAdjusted
	unmapped.Payload = datatypes.JSON(`{"menuId":"menu-1","delta":3}`)
	good := stockEvent("c-good", start.Add(2*time.Millisecond))

	store := &memStore{events: []Event{good, unmapped, bad}}
	broker := &flakyBroker{failures: map[string]int{}}
	p := NewPublisher(store, broker, NewTopicMapping(map[string]string{TypeStockReserved: "stock-events"}), 50, time.Second)

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1, Failed: 2}, res)
	assert.Equal(t, []string{"c-good"}, broker.sent)
	assert.Equal(t, StatusFailed, store.get("a-bad").Status)
	assert.Contains(t, store.get("b-unmapped").LastError, "no topic mapped")
}

func TestPublisherRespectsBatchSizeAndOrder(t *testing.T) {
	start := time.Now().UTC().Add(-time.Minute)
	store := &memStore{events: []Event{
		stockEvent("3", start.Add(2*time.Second)),
		stockEvent("1", start),
		stockEvent("2", start.Add(time.Second)),
	}}
	broker := &flakyBroker{failures: map[string]int{}}
	p := NewPublisher(store, broker, NewTopicMapping(map[string]string{TypeStockReserved: "stock-events"}), 2, time.Second)

	res, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []string{"1", "2"}, broker.sent)
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestAppenderInsertsPendingRow(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO `outbox_events`").WillReturnResult(sqlmock.NewResult(0, 1))

	a := NewAppender()
	a.newID = func() string { return "evt-1" }
	err := a.Append(context.Background(), db, Message{
		AggregateType: AggregateOrder,
		AggregateID:   "o1",
		Payload:       OrderCancelled{OrderID: "o1", Reason: "STOCK_SHORTAGE"},
		Headers:       DefaultHeaders("", "saga-1", "order-service"),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryClaimsWithSkipLocked(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "headers", "status", "retry_count", "created_at", "next_attempt_at", "last_error"}).
		AddRow("e1", AggregateInventory, "m1", TypeStockReserved, []byte(`{}`), []byte(`{}`), "PENDING", 0, now, now, "")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `outbox_events` WHERE status IN \\(\\?,\\?\\) AND next_attempt_at <= \\? ORDER BY created_at ASC,id ASC LIMIT .* FOR UPDATE SKIP LOCKED").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE `outbox_events` SET .*`status`=\\?.* WHERE id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewRepository(db)
	var claimed []string
	err := repo.WithDueBatch(context.Background(), now, 50, func(ctx context.Context, b Batch, events []Event) error {
		for _, e := range events {
			claimed = append(claimed, e.ID)
			require.NoError(t, b.MarkSent(ctx, e.ID))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryEmptyBatchSkipsCallback(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `outbox_events`").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := NewRepository(db).WithDueBatch(context.Background(), time.Now(), 50, func(context.Context, Batch, []Event) error {
		t.Fatal("must not be called")
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
