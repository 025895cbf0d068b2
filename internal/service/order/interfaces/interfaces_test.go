package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eatcloud/internal/lock"
	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/mq"
	"eatcloud/internal/service/order/application"
	"eatcloud/internal/service/order/application/saga"
	"eatcloud/internal/service/order/domain"
	"eatcloud/internal/service/order/domain/port"
	"eatcloud/internal/service/order/ordertest"
)

type stubCart struct{ items []port.CartItem }

func (c stubCart) GetCart(context.Context, string) ([]port.CartItem, error) { return c.items, nil }
func (stubCart) ClearCart(context.Context, string) error                   { return nil }

type stubPoints struct{}

func (stubPoints) ReservePoints(context.Context, port.PointRequest) (*port.PointReply, error) {
	return &port.PointReply{Success: true, ReservationID: "r1"}, nil
}
func (stubPoints) CancelReservation(context.Context, port.PointRequest) (*port.PointReply, error) {
	return &port.PointReply{Success: true}, nil
}

type stubPayments struct{}

func (stubPayments) RequestPayment(_ context.Context, req port.PaymentRequest) (*port.PaymentReply, error) {
	return &port.PaymentReply{Success: true, PaymentURL: "https://pay.example/" + req.OrderID}, nil
}
func (stubPayments) CancelPaymentRequest(context.Context, port.PaymentRequest) (*port.PaymentReply, error) {
	return &port.PaymentReply{Success: true}, nil
}

type recordingEmitter struct{ payments []port.PaymentRequest }

func (*recordingEmitter) EmitPointCancel(context.Context, port.PointRequest) error { return nil }
func (e *recordingEmitter) EmitPaymentCancel(_ context.Context, req port.PaymentRequest) error {
	e.payments = append(e.payments, req)
	return nil
}

func newServer(t *testing.T, cart []port.CartItem) (*http.ServeMux, *ordertest.DB) {
	t.Helper()
	db := ordertest.New()
	policy, err := saga.NewPointsPolicy("points >= 0 && points <= total")
	require.NoError(t, err)
	svc := application.NewOrderApplicationService(db, lock.NewManager(lock.NewLocal(time.Millisecond)),
		stubCart{items: cart}, stubPoints{}, stubPayments{}, policy,
		application.SagaConfig{LockWait: time.Second, LockLease: time.Second})
	mux := http.NewServeMux()
	NewOrderHandler(svc).RegisterRoutes(mux)
	return mux, db
}

func post(mux http.Handler, customer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	if customer != "" {
		req.Header.Set(HeaderCustomerID, customer)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func problemCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var p struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p.Code
}

func TestCreateAndGetOrder(t *testing.T) {
	mux, _ := newServer(t, []port.CartItem{{MenuID: "m1", MenuName: "Rice", Quantity: 2, Price: 9000}})

	rec := post(mux, "c1", `{"storeId":"s1","usePoints":true,"pointsToUse":1000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conf application.OrderConfirmation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conf))
	assert.Equal(t, int64(17000), conf.FinalAmount)

	req := httptest.NewRequest(http.MethodGet, "/orders/"+conf.OrderID, nil)
	req.Header.Set(HeaderCustomerID, "c1")
	got := httptest.NewRecorder()
	mux.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)
	var view orderView
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &view))
	assert.Equal(t, domain.StatusPending, view.Status)
	require.Len(t, view.Lines, 1)

	req = httptest.NewRequest(http.MethodGet, "/orders/"+conf.OrderID, nil)
	req.Header.Set(HeaderCustomerID, "someone-else")
	other := httptest.NewRecorder()
	mux.ServeHTTP(other, req)
	assert.Equal(t, http.StatusNotFound, other.Code)
}

func TestCreateOrderErrors(t *testing.T) {
	full := []port.CartItem{{MenuID: "m1", Quantity: 1, Price: 1000}}
	cases := []struct {
		name     string
		cart     []port.CartItem
		customer string
		body     string
		status   int
		code     string
	}{
		{"malformed body", full, "c1", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing store", full, "c1", `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing customer", full, "", `{"storeId":"s1"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty cart", nil, "c1", `{"storeId":"s1"}`, http.StatusBadRequest, "CART_EMPTY"},
		{"points above total", full, "c1", `{"storeId":"s1","usePoints":true,"pointsToUse":5000}`, http.StatusBadRequest, "POINTS_EXCEED_TOTAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, _ := newServer(t, tc.cart)
			rec := post(mux, tc.customer, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, problemCode(t, rec))
		})
	}
}

func TestGetUnknownOrder(t *testing.T) {
	mux, _ := newServer(t, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func stockMessage(t *testing.T, id string, p outbox.Payload) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.Envelope{ID: id, EventType: p.EventType(), Payload: raw, CreatedAt: time.Now()})
	require.NoError(t, err)
	return kafka.Message{Topic: "stock-events", Value: body}
}

func storedOrder(t *testing.T, db *ordertest.DB) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder("c1", "s1", []domain.OrderLine{{MenuID: "m1", Quantity: 1, UnitPrice: 1000}}, 0, time.Now())
	require.NoError(t, err)
	db.Put(*o)
	return o
}

func TestStockShortageHandler(t *testing.T) {
	db := ordertest.New()
	emitter := &recordingEmitter{}
	h := StockShortageHandler(application.NewCompensationService(db, emitter))
	o := storedOrder(t, db)

	require.NoError(t, h(t.Context(), stockMessage(t, "e0", outbox.StockReserved{StockLine: outbox.StockLine{MenuID: "m1", OrderID: o.ID}})))
	got, _ := db.Order(o.ID)
	assert.Equal(t, domain.StatusPending, got.Status)

	require.NoError(t, h(t.Context(), stockMessage(t, "e1", outbox.StockInsufficient{MenuID: "m1", OrderID: o.ID, RequestedQty: 3})))
	got, _ = db.Order(o.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, application.ReasonStockInsufficient, got.CancelReason)
	assert.Len(t, emitter.payments, 1)

	err := h(t.Context(), kafka.Message{Value: []byte("garbage")})
	assert.Error(t, err)
}

func TestPaymentHandlers(t *testing.T) {
	db := ordertest.New()
	svc := application.NewPaymentOutcomeService(db)
	paid := storedOrder(t, db)
	failed := storedOrder(t, db)

	require.NoError(t, PaymentCompletedHandler(svc)(t.Context(), kafka.Message{Value: []byte(`{"paymentId":"p1","orderId":"` + paid.ID + `"}`)}))
	require.NoError(t, PaymentFailedHandler(svc)(t.Context(), kafka.Message{Value: []byte(`{"orderId":"` + failed.ID + `","failureReason":"declined"}`)}))
	assert.Error(t, PaymentCompletedHandler(svc)(t.Context(), kafka.Message{Value: []byte(`{`)}))

	p, _ := db.Order(paid.ID)
	f, _ := db.Order(failed.ID)
	assert.Equal(t, domain.StatusPaid, p.Status)
	assert.Equal(t, domain.StatusPaymentFailed, f.Status)
}

type captureHub struct{ msgs [][]byte }

func (h *captureHub) Broadcast(msg []byte) int {
	h.msgs = append(h.msgs, msg)
	return 1
}

func TestDeadLetterHandlerBroadcastsAndNeverFails(t *testing.T) {
	hub := &captureHub{}
	big := `{"data":"` + strings.Repeat("x", 3000) + `"}`
	msg := kafka.Message{
		Topic: "payment.completed.dlt",
		Key:   []byte("o1"),
		Value: []byte(big),
		Headers: []kafka.Header{
			{Key: mq.HeaderExceptionMessage, Value: []byte("order not found")},
			{Key: mq.HeaderOriginalOffset, Value: []byte("42")},
		},
	}
	require.NoError(t, DeadLetterHandler(hub)(t.Context(), msg))
	require.NoError(t, DeadLetterHandler(hub)(t.Context(), kafka.Message{Topic: "x.dlt", Value: []byte("not json")}))

	require.Len(t, hub.msgs, 2)
	var alert DeadLetterAlert
	require.NoError(t, json.Unmarshal(hub.msgs[0], &alert))
	assert.Equal(t, "payment.completed", alert.OriginalTopic)
	assert.Equal(t, "42", alert.OriginalOffset)
	assert.Equal(t, "order not found", alert.ExceptionMessage)
	assert.True(t, strings.HasSuffix(alert.Payload, "...(truncated)"))
	assert.LessOrEqual(t, len(alert.Payload), maxAlertPayload+len("...(truncated)"))
}

func TestPrettyPayloadIndentsJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", prettyPayload([]byte(`{"a":1}`)))
	assert.Equal(t, "plain", prettyPayload([]byte("plain")))
}
