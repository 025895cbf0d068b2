package interfaces

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/service/order/application"
	"eatcloud/internal/service/order/domain"
)

// HeaderCustomerID carries the authenticated customer, set by the gateway.
const HeaderCustomerID = "X-Customer-Id"

// OrderHandler exposes the order saga over HTTP.
type OrderHandler struct {
	service  *application.OrderApplicationService
	validate *validator.Validate
}

func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service, validate: validator.New()}
}

func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", h.createOrder)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
}

type orderLineView struct {
	LineID    string `json:"lineId"`
	MenuID    string `json:"menuId"`
	MenuName  string `json:"menuName"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type orderView struct {
	OrderID      string          `json:"orderId"`
	OrderNumber  string          `json:"orderNumber"`
	CustomerID   string          `json:"customerId"`
	StoreID      string          `json:"storeId"`
	Lines        []orderLineView `json:"lines"`
	TotalPrice   int64           `json:"totalPrice"`
	PointsToUse  int64           `json:"pointsToUse"`
	FinalAmount  int64           `json:"finalPaymentAmount"`
	Status       domain.Status   `json:"orderStatus"`
	PaymentURL   string          `json:"paymentUrl,omitempty"`
	CancelReason string          `json:"cancelReason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func viewOf(o *domain.Order) orderView {
	lines := make([]orderLineView, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = orderLineView{LineID: l.ID, MenuID: l.MenuID, MenuName: l.MenuName, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return orderView{
		OrderID:      o.ID,
		OrderNumber:  o.OrderNumber,
		CustomerID:   o.CustomerID,
		StoreID:      o.StoreID,
		Lines:        lines,
		TotalPrice:   o.TotalPrice,
		PointsToUse:  o.PointsToUse,
		FinalAmount:  o.FinalAmount,
		Status:       o.Status,
		PaymentURL:   o.PaymentURL,
		CancelReason: o.CancelReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	ev := logger.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("order request failed")
	errs.WriteProblem(w, err)
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	r = r.WithContext(ctx)

	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteProblem(w, errs.ErrInvalidRequest.With("malformed json body", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		errs.WriteProblem(w, errs.ErrInvalidRequest.With(err.Error(), nil))
		return
	}
	customerID := r.Header.Get(HeaderCustomerID)
	if customerID == "" {
		errs.WriteProblem(w, errs.ErrInvalidRequest.With(HeaderCustomerID+" header is required", nil))
		return
	}

	conf, err := h.service.CreateOrderSaga(ctx, customerID, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conf)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if c := r.Header.Get(HeaderCustomerID); c != "" && c != order.CustomerID {
		errs.WriteProblem(w, errs.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(order))
}
