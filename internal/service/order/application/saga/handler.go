package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sagatx "eatcloud/internal/saga"
	"eatcloud/internal/service/order/domain"
	"eatcloud/internal/service/order/domain/port"
)

// OrderContext carries the saga state from one handler to the next.
type OrderContext struct {
	Ctx    context.Context
	Tracer trace.Tracer
	Saga   *sagatx.Transaction
	Now    func() time.Time

	CustomerID  string
	StoreID     string
	PointsToUse int64

	// filled in by the steps
	Cart               []port.CartItem
	Lines              []domain.OrderLine
	Total              int64
	Order              *domain.Order
	PointReservationID string

	CartService    port.CartService
	PointService   port.PointService
	PaymentService port.PaymentService
}

func (c *OrderContext) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// TraceID returns the trace id of the saga context, or "".
func (c *OrderContext) TraceID() string {
	if sc := trace.SpanContextFromContext(c.Ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}

// startStep opens the span of one step. The returned context is the span-scoped
// context the step should pass to its ports.
func startStep(orderCtx *OrderContext, name string) (context.Context, trace.Span) {
	return orderCtx.Tracer.Start(orderCtx.Ctx, "saga."+name, trace.WithAttributes(
		attribute.String("saga.id", orderCtx.Saga.ID),
		attribute.String("customer.id", orderCtx.CustomerID),
	))
}

func failStep(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}
