// internal/service/order/application/service.go
package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"eatcloud/internal/lock"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/metrics"
	sagatx "eatcloud/internal/saga"
	"eatcloud/internal/service/order/application/saga"
	"eatcloud/internal/service/order/domain"
	"eatcloud/internal/service/order/domain/port"
)

type SagaConfig struct {
	LockWait  time.Duration
	LockLease time.Duration
	// Timeout bounds the whole chain once the lock is held. It never exceeds
	// LockLease, zero means the lease alone bounds it.
	Timeout time.Duration
}

func (c SagaConfig) sagaTimeout() time.Duration {
	if c.Timeout <= 0 || c.Timeout > c.LockLease {
		return c.LockLease
	}
	return c.Timeout
}

// OrderApplicationService runs the order saga and answers order queries.
type OrderApplicationService struct {
	uow      domain.UnitOfWork
	locks    *lock.Manager
	cart     port.CartService
	points   port.PointService
	payments port.PaymentService
	policy   *saga.PointsPolicy
	cfg      SagaConfig
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

func NewOrderApplicationService(
	uow domain.UnitOfWork,
	locks *lock.Manager,
	cart port.CartService,
	points port.PointService,
	payments port.PaymentService,
	policy *saga.PointsPolicy,
	cfg SagaConfig,
) *OrderApplicationService {
	return &OrderApplicationService{
		uow:      uow,
		locks:    locks,
		cart:     cart,
		points:   points,
		payments: payments,
		policy:   policy,
		cfg:      cfg,
		tracer:   otel.Tracer("eatcloud/order"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func customerKey(customerID string) string { return "order:create:" + customerID }

// CreateOrderSaga turns the customer's cart into a PENDING order with reserved points and
// a payment request. Only one saga per customer runs at a time. Any failure unwinds the
// completed steps and is returned as *errs.SagaError.
func (s *OrderApplicationService) CreateOrderSaga(ctx context.Context, customerID string, req CreateOrderRequest) (*OrderConfirmation, error) {
	tx := sagatx.New(s.newID())
	ctx, span := s.tracer.Start(ctx, "app.CreateOrderSaga", trace.WithAttributes(
		attribute.String("saga.id", tx.ID),
		attribute.String("customer.id", customerID),
		attribute.String("store.id", req.StoreID),
	))
	defer span.End()

	log := logger.Ctx(ctx)
	log.Info().Str("saga_id", tx.ID).Str("customer_id", customerID).Str("store_id", req.StoreID).Msg("starting order saga")

	if customerID == "" {
		return nil, s.fail(ctx, span, tx, errs.ErrInvalidRequest.With("customer id is required", nil), "validate")
	}

	order, err := lock.With(ctx, s.locks, customerKey(customerID), s.cfg.LockWait, s.cfg.LockLease,
		func(ctx context.Context) (*domain.Order, error) {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.sagaTimeout())
			defer cancel()
			orderCtx := &saga.OrderContext{
				Ctx:            ctx,
				Tracer:         s.tracer,
				Saga:           tx,
				Now:            s.now,
				CustomerID:     customerID,
				StoreID:        req.StoreID,
				PointsToUse:    req.points(),
				CartService:    s.cart,
				PointService:   s.points,
				PaymentService: s.payments,
			}
			if err := s.buildChain().Handle(orderCtx); err != nil {
				return nil, err
			}
			return orderCtx.Order, nil
		})
	if err != nil {
		stage := "step"
		var timeout *errs.TimeoutError
		if errors.As(err, &timeout) && strings.HasPrefix(timeout.Resource, "lock:") {
			stage = "lock"
		}
		return nil, s.fail(ctx, span, tx, err, stage)
	}

	tx.Complete()
	metrics.SagaTotal.WithLabelValues("completed").Inc()
	log.Info().Str("saga_id", tx.ID).Str("order_id", order.ID).Str("order_number", order.OrderNumber).Msg("order saga completed")
	return confirmationOf(order), nil
}

// fail compensates on a context that outlives a cancelled request and builds the SagaError.
func (s *OrderApplicationService) fail(ctx context.Context, span trace.Span, tx *sagatx.Transaction, cause error, stage string) error {
	failed := tx.Compensate(context.WithoutCancel(ctx))
	outcome := "compensated"
	if stage != "step" {
		outcome = "rejected"
	}
	metrics.SagaTotal.WithLabelValues(outcome).Inc()

	sagaErr := &errs.SagaError{SagaID: tx.ID, Cause: cause, Failed: failed}
	span.RecordError(sagaErr)
	span.SetStatus(codes.Error, "order saga failed")
	ev := logger.Ctx(ctx).Warn()
	if len(failed) > 0 {
		ev = logger.Ctx(ctx).Error().Int("unreverted", len(failed))
	}
	ev.Err(cause).Str("saga_id", tx.ID).Str("stage", stage).Msg("order saga failed")
	return sagaErr
}

func (s *OrderApplicationService) buildChain() saga.Handler {
	chain := new(saga.LoadCartHandler)
	chain.
		SetNext(saga.NewPricePolicyHandler(s.policy)).
		SetNext(saga.NewCreateOrderHandler(s.uow)).
		SetNext(new(saga.ReservePointsHandler)).
		SetNext(saga.NewRequestPaymentHandler(s.uow)).
		SetNext(new(saga.ClearCartHandler))
	return chain
}

// GetOrder returns an order by id.
func (s *OrderApplicationService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var order *domain.Order
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.Orders().FindByID(ctx, id)
		return err
	})
	return order, err
}
