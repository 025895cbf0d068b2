// internal/service/store/application/inventory.go
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"eatcloud/internal/lock"
	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/service/store/domain"
)

const (
	source              = "store-service"
	headerCorrelationID = "correlationId"
	headerReason        = "reason"
	eventVersion        = 1

	ReasonTTLExpired = "TTL_EXPIRED"
)

type InventoryConfig struct {
	LockWait       time.Duration
	LockLease      time.Duration
	ReservationTTL time.Duration
}

// InventoryService is the reservation ledger. Every operation on a SKU runs under
// the lock "menu:<sku>" and in one transaction together with its outbox rows.
type InventoryService struct {
	uow    domain.UnitOfWork
	locks  *lock.Manager
	cfg    InventoryConfig
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

func NewInventoryService(uow domain.UnitOfWork, locks *lock.Manager, cfg InventoryConfig) *InventoryService {
	return &InventoryService{
		uow:    uow,
		locks:  locks,
		cfg:    cfg,
		tracer: otel.Tracer("eatcloud/store"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type ReserveCommand struct {
	OrderID     string
	OrderLineID string
	SKU         string
	Qty         int64
}

func menuKey(sku string) string { return "menu:" + sku }

func (s *InventoryService) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// underLock runs fn in one transaction while holding the SKU lock.
func (s *InventoryService) underLock(ctx context.Context, sku string, fn func(ctx context.Context, tx domain.Tx) error) error {
	_, err := lock.With(ctx, s.locks, menuKey(sku), s.cfg.LockWait, s.cfg.LockLease, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.uow.Do(ctx, fn)
	})
	return err
}

func (s *InventoryService) message(ctx context.Context, sku, correlationID string, p outbox.Payload, extra map[string]string) outbox.Message {
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		traceID = sc.TraceID().String()
	}
	h := outbox.DefaultHeaders(traceID, "", source)
	if correlationID != "" {
		h[headerCorrelationID] = correlationID
	}
	for k, v := range extra {
		h[k] = v
	}
	return outbox.Message{AggregateType: outbox.AggregateInventory, AggregateID: sku, Payload: p, Headers: h}
}

func (s *InventoryService) stockLine(r *domain.Reservation, at time.Time) outbox.StockLine {
	return outbox.StockLine{
		MenuID:        r.SKU,
		OrderID:       r.OrderID,
		OrderLineID:   r.OrderLineID,
		ReservationID: r.ID,
		Qty:           r.Quantity,
		OccurredAt:    at,
		EventVersion:  eventVersion,
	}
}

// Reserve holds qty units for one order line. A line that already has a reservation
// returns it unchanged. When stock is short the stock.insufficient event is still
// committed and errs.ErrInsufficientStock is returned.
func (s *InventoryService) Reserve(ctx context.Context, cmd ReserveCommand) (res *domain.Reservation, err error) {
	ctx, span := s.span(ctx, "Reserve",
		attribute.String("inventory.sku", cmd.SKU),
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.line_id", cmd.OrderLineID),
		attribute.Int64("inventory.qty", cmd.Qty))
	defer func() { endSpan(span, err) }()

	if cmd.Qty <= 0 || cmd.SKU == "" || cmd.OrderLineID == "" {
		return nil, errs.ErrInvalidRequest.With("reserve needs sku, order line and a positive quantity", nil)
	}

	insufficient := false
	err = s.underLock(ctx, cmd.SKU, func(ctx context.Context, tx domain.Tx) error {
		existing, err := tx.Reservations().FindByOrderLine(ctx, cmd.OrderLineID)
		if err == nil {
			res = existing
			return nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}

		ok, err := tx.Stocks().Reserve(ctx, cmd.SKU, cmd.Qty)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if !ok {
			insufficient = true
			return tx.Outbox().Record(ctx, s.message(ctx, cmd.SKU, cmd.OrderID, outbox.StockInsufficient{
				MenuID:       cmd.SKU,
				OrderID:      cmd.OrderID,
				OrderLineID:  cmd.OrderLineID,
				RequestedQty: cmd.Qty,
				OccurredAt:   now,
				EventVersion: eventVersion,
			}, map[string]string{headerReason: "OUT_OF_STOCK"}))
		}

		r := &domain.Reservation{
			ID:          s.newID(),
			SKU:         cmd.SKU,
			OrderID:     cmd.OrderID,
			OrderLineID: cmd.OrderLineID,
			Quantity:    cmd.Qty,
			Status:      domain.ReservationPending,
			ExpiresAt:   now.Add(s.cfg.ReservationTTL),
			CreatedAt:   now,
		}
		if err := tx.Reservations().Create(ctx, r); err != nil {
			return err
		}
		res = r
		return tx.Outbox().Record(ctx, s.message(ctx, cmd.SKU, cmd.OrderID, outbox.StockReserved{StockLine: s.stockLine(r, now)}, nil))
	})
	if err != nil {
		return nil, err
	}
	if insufficient {
		logger.Ctx(ctx).Info().Str("sku", cmd.SKU).Str("order_line_id", cmd.OrderLineID).Int64("qty", cmd.Qty).Msg("insufficient stock")
		return nil, errs.ErrInsufficientStock.With(fmt.Sprintf("menu %s cannot cover %d", cmd.SKU, cmd.Qty), nil)
	}
	return res, nil
}

// lookup reads the reservation of a line outside any lock. Missing lines yield nil.
func (s *InventoryService) lookup(ctx context.Context, orderLineID string) (*domain.Reservation, error) {
	var r *domain.Reservation
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		found, err := tx.Reservations().FindByOrderLine(ctx, orderLineID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		r = found
		return err
	})
	return r, err
}

// Confirm turns a pending reservation into consumed stock. Missing or terminal
// reservations are left alone.
func (s *InventoryService) Confirm(ctx context.Context, orderLineID string) (err error) {
	ctx, span := s.span(ctx, "Confirm", attribute.String("order.line_id", orderLineID))
	defer func() { endSpan(span, err) }()

	r, err := s.lookup(ctx, orderLineID)
	if err != nil || r == nil || !r.IsPending() {
		return err
	}
	return s.underLock(ctx, r.SKU, func(ctx context.Context, tx domain.Tx) error {
		cur, err := tx.Reservations().FindByOrderLine(ctx, orderLineID)
		if err != nil {
			return err
		}
		if !cur.IsPending() {
			return nil
		}
		ok, err := tx.Stocks().Consume(ctx, cur.SKU, cur.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return s.underflow(ctx, cur, "confirm")
		}
		if err := tx.Reservations().UpdateStatus(ctx, cur.ID, domain.ReservationConfirmed, ""); err != nil {
			return err
		}
		return tx.Outbox().Record(ctx, s.message(ctx, cur.SKU, cur.OrderID, outbox.StockCommitted{StockLine: s.stockLine(cur, s.now().UTC())}, nil))
	})
}

// Cancel returns a pending reservation to available stock.
func (s *InventoryService) Cancel(ctx context.Context, orderLineID, reason string) (err error) {
	ctx, span := s.span(ctx, "Cancel", attribute.String("order.line_id", orderLineID), attribute.String("reason", reason))
	defer func() { endSpan(span, err) }()

	r, err := s.lookup(ctx, orderLineID)
	if err != nil || r == nil || !r.IsPending() {
		return err
	}
	return s.underLock(ctx, r.SKU, func(ctx context.Context, tx domain.Tx) error {
		return s.cancelTx(ctx, tx, orderLineID, reason)
	})
}

func (s *InventoryService) cancelTx(ctx context.Context, tx domain.Tx, orderLineID, reason string) error {
	cur, err := tx.Reservations().FindByOrderLine(ctx, orderLineID)
	if err != nil {
		return err
	}
	if !cur.IsPending() {
		return nil
	}
	ok, err := tx.Stocks().Release(ctx, cur.SKU, cur.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return s.underflow(ctx, cur, "cancel")
	}
	if err := tx.Reservations().UpdateStatus(ctx, cur.ID, domain.ReservationCanceled, reason); err != nil {
		return err
	}
	return tx.Outbox().Record(ctx, s.message(ctx, cur.SKU, cur.OrderID, outbox.StockReleased{
		StockLine: s.stockLine(cur, s.now().UTC()),
		Reason:    reason,
	}, nil))
}

// CancelAfterConfirm gives confirmed units back to available stock. A pending
// reservation is cancelled instead; returned or cancelled ones are left alone.
func (s *InventoryService) CancelAfterConfirm(ctx context.Context, orderLineID, reason string) (err error) {
	ctx, span := s.span(ctx, "CancelAfterConfirm", attribute.String("order.line_id", orderLineID))
	defer func() { endSpan(span, err) }()

	r, err := s.lookup(ctx, orderLineID)
	if err != nil || r == nil {
		return err
	}
	switch r.Status {
	case domain.ReservationPending:
		return s.Cancel(ctx, orderLineID, reason)
	case domain.ReservationConfirmed:
	default:
		return nil
	}
	return s.underLock(ctx, r.SKU, func(ctx context.Context, tx domain.Tx) error {
		cur, err := tx.Reservations().FindByOrderLine(ctx, orderLineID)
		if err != nil {
			return err
		}
		switch cur.Status {
		case domain.ReservationPending:
			return s.cancelTx(ctx, tx, orderLineID, reason)
		case domain.ReservationConfirmed:
		default:
			return nil
		}
		ok, err := tx.Stocks().Adjust(ctx, cur.SKU, cur.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(errs.ErrAdjustFailed, "return %d of %s", cur.Quantity, cur.SKU)
		}
		if err := tx.Reservations().UpdateStatus(ctx, cur.ID, domain.ReservationReturned, reason); err != nil {
			return err
		}
		return tx.Outbox().Record(ctx, s.message(ctx, cur.SKU, cur.OrderID, outbox.StockReturned{
			StockLine: s.stockLine(cur, s.now().UTC()),
			Reason:    reason,
		}, nil))
	})
}

// Adjust applies an administrative signed delta to available stock.
func (s *InventoryService) Adjust(ctx context.Context, sku string, delta int64) (err error) {
	ctx, span := s.span(ctx, "Adjust", attribute.String("inventory.sku", sku), attribute.Int64("inventory.delta", delta))
	defer func() { endSpan(span, err) }()

	return s.underLock(ctx, sku, func(ctx context.Context, tx domain.Tx) error {
		return s.adjustTx(ctx, tx, sku, delta)
	})
}

func (s *InventoryService) adjustTx(ctx context.Context, tx domain.Tx, sku string, delta int64) error {
	ok, err := tx.Stocks().Adjust(ctx, sku, delta)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errs.ErrAdjustFailed, "adjust %s by %d", sku, delta)
	}
	return tx.Outbox().Record(ctx, s.message(ctx, sku, "ADMIN-ADJUST", outbox.StockAdjusted{
		MenuID:       sku,
		Delta:        delta,
		OccurredAt:   s.now().UTC(),
		EventVersion: eventVersion,
	}, nil))
}

// Provision creates the stock row at 0/0 and adjusts it to qty, so the event log
// alone describes the stock from its first unit.
func (s *InventoryService) Provision(ctx context.Context, sku string, qty int64) (err error) {
	ctx, span := s.span(ctx, "Provision", attribute.String("inventory.sku", sku), attribute.Int64("inventory.qty", qty))
	defer func() { endSpan(span, err) }()

	if sku == "" || qty < 0 {
		return errs.ErrInvalidRequest.With("provision needs a sku and a non-negative quantity", nil)
	}
	return s.underLock(ctx, sku, func(ctx context.Context, tx domain.Tx) error {
		created, err := tx.Stocks().Create(ctx, sku)
		if err != nil {
			return err
		}
		if !created {
			return errs.ErrInvalidRequest.With(fmt.Sprintf("menu %s already has stock", sku), nil)
		}
		if qty == 0 {
			return nil
		}
		return s.adjustTx(ctx, tx, sku, qty)
	})
}

// CancelOrder releases or returns every reservation of an order. It keeps going
// after a failing line and reports the first error.
func (s *InventoryService) CancelOrder(ctx context.Context, orderID, reason string) error {
	var lines []domain.Reservation
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		lines, err = tx.Reservations().FindByOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return err
	}
	var first error
	for _, r := range lines {
		var lerr error
		switch r.Status {
		case domain.ReservationPending:
			lerr = s.Cancel(ctx, r.OrderLineID, reason)
		case domain.ReservationConfirmed:
			lerr = s.CancelAfterConfirm(ctx, r.OrderLineID, reason)
		}
		if lerr != nil {
			logger.Ctx(ctx).Error().Err(lerr).Str("order_id", orderID).Str("order_line_id", r.OrderLineID).Msg("cancel reservation")
			if first == nil {
				first = lerr
			}
		}
	}
	return first
}

// Stock returns the authoritative counters of a SKU.
func (s *InventoryService) Stock(ctx context.Context, sku string) (*domain.Stock, error) {
	var st *domain.Stock
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		st, err = tx.Stocks().Get(ctx, sku)
		return err
	})
	return st, err
}

func (s *InventoryService) underflow(ctx context.Context, r *domain.Reservation, op string) error {
	logger.Ctx(ctx).Error().
		Str("alert", "MANUAL_INTERVENTION_REQUIRED").
		Str("sku", r.SKU).
		Str("order_line_id", r.OrderLineID).
		Int64("qty", r.Quantity).
		Str("op", op).
		Msg("reserved counter lower than reservation")
	return errors.Wrapf(errs.ErrReservedUnderflow, "%s %s: reserved < %d", op, r.SKU, r.Quantity)
}
