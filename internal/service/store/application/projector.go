package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"eatcloud/internal/outbox"
	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/metrics"
	"eatcloud/internal/service/store/domain"
)

// Projector folds stock events into the per-SKU read model, once per event id.
type Projector struct {
	uow    domain.UnitOfWork
	tracer trace.Tracer
	now    func() time.Time
}

func NewProjector(uow domain.UnitOfWork) *Projector {
	return &Projector{uow: uow, tracer: otel.Tracer("eatcloud/store"), now: time.Now}
}

// Apply projects one envelope: marker check, fold with clamping, projection save,
// event log append and marker insert, all in one transaction.
func (p *Projector) Apply(ctx context.Context, env outbox.Envelope) error {
	if env.ID == "" {
		logger.Ctx(ctx).Warn().Str("event_type", env.EventType).Msg("stock event without id, skipped")
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "projector.Apply", trace.WithAttributes(
		attribute.String("event.id", env.ID),
		attribute.String("event.type", env.EventType),
	))
	defer span.End()

	return p.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		store := tx.Projections()
		done, err := store.Processed(ctx, env.ID)
		if err != nil || done {
			return err
		}
		now := p.now().UTC()

		payload, err := env.Decode()
		if err != nil {
			if errors.Is(err, outbox.ErrUnknownEventType) {
				logger.Ctx(ctx).Warn().Str("event_id", env.ID).Str("event_type", env.EventType).Msg("unknown stock event type, marked processed")
				metrics.ProjectorApplied.WithLabelValues("unknown").Inc()
				return store.MarkProcessed(ctx, env.ID, now)
			}
			return err
		}
		move, sku, ok := domain.MovementOf(payload)
		if !ok {
			logger.Ctx(ctx).Warn().Str("event_id", env.ID).Str("event_type", env.EventType).Msg("not a stock event, marked processed")
			return store.MarkProcessed(ctx, env.ID, now)
		}
		if sku == "" {
			sku = env.AggregateID
		}
		if sku == "" {
			logger.Ctx(ctx).Warn().Str("event_id", env.ID).Msg("stock event without sku, marked processed")
			return store.MarkProcessed(ctx, env.ID, now)
		}

		view, err := store.Load(ctx, sku)
		if errors.Is(err, errs.ErrNotFound) {
			view, err = &domain.Projection{SKU: sku}, nil
		}
		if err != nil {
			return err
		}

		next, _ := domain.Counts{Avail: view.Avail, Reserved: view.Reserved}.Apply(move)
		view.Avail, view.Reserved, view.UpdatedAt = next.Avail, next.Reserved, now
		if err := store.Save(ctx, view); err != nil {
			return err
		}
		// Logged at apply time so (created_at, seq) is the order the live fold saw.
		if err := store.AppendLog(ctx, &domain.StockEvent{
			EventID:   env.ID,
			SKU:       sku,
			EventType: move.EventType,
			Quantity:  move.Qty,
			Delta:     move.Delta,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := store.MarkProcessed(ctx, env.ID, now); err != nil {
			return err
		}
		metrics.ProjectorApplied.WithLabelValues(move.EventType).Inc()
		logger.Ctx(ctx).Debug().Str("sku", sku).Str("event_type", move.EventType).
			Int64("avail", view.Avail).Int64("reserved", view.Reserved).Msg("projection updated")
		return nil
	})
}

// Projection returns the read model of a SKU.
func (p *Projector) Projection(ctx context.Context, sku string) (*domain.Projection, error) {
	var view *domain.Projection
	err := p.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		view, err = tx.Projections().Load(ctx, sku)
		return err
	})
	return view, err
}

// Replayer rebuilds projections from the stock event log.
type Replayer struct {
	uow domain.UnitOfWork
	now func() time.Time
}

func NewReplayer(uow domain.UnitOfWork) *Replayer {
	return &Replayer{uow: uow, now: time.Now}
}

// Rebuild folds the whole log of sku from zero and overwrites its projection.
func (r *Replayer) Rebuild(ctx context.Context, sku string) (*domain.Projection, error) {
	var view *domain.Projection
	err := r.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		history, err := tx.Projections().History(ctx, sku)
		if err != nil {
			return err
		}
		c := domain.Fold(history)
		view = &domain.Projection{SKU: sku, Avail: c.Avail, Reserved: c.Reserved, UpdatedAt: r.now().UTC()}
		return tx.Projections().Save(ctx, view)
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("sku", sku).Int64("avail", view.Avail).Int64("reserved", view.Reserved).Msg("projection rebuilt")
	return view, nil
}
