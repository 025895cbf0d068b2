package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/metrics"
)

const maxBackoff = 60 * time.Second

// Backoff is the delay before the next attempt after prevRetry earlier failures:
// 1s, 2s, 4s ... capped at 60s.
func Backoff(prevRetry int) time.Duration {
	if prevRetry < 0 {
		prevRetry = 0
	}
	if prevRetry >= 6 {
		return maxBackoff
	}
	d := time.Duration(1<<prevRetry) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Result counts the outcome of one poll.
type Result struct {
	Sent   int
	Failed int
}

// Publisher relays due outbox rows to the broker.
type Publisher struct {
	store     Store
	broker    Broker
	mapping   *TopicMapping
	batchSize int
	interval  time.Duration
	now       func() time.Time
	tracer    trace.Tracer
}

func NewPublisher(store Store, broker Broker, mapping *TopicMapping, batchSize int, interval time.Duration) *Publisher {
	return &Publisher{
		store:     store,
		broker:    broker,
		mapping:   mapping,
		batchSize: batchSize,
		interval:  interval,
		now:       time.Now,
		tracer:    otel.Tracer("eatcloud/outbox"),
	}
}

// Run polls every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("outbox poll failed")
			}
		}
	}
}

// PollOnce claims one batch and publishes it. A failing event is rescheduled and
// never stops the rest of the batch. The error is non-nil only when claiming failed.
func (p *Publisher) PollOnce(ctx context.Context) (Result, error) {
	var res Result
	now := p.now().UTC()
	err := p.store.WithDueBatch(ctx, now, p.batchSize, func(ctx context.Context, b Batch, events []Event) error {
		for i := range events {
			ev := &events[i]
			if perr := p.publish(ctx, ev); perr != nil {
				res.Failed++
				next := now.Add(Backoff(ev.RetryCount))
				if err := b.MarkFailed(ctx, ev.ID, ev.RetryCount+1, next, perr.Error()); err != nil {
					return err
				}
				logger.Ctx(ctx).Warn().Err(perr).
					Str("event_id", ev.ID).
					Str("event_type", ev.EventType).
					Int("retry", ev.RetryCount+1).
					Time("next_attempt_at", next).
					Msg("outbox publish failed, rescheduled")
				continue
			}
			if err := b.MarkSent(ctx, ev.ID); err != nil {
				return err
			}
			res.Sent++
		}
		return nil
	})
	return res, err
}

func (p *Publisher) publish(parent context.Context, ev *Event) (err error) {
	headers := ev.HeaderMap()
	ctx := otel.GetTextMapPropagator().Extract(parent, propagation.MapCarrier(headers))
	ctx, span := p.tracer.Start(ctx, "outbox.publish "+ev.EventType,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("outbox.event_id", ev.ID),
			attribute.String("outbox.aggregate_id", ev.AggregateID),
		))
	defer func() {
		result := "sent"
		if err != nil {
			result = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.OutboxPublish.WithLabelValues(ev.EventType, result).Inc()
		span.End()
	}()

	if _, derr := Decode(ev.EventType, ev.Payload); derr != nil {
		return errors.Wrap(errs.ErrPublishFailed, derr.Error())
	}
	topic, ok := p.mapping.Resolve(ev.EventType)
	if !ok {
		return errors.Wrapf(errs.ErrPublishFailed, "no topic mapped for %s", ev.EventType)
	}
	value, merr := json.Marshal(NewEnvelope(ev))
	if merr != nil {
		return errors.Wrap(errs.ErrPublishFailed, merr.Error())
	}

	kh := map[string]string{HeaderEventType: ev.EventType}
	for k, v := range headers {
		kh[k] = v
	}
	if berr := p.broker.Publish(ctx, topic, []byte(ev.AggregateID), value, kh); berr != nil {
		return errors.Wrap(errs.ErrPublishFailed, berr.Error())
	}
	return nil
}
