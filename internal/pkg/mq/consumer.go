// internal/pkg/mq/consumer.go
package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"eatcloud/internal/pkg/logger"
)

const maxHandOffBackoff = 30 * time.Second

// HandlerFunc processes one message. A nil error commits the offset.
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// Consumer drives a MessageReader: fetch, extract trace context, handle, hand off
// failures, commit. An offset is committed only once the message was handled or the
// FailureHandler took it. A failed hand-off keeps the offset and is retried.
type Consumer struct {
	name    string
	reader  MessageReader
	handle  HandlerFunc
	failure *FailureHandler
	tracer  trace.Tracer
	backoff time.Duration

	// in-place retries keep partition order: the message is retried before its successors
	inPlace     int
	inPlaceBase time.Duration
}

type ConsumerOption func(*Consumer)

// WithInPlaceRetry retries a failing message up to attempts times on the spot, waiting
// base, 2*base, 4*base... between tries, and then dead-letters it. Use it where the
// handler depends on per-key order, re-queueing onto the topic tail would break that.
func WithInPlaceRetry(attempts int, base time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.inPlace = attempts
		c.inPlaceBase = base
	}
}

// WithBackoff sets the pause after a fetch error or a failed hand-off.
func WithBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.backoff = d }
}

// NewConsumer builds a consumer. failure may be nil, in which case failed messages are logged and committed.
func NewConsumer(name string, reader MessageReader, handle HandlerFunc, failure *FailureHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		name:    name,
		reader:  reader,
		handle:  handle,
		failure: failure,
		tracer:  otel.Tracer("eatcloud/mq"),
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run blocks until ctx is done. It returns nil on a clean shutdown so it can run under an errgroup.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("consumer", c.name).Msg("kafka consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("consumer", c.name).Msg("close reader")
		}
		logger.Ctx(ctx).Info().Str("consumer", c.name).Msg("kafka consumer stopped")
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Msg("fetch message")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.process(ctx, msg) {
			// shutting down before the message was settled; it is redelivered on restart
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Msg("commit message")
		}
	}
}

// process reports whether msg is settled and its offset may be committed.
func (c *Consumer) process(parent context.Context, msg kafka.Message) bool {
	ctx := ExtractTraceContext(parent, msg.Headers)
	ctx, span := c.tracer.Start(ctx, c.name+" consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	err := c.handleInPlace(ctx, msg)
	if err == nil {
		return true
	}
	if parent.Err() != nil {
		return false
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if c.failure == nil {
		logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Str("topic", msg.Topic).Msg("message handling failed")
		return true
	}

	cause := err
	if c.inPlace > 0 {
		cause = Permanent(err)
	}
	wait := c.backoff
	for {
		herr := c.failure.Handle(ctx, msg, cause)
		if herr == nil {
			return true
		}
		logger.Ctx(ctx).Error().Err(herr).AnErr("cause", err).Str("consumer", c.name).
			Dur("retry_in", wait).Msg("failure hand-off failed, offset kept")
		if !sleep(parent, wait) {
			return false
		}
		wait = min(wait*2, maxHandOffBackoff)
	}
}

// handleInPlace runs the handler once plus the configured in-place retries.
// Permanent errors are not retried.
func (c *Consumer) handleInPlace(ctx context.Context, msg kafka.Message) error {
	err := c.handle(ctx, msg)
	wait := c.inPlaceBase
	for i := 0; err != nil && i < c.inPlace && !isPermanent(err); i++ {
		logger.Ctx(ctx).Warn().Err(err).Str("consumer", c.name).Int("attempt", i+1).
			Dur("retry_in", wait).Msg("retrying message in place")
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
		err = c.handle(ctx, msg)
		wait *= 2
	}
	return err
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
