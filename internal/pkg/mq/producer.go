// internal/pkg/mq/producer.go
package mq

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JSONProducer sends JSON encoded values to arbitrary topics over one topic-less writer.
type JSONProducer struct {
	writer MessageWriter
	tracer trace.Tracer
}

func NewJSONProducer(w MessageWriter) *JSONProducer {
	return &JSONProducer{writer: w, tracer: otel.Tracer("eatcloud/mq")}
}

// Send marshals v and writes it to topic keyed by key.
func (p *JSONProducer) Send(ctx context.Context, topic, key string, v any) error {
	ctx, span := p.tracer.Start(ctx, "kafka.produce "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.kafka.message.key", key),
		))
	defer span.End()

	body, err := json.Marshal(v)
	if err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "marshal message for %s", topic)
	}
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: body}
	InjectTraceContext(ctx, &msg.Headers)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "write to %s", topic)
	}
	return nil
}
