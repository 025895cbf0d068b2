package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	HeaderTraceID   = "traceId"
	HeaderSagaID    = "sagaId"
	HeaderSource    = "source"
	HeaderEventType = "eventType"
)

// Message is what a domain operation hands to the outbox.
type Message struct {
	AggregateType string
	AggregateID   string
	Payload       Payload
	Headers       map[string]string
}

// DefaultHeaders builds the standard header set, leaving out empty values.
func DefaultHeaders(traceID, sagaID, source string) map[string]string {
	h := map[string]string{}
	for k, v := range map[string]string{HeaderTraceID: traceID, HeaderSagaID: sagaID, HeaderSource: source} {
		if v != "" {
			h[k] = v
		}
	}
	return h
}

// Appender writes outbox rows inside the caller's transaction. It never publishes.
type Appender struct {
	now   func() time.Time
	newID func() string
}

func NewAppender() *Appender {
	return &Appender{now: time.Now, newID: uuid.NewString}
}

// Append inserts one PENDING row due immediately. The span context of ctx is stored
// in the headers so the publisher can continue the trace.
func (a *Appender) Append(ctx context.Context, tx *gorm.DB, msg Message) error {
	if msg.Payload == nil {
		return errors.New("outbox message without payload")
	}
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", msg.Payload.EventType())
	}

	headers := propagation.MapCarrier{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, headers)
	rawHeaders, err := json.Marshal(headers)
	if err != nil {
		return errors.Wrap(err, "marshal outbox headers")
	}

	now := a.now().UTC()
	ev := &Event{
		ID:            a.newID(),
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.Payload.EventType(),
		Payload:       datatypes.JSON(body),
		Headers:       datatypes.JSON(rawHeaders),
		Status:        StatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	if err := tx.WithContext(ctx).Create(ev).Error; err != nil {
		return errors.Wrapf(err, "append %s to outbox", ev.EventType)
	}
	return nil
}
