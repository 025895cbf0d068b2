package outbox

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"eatcloud/internal/pkg/mq"
)

// Broker publishes one message. Implementations must be safe for concurrent use.
type Broker interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// KafkaBroker keeps one kafka-go writer per topic, created on first use.
type KafkaBroker struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaBroker(brokers []string) *KafkaBroker {
	return &KafkaBroker{
		brokers: brokers,
		writers: map[string]*kafka.Writer{},
	}
}

func (b *KafkaBroker) writer(topic string) mq.MessageWriter {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := mq.NewKafkaWriter(b.brokers, topic)
	b.writers[topic] = w
	return w
}

func (b *KafkaBroker) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{Key: key, Value: value}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	mq.InjectTraceContext(ctx, &msg.Headers)
	if err := b.writer(topic).WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish to %s", topic)
	}
	return nil
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for topic, w := range b.writers {
		if err := w.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close writer %s", topic)
		}
		delete(b.writers, topic)
	}
	return first
}
