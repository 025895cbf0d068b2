package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/mq"
)

const maxAlertPayload = 1600

// Broadcaster pushes an alert to every connected operator. *wshub.Hub satisfies it.
type Broadcaster interface {
	Broadcast(msg []byte) int
}

// DeadLetterAlert is what operators receive for each dead letter message.
type DeadLetterAlert struct {
	Topic             string    `json:"topic"`
	OriginalTopic     string    `json:"originalTopic"`
	OriginalPartition string    `json:"originalPartition"`
	OriginalOffset    string    `json:"originalOffset"`
	ExceptionType     string    `json:"exceptionType"`
	ExceptionMessage  string    `json:"exceptionMessage"`
	Key               string    `json:"key"`
	Payload           string    `json:"payload"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

// prettyPayload indents JSON values and cuts the result to maxAlertPayload bytes.
func prettyPayload(raw []byte) string {
	var buf bytes.Buffer
	out := raw
	if json.Indent(&buf, raw, "", "  ") == nil {
		out = buf.Bytes()
	}
	if len(out) > maxAlertPayload {
		return string(out[:maxAlertPayload]) + "...(truncated)"
	}
	return string(out)
}

// DeadLetterHandler logs and broadcasts dead letter messages. It never fails, so
// the offset is always committed.
func DeadLetterHandler(hub Broadcaster) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		alert := DeadLetterAlert{
			Topic:             msg.Topic,
			OriginalTopic:     mq.HeaderValue(msg.Headers, mq.HeaderOriginalTopic),
			OriginalPartition: mq.HeaderValue(msg.Headers, mq.HeaderOriginalPartition),
			OriginalOffset:    mq.HeaderValue(msg.Headers, mq.HeaderOriginalOffset),
			ExceptionType:     mq.HeaderValue(msg.Headers, mq.HeaderExceptionFqcn),
			ExceptionMessage:  mq.HeaderValue(msg.Headers, mq.HeaderExceptionMessage),
			Key:               string(msg.Key),
			Payload:           prettyPayload(msg.Value),
			ReceivedAt:        time.Now().UTC(),
		}
		if alert.OriginalTopic == "" {
			alert.OriginalTopic = strings.TrimSuffix(strings.TrimSuffix(msg.Topic, ".dlt"), "-dlt")
		}

		logger.Ctx(ctx).Error().
			Str("reason", "dead_letter_message_received").
			Str("topic", alert.Topic).
			Str("original_topic", alert.OriginalTopic).
			Str("original_partition", alert.OriginalPartition).
			Str("original_offset", alert.OriginalOffset).
			Str("exception_fqcn", alert.ExceptionType).
			Str("exception_message", alert.ExceptionMessage).
			Str("key", alert.Key).
			Str("payload", alert.Payload).
			Msg("dead letter message received")

		body, err := json.Marshal(alert)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("encode dead letter alert")
			return nil
		}
		n := hub.Broadcast(body)
		logger.Ctx(ctx).Debug().Int("subscribers", n).Msg("dead letter alert broadcast")
		return nil
	}
}
