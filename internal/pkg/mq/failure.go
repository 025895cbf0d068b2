// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"eatcloud/internal/pkg/logger"
)

const (
	HeaderOriginalTopic     = "original_topic"
	HeaderOriginalPartition = "original_partition"
	HeaderOriginalOffset    = "original_offset"
	HeaderExceptionFqcn     = "exception_fqcn"
	HeaderExceptionMessage  = "exception_message"
	HeaderRetryCount        = "retry_count"

	DLTSuffix = ".dlt"
)

// DLT returns the dead letter topic of topic.
func DLT(topic string) string { return topic + DLTSuffix }

// IsDLT reports whether topic is a dead letter topic (".dlt" or "-dlt" suffix).
func IsDLT(topic string) bool {
	return strings.HasSuffix(topic, ".dlt") || strings.HasSuffix(topic, "-dlt")
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the message goes straight to the DLT.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// FailureHandler re-queues a failed message onto its own topic until maxRetries
// is reached and then moves it to <topic>.dlt with diagnostic headers.
type FailureHandler struct {
	writer     MessageWriter
	maxRetries int
}

// NewFailureHandler needs a writer without a fixed topic.
func NewFailureHandler(w MessageWriter, maxRetries int) *FailureHandler {
	return &FailureHandler{writer: w, maxRetries: maxRetries}
}

// Handle never returns the processing error; it returns only a failure to hand the message off.
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	origTopic := HeaderValue(msg.Headers, HeaderOriginalTopic)
	if origTopic == "" {
		origTopic = msg.Topic
	}
	retries, _ := strconv.Atoi(HeaderValue(msg.Headers, HeaderRetryCount))

	headers := KafkaHeaderCarrier(append([]kafka.Header(nil), msg.Headers...))
	out := kafka.Message{Key: msg.Key, Value: msg.Value}

	headers.Set(HeaderOriginalTopic, origTopic)
	if HeaderValue(msg.Headers, HeaderOriginalPartition) == "" {
		headers.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
		headers.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	}

	if isPermanent(cause) || retries >= h.maxRetries {
		out.Topic = DLT(origTopic)
		headers.Set(HeaderExceptionFqcn, fmt.Sprintf("%T", rootCause(cause)))
		headers.Set(HeaderExceptionMessage, cause.Error())
		logger.Ctx(ctx).Error().Err(cause).
			Str("topic", origTopic).
			Int("retries", retries).
			Msg("message moved to dead letter topic")
	} else {
		out.Topic = origTopic
		headers.Set(HeaderRetryCount, strconv.Itoa(retries+1))
		logger.Ctx(ctx).Warn().Err(cause).
			Str("topic", origTopic).
			Int("retry", retries+1).
			Msg("message re-queued for retry")
	}
	out.Headers = headers

	if err := h.writer.WriteMessages(ctx, out); err != nil {
		return errors.Wrapf(err, "hand off failed message to %s", out.Topic)
	}
	return nil
}
