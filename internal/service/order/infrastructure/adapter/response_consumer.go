package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"eatcloud/internal/correlator"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/pkg/mq"
)

// ResponseHandler completes the pending request a response belongs to. Late and
// unknown responses are logged and dropped.
func ResponseHandler(reg *correlator.Registry[ResponseEvent]) mq.HandlerFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		var resp ResponseEvent
		if err := json.Unmarshal(msg.Value, &resp); err != nil {
			return mq.Permanent(errors.Wrapf(err, "decode %s response", reg.Kind()))
		}
		log := logger.Ctx(ctx).With().
			Str("kind", reg.Kind()).
			Str("saga_id", resp.SagaID).
			Str("order_id", resp.OrderID).
			Logger()
		if resp.SagaID == "" {
			log.Warn().Msg("response without saga id dropped")
			return nil
		}
		if !reg.Complete(resp.SagaID, resp) {
			log.Warn().Bool("success", resp.Success).Msg("no pending request for response, dropped")
			return nil
		}
		log.Debug().Bool("success", resp.Success).Msg("response delivered")
		return nil
	}
}
