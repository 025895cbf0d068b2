package application

import (
	"context"
	"time"

	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/service/store/domain"
)

const sweepPage = 200

// Sweeper cancels pending reservations whose TTL has passed.
type Sweeper struct {
	uow      domain.UnitOfWork
	svc      *InventoryService
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewSweeper(uow domain.UnitOfWork, svc *InventoryService, interval time.Duration, batch int) *Sweeper {
	return &Sweeper{uow: uow, svc: svc, interval: interval, batch: batch, now: time.Now}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce cancels up to batch expired reservations. A failing row is logged and
// skipped; it is picked up again on the next run.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := s.now().UTC()
	cancelled := 0
	tried := map[string]bool{}
	for len(tried) < s.batch && ctx.Err() == nil {
		var page []domain.Reservation
		err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
			var err error
			page, err = tx.Reservations().FindExpired(ctx, now, min(sweepPage, s.batch-len(tried))+len(tried))
			return err
		})
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("list expired reservations")
			break
		}
		progress := false
		for _, r := range page {
			if tried[r.ID] || len(tried) >= s.batch {
				continue
			}
			tried[r.ID] = true
			progress = true
			if err := s.svc.Cancel(ctx, r.OrderLineID, ReasonTTLExpired); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("order_line_id", r.OrderLineID).Str("sku", r.SKU).Msg("ttl cancel failed")
				continue
			}
			cancelled++
		}
		if !progress {
			break
		}
	}
	if cancelled > 0 {
		logger.Ctx(ctx).Info().Int("count", cancelled).Msg("expired reservations cancelled")
	}
	return cancelled
}
