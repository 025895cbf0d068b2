package saga

import (
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
)

// LoadCartHandler reads the customer's cart. An empty cart ends the saga.
type LoadCartHandler struct {
	NextHandler
}

func (h *LoadCartHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := startStep(orderCtx, "LoadCart")
	defer span.End()

	items, err := orderCtx.CartService.GetCart(ctx, orderCtx.CustomerID)
	if err != nil {
		return failStep(span, errors.Wrap(err, "load cart"), "cart service call failed")
	}
	if len(items) == 0 {
		return failStep(span, errs.ErrCartEmpty, "cart is empty")
	}
	orderCtx.Cart = items
	span.SetAttributes(attribute.Int("cart.items", len(items)))

	return h.executeNext(orderCtx)
}

// ClearCartHandler empties the cart once the order exists. Failing to clear it does
// not fail the order.
type ClearCartHandler struct {
	NextHandler
}

func (h *ClearCartHandler) Handle(orderCtx *OrderContext) error {
	ctx, span := startStep(orderCtx, "ClearCart")
	defer span.End()

	if err := orderCtx.CartService.ClearCart(ctx, orderCtx.CustomerID); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).
			Str("saga_id", orderCtx.Saga.ID).
			Str("customer_id", orderCtx.CustomerID).
			Msg("failed to clear cart, order kept")
	}

	return h.executeNext(orderCtx)
}
