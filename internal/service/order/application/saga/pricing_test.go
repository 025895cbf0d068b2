package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"eatcloud/internal/pkg/errs"
	sagatx "eatcloud/internal/saga"
	"eatcloud/internal/service/order/domain/port"
)

func TestPointsPolicy(t *testing.T) {
	p, err := NewPointsPolicy("points >= 0 && points <= total")
	require.NoError(t, err)

	cases := []struct {
		points, total int64
		want          bool
	}{
		{0, 0, true},
		{100, 100, true},
		{101, 100, false},
		{-1, 100, false},
	}
	for _, tc := range cases {
		ok, err := p.Allow(tc.points, tc.total)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "points=%d total=%d", tc.points, tc.total)
	}
}

func TestPointsPolicyRejectsBadExpressions(t *testing.T) {
	_, err := NewPointsPolicy("points +")
	assert.Error(t, err)
	_, err = NewPointsPolicy("points + total")
	assert.Error(t, err)
	_, err = NewPointsPolicy("amount > 0")
	assert.Error(t, err)
}

func newOrderContext(cart []port.CartItem, points int64) *OrderContext {
	return &OrderContext{
		Ctx:         context.Background(),
		Tracer:      noop.NewTracerProvider().Tracer("test"),
		Saga:        sagatx.New("saga-1"),
		CustomerID:  "c1",
		PointsToUse: points,
		Cart:        cart,
	}
}

func TestPricePolicyHandlerTotalsLines(t *testing.T) {
	p, err := NewPointsPolicy("points <= total / 2")
	require.NoError(t, err)
	h := NewPricePolicyHandler(p)

	oc := newOrderContext([]port.CartItem{{MenuID: "m1", Quantity: 3, Price: 1000}, {MenuID: "m2", Quantity: 1, Price: 500}}, 1750)
	require.NoError(t, h.Handle(oc))
	assert.Equal(t, int64(3500), oc.Total)
	require.Len(t, oc.Lines, 2)
	assert.Equal(t, int64(3000), oc.Lines[0].Subtotal())

	oc = newOrderContext([]port.CartItem{{MenuID: "m1", Quantity: 1, Price: 1000}}, 501)
	assert.ErrorIs(t, h.Handle(oc), errs.ErrPointsExceedTotal)

	oc = newOrderContext([]port.CartItem{{MenuID: "m1", Quantity: 0, Price: 1000}}, 0)
	assert.ErrorIs(t, h.Handle(oc), errs.ErrInvalidRequest)
}
