package saga

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/service/order/domain"
)

// PointsPolicy is a CEL rule over the int variables points and total deciding
// whether a customer may spend points on an order.
type PointsPolicy struct {
	expr string
	prg  cel.Program
}

func NewPointsPolicy(expr string) (*PointsPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("points", cel.IntType),
		cel.Variable("total", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "points policy env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile points policy %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("points policy %q must be a boolean expression", expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "points policy program")
	}
	return &PointsPolicy{expr: expr, prg: prg}, nil
}

func (p *PointsPolicy) String() string { return p.expr }

// Allow evaluates the rule.
func (p *PointsPolicy) Allow(points, total int64) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{"points": points, "total": total})
	if err != nil {
		return false, errors.Wrap(err, "evaluate points policy")
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errors.Errorf("points policy returned %T", out.Value())
	}
	return ok, nil
}

// PricePolicyHandler turns the cart into order lines, totals them and checks the points rule.
type PricePolicyHandler struct {
	NextHandler
	policy *PointsPolicy
}

func NewPricePolicyHandler(policy *PointsPolicy) *PricePolicyHandler {
	return &PricePolicyHandler{policy: policy}
}

func (h *PricePolicyHandler) Handle(orderCtx *OrderContext) error {
	_, span := startStep(orderCtx, "PricePolicy")
	defer span.End()

	lines := make([]domain.OrderLine, 0, len(orderCtx.Cart))
	var total int64
	for _, item := range orderCtx.Cart {
		if item.Quantity <= 0 || item.Price < 0 {
			return failStep(span, errs.ErrInvalidRequest.With(fmt.Sprintf("bad cart line %s", item.MenuID), nil), "bad cart line")
		}
		l := domain.OrderLine{MenuID: item.MenuID, MenuName: item.MenuName, Quantity: item.Quantity, UnitPrice: item.Price}
		lines = append(lines, l)
		total += l.Subtotal()
	}

	ok, err := h.policy.Allow(orderCtx.PointsToUse, total)
	if err != nil {
		return failStep(span, err, "points policy evaluation failed")
	}
	if !ok {
		err := errs.ErrPointsExceedTotal.With(fmt.Sprintf("%d points not allowed on a total of %d", orderCtx.PointsToUse, total), nil)
		return failStep(span, err, "points policy rejected")
	}
	orderCtx.Lines = lines
	orderCtx.Total = total
	span.SetAttributes(attribute.Int64("order.total", total), attribute.Int64("order.points", orderCtx.PointsToUse))

	return h.executeNext(orderCtx)
}
