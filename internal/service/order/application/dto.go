// internal/service/order/application/dto.go
package application

import "eatcloud/internal/service/order/domain"

// CreateOrderRequest is the input of the order saga. The lines come from the cart.
type CreateOrderRequest struct {
	StoreID     string `json:"storeId" validate:"required"`
	OrderType   string `json:"orderType,omitempty" validate:"omitempty,oneof=DELIVERY PICKUP"`
	UsePoints   bool   `json:"usePoints"`
	PointsToUse int64  `json:"pointsToUse" validate:"gte=0"`
}

// points is what the saga spends: nothing unless UsePoints is set.
func (r CreateOrderRequest) points() int64 {
	if !r.UsePoints {
		return 0
	}
	return r.PointsToUse
}

// OrderConfirmation is returned to the customer when the saga completes.
type OrderConfirmation struct {
	OrderID     string        `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	TotalPrice  int64         `json:"totalPrice"`
	FinalAmount int64         `json:"finalPaymentAmount"`
	Status      domain.Status `json:"orderStatus"`
	PaymentURL  string        `json:"paymentUrl,omitempty"`
	Message     string        `json:"message"`
}

func confirmationOf(o *domain.Order) *OrderConfirmation {
	return &OrderConfirmation{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		TotalPrice:  o.TotalPrice,
		FinalAmount: o.FinalAmount,
		Status:      o.Status,
		PaymentURL:  o.PaymentURL,
		Message:     "Order created, please continue to payment.",
	}
}
