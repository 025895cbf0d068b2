package port

import "context"

type CartItem struct {
	MenuID   string `json:"menuId"`
	MenuName string `json:"menuName"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// CartService is the outbound port to the customer's cart.
type CartService interface {
	GetCart(ctx context.Context, customerID string) ([]CartItem, error)
	ClearCart(ctx context.Context, customerID string) error
}
