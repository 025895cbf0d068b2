package adapter

import (
	"context"
	"net/url"

	"eatcloud/internal/pkg/httpclient"
	"eatcloud/internal/service/order/domain/port"
)

// CartHTTPAdapter asks the customer service for the cart. The service address is
// resolved per call through the client's resolver.
type CartHTTPAdapter struct {
	client  *httpclient.Client
	service string
}

func NewCartHTTPAdapter(client *httpclient.Client, service string) *CartHTTPAdapter {
	return &CartHTTPAdapter{client: client, service: service}
}

func cartPath(customerID string) string { return "/api/v1/carts/" + url.PathEscape(customerID) }

func (a *CartHTTPAdapter) GetCart(ctx context.Context, customerID string) ([]port.CartItem, error) {
	var items []port.CartItem
	if err := a.client.GetJSON(ctx, a.service, cartPath(customerID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (a *CartHTTPAdapter) ClearCart(ctx context.Context, customerID string) error {
	return a.client.Delete(ctx, a.service, cartPath(customerID))
}
