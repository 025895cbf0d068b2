package adapter

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"eatcloud/internal/pkg/redis"
	"eatcloud/internal/service/order/domain/port"
)

// CartRedisAdapter reads carts kept as Redis hashes "cart:<customerId>", one JSON
// encoded line per menu id field.
type CartRedisAdapter struct {
	client *redis.Client
}

func NewCartRedisAdapter(client *redis.Client) *CartRedisAdapter {
	return &CartRedisAdapter{client: client}
}

func cartKey(customerID string) string { return "cart:" + customerID }

// GetCart returns the lines sorted by menu id. A missing cart is empty.
func (a *CartRedisAdapter) GetCart(ctx context.Context, customerID string) ([]port.CartItem, error) {
	fields, err := a.client.GetClient().HGetAll(ctx, cartKey(customerID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read cart %s", customerID)
	}
	items := make([]port.CartItem, 0, len(fields))
	for menuID, raw := range fields {
		var item port.CartItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, errors.Wrapf(err, "decode cart %s line %s", customerID, menuID)
		}
		if item.MenuID == "" {
			item.MenuID = menuID
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].MenuID < items[j].MenuID })
	return items, nil
}

func (a *CartRedisAdapter) ClearCart(ctx context.Context, customerID string) error {
	return errors.Wrapf(a.client.GetClient().Del(ctx, cartKey(customerID)).Err(), "clear cart %s", customerID)
}

// PutItem stores or replaces one cart line.
func (a *CartRedisAdapter) PutItem(ctx context.Context, customerID string, item port.CartItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(a.client.GetClient().HSet(ctx, cartKey(customerID), item.MenuID, raw).Err(), "write cart %s", customerID)
}
