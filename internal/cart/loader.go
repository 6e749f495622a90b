package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/ariefcatur/go-order-placement/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLoader reads carts kept by the cart service as one hash per user,
// product id => quantity.
type RedisLoader struct {
	Redis *redis.Client
}

func NewRedisLoader(rdb *redis.Client) *RedisLoader {
	return &RedisLoader{Redis: rdb}
}

// LoadCart returns the user's cart sorted by product id. A missing cart is empty.
func (l *RedisLoader) LoadCart(ctx context.Context, userID string) ([]orders.CartItem, error) {
	fields, err := l.Redis.HGetAll(ctx, fmt.Sprintf(redisx.KeyCart, userID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "load cart of %s", userID)
	}

	items := make([]orders.CartItem, 0, len(fields))
	for productID, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil || qty <= 0 {
			return nil, errors.Errorf("corrupt cart entry %s=%q for user %s", productID, raw, userID)
		}
		items = append(items, orders.CartItem{ProductID: productID, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}
