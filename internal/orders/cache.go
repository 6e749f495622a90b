package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-placement/internal/metrics"
	"github.com/ariefcatur/go-order-placement/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type Reader interface {
	FindOrders(ctx context.Context, userID string, q OrderQuery) ([]OrderSummary, error)
	FindOrderByID(ctx context.Context, userID, orderID string) (OrderDetails, error)
}

// CachedRepo is a cache-aside front for order reads. Redis failures degrade
// to direct reads; entries are dropped by Evict when an order-placed event
// arrives.
type CachedRepo struct {
	Repo  Reader
	Redis *redis.Client
	TTL   time.Duration

	group singleflight.Group
}

func (c *CachedRepo) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return redisx.TTLOrderCache
}

func (c *CachedRepo) FindOrderByID(ctx context.Context, userID, orderID string) (OrderDetails, error) {
	key := fmt.Sprintf(redisx.KeyOrderDetails, userID, orderID)

	var d OrderDetails
	if c.lookup(c.Redis.Get(ctx, key), &d) {
		return d, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		d, err := c.Repo.FindOrderByID(ctx, userID, orderID)
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(d); err == nil {
			if err := c.Redis.Set(ctx, key, b, c.ttl()).Err(); err != nil {
				zlog.Warn().Err(err).Str("key", key).Msg("order cache write failed")
			}
		}
		return d, nil
	})
	if err != nil {
		return OrderDetails{}, err
	}
	return v.(OrderDetails), nil
}

func (c *CachedRepo) FindOrders(ctx context.Context, userID string, q OrderQuery) ([]OrderSummary, error) {
	prefix, err := EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf(redisx.KeyOrderPages, userID)
	field := prefix + "|" + q.LastID

	var page []OrderSummary
	if c.lookup(c.Redis.HGet(ctx, key, field), &page) {
		return page, nil
	}

	v, err, _ := c.group.Do(key+"|"+field, func() (any, error) {
		page, err := c.Repo.FindOrders(ctx, userID, q)
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(page); err == nil {
			if err := c.Redis.HSet(ctx, key, field, b).Err(); err != nil {
				zlog.Warn().Err(err).Str("key", key).Msg("order page cache write failed")
				return page, nil
			}
			if err := c.Redis.Expire(ctx, key, c.ttl()).Err(); err != nil {
				zlog.Warn().Err(err).Str("key", key).Msg("order page cache expire failed")
			}
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]OrderSummary), nil
}

// Evict drops the cached listing pages of userID and the cached details of orderID.
func (c *CachedRepo) Evict(ctx context.Context, userID, orderID string) error {
	err := c.Redis.Del(ctx,
		fmt.Sprintf(redisx.KeyOrderPages, userID),
		fmt.Sprintf(redisx.KeyOrderDetails, userID, orderID),
	).Err()
	return errors.Wrap(err, "evict order cache")
}

func (c *CachedRepo) lookup(cmd *redis.StringCmd, out any) bool {
	b, err := cmd.Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		zlog.Warn().Err(err).Msg("order cache read failed")
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true
}
