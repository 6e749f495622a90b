package redisx

import "time"

const (
	// Cart per user: hash cart:{user_id} -> product_id => quantity
	KeyCart = "cart:%s"

	// Cached order details: order:{user_id}:{order_id} -> JSON
	KeyOrderDetails = "order:%s:%s"

	// Cached order listing pages: hash order_pages:{user_id} -> "{prefix}|{last_id}" => JSON
	KeyOrderPages = "order_pages:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
