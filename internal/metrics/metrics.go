package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Placement outcomes.
const (
	OutcomePlaced         = "placed"
	OutcomeEmptyCart      = "empty_cart"
	OutcomeNotFound       = "product_not_found"
	OutcomeNotEnoughStock = "not_enough_stock"
	OutcomeContention     = "contention_exhausted"
	OutcomeError          = "error"
)

var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "placement",
		Name:      "orders_total",
		Help:      "Order placement attempts by outcome.",
	}, []string{"outcome"})

	PlaceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "placement",
		Name:      "place_order_seconds",
		Help:      "Latency of a whole order placement.",
		Buckets:   prometheus.DefBuckets,
	})

	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "version_conflicts_total",
		Help:      "Stock compare-and-swap attempts rejected by a concurrent version change.",
	})

	ContentionExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inventory",
		Name:      "contention_exhausted_total",
		Help:      "Reservations that ran out of compare-and-swap attempts.",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orders",
		Name:      "cache_lookups_total",
		Help:      "Order read cache lookups by result.",
	}, []string{"result"})
)
