package placement

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-placement/internal/inventory"
	"github.com/ariefcatur/go-order-placement/internal/metrics"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type CartLoader interface {
	LoadCart(ctx context.Context, userID string) ([]orders.CartItem, error)
}

type Reserver interface {
	Reserve(ctx context.Context, items []orders.CartItem, completion func(ctx context.Context, reserved []orders.OrderItem) error) error
}

type OrderWriter interface {
	SaveOrder(ctx context.Context, userID, orderID string, placedAt time.Time, items []orders.OrderItem) (orders.OrderDetails, error)
}

// Scheduler must return only after the invalidation request was accepted.
type Scheduler interface {
	Schedule(ctx context.Context, userID, orderID string, at time.Time) error
}

// Evicter drops cached reads of a user's orders.
type Evicter interface {
	Evict(ctx context.Context, userID, orderID string) error
}

var tracer = otel.Tracer("github.com/ariefcatur/go-order-placement/internal/placement")

// Service turns a user's cart into a stored order.
type Service struct {
	Carts        CartLoader
	Inventory    Reserver
	Orders       OrderWriter
	Reads        orders.Reader
	Invalidation Scheduler
	// Cache, when set, is evicted again once the order is committed.
	Cache Evicter

	// Now and NewOrderID default to the wall clock and orders.NewOrderID.
	Now        func() time.Time
	NewOrderID func(time.Time) (string, error)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newOrderID(t time.Time) (string, error) {
	if s.NewOrderID != nil {
		return s.NewOrderID(t)
	}
	return orders.NewOrderID(t)
}

// PlaceOrder reserves stock for the user's cart and records the order in the
// same transaction. Expected failures satisfy orders.PlacementError;
// exhausted stock contention is reported as *inventory.ContentionError.
func (s *Service) PlaceOrder(ctx context.Context, userID string) (orders.OrderDetails, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "placement.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	details, err := s.placeOrder(ctx, userID)

	outcome := outcomeOf(err)
	metrics.OrdersPlaced.WithLabelValues(outcome).Inc()
	metrics.PlaceDuration.Observe(time.Since(start).Seconds())

	log := zlog.With().Str("user_id", userID).Str("outcome", outcome).Logger()
	switch outcome {
	case metrics.OutcomePlaced:
		span.SetAttributes(attribute.String("order.id", details.OrderID))
		log.Info().Str("order_id", details.OrderID).Int64("total_price", details.TotalPrice).Msg("order placed")
	case metrics.OutcomeContention, metrics.OutcomeError:
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Msg("order placement failed")
	default:
		log.Debug().Err(err).Msg("order rejected")
	}
	return details, err
}

func (s *Service) placeOrder(ctx context.Context, userID string) (orders.OrderDetails, error) {
	items, err := s.Carts.LoadCart(ctx, userID)
	if err != nil {
		return orders.OrderDetails{}, err
	}
	if len(items) == 0 {
		return orders.OrderDetails{}, &orders.EmptyCartError{}
	}

	now := s.now().UTC()
	var details orders.OrderDetails
	err = s.Inventory.Reserve(ctx, items, func(ctx context.Context, reserved []orders.OrderItem) error {
		orderID, err := s.newOrderID(now)
		if err != nil {
			return err
		}
		if err := s.Invalidation.Schedule(ctx, userID, orderID, now); err != nil {
			return err
		}
		details, err = s.Orders.SaveOrder(ctx, userID, orderID, now, reserved)
		return err
	})
	if err != nil {
		return orders.OrderDetails{}, err
	}
	if s.Cache != nil {
		if err := s.Cache.Evict(ctx, userID, details.OrderID); err != nil {
			zlog.Warn().Err(err).Str("user_id", userID).Str("order_id", details.OrderID).Msg("post-commit cache eviction failed")
		}
	}
	return details, nil
}

func (s *Service) FindOrders(ctx context.Context, userID string, q orders.OrderQuery) ([]orders.OrderSummary, error) {
	return s.Reads.FindOrders(ctx, userID, q)
}

func (s *Service) FindOrderByID(ctx context.Context, userID, orderID string) (orders.OrderDetails, error) {
	return s.Reads.FindOrderByID(ctx, userID, orderID)
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomePlaced
	}
	if pe, ok := orders.AsPlacementError(err); ok {
		switch pe.(type) {
		case *orders.EmptyCartError:
			return metrics.OutcomeEmptyCart
		case *orders.ProductNotFoundError:
			return metrics.OutcomeNotFound
		case *orders.NotEnoughStockError:
			return metrics.OutcomeNotEnoughStock
		}
	}
	if errors.Is(err, inventory.ErrContentionExhausted) {
		return metrics.OutcomeContention
	}
	return metrics.OutcomeError
}
