package invalidation

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-placement/internal/kafka"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/ariefcatur/go-order-placement/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

type Evicter interface {
	Evict(ctx context.Context, userID, orderID string) error
}

// Handler consumes order-placed events and drops the cached reads of the
// affected user. Each event is processed at most once per dedup window.
type Handler struct {
	Cache   Evicter
	Redis   *redis.Client
	Service string
}

func (h *Handler) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m.Headers, HeaderEventType); t != "" && t != orders.EventOrderPlaced {
		return nil
	}

	ctx, span := tracer.Start(ctx, "invalidation.HandleOrderPlaced", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var ev orders.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		// poison message: committing it is the only way past it
		zlog.Warn().Err(err).Int64("offset", m.Offset).Msg("drop undecodable event")
		return nil
	}
	if ev.EventType != orders.EventOrderPlaced {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](ev.Payload)
	if err != nil {
		zlog.Warn().Err(err).Str("event_id", ev.EventID).Msg("drop event with bad payload")
		return nil
	}

	dedupKey := fmt.Sprintf(redisx.KeyDedup, h.Service, ev.EventID)
	won, err := redisx.Claim(ctx, h.Redis, dedupKey, redisx.TTLDedup)
	if err != nil {
		return errors.Wrap(err, "claim event")
	}
	if !won {
		zlog.Debug().Str("event_id", ev.EventID).Msg("duplicate event skipped")
		return nil
	}

	if err := h.Cache.Evict(ctx, p.UserID, p.OrderID); err != nil {
		// release the claim so the consumer retry can run
		_ = h.Redis.Del(ctx, dedupKey).Err()
		return err
	}
	zlog.Info().
		Str("event_id", ev.EventID).
		Str("user_id", p.UserID).
		Str("order_id", p.OrderID).
		Msg("order caches invalidated")
	return nil
}
