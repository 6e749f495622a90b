package invalidation

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-order-placement/internal/kafka"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-placement/internal/invalidation")

type Sender interface {
	Send(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// KafkaScheduler announces placed orders on the order-placed topic, keyed by
// user id. Schedule returns only after the brokers acknowledged the event.
type KafkaScheduler struct {
	Producer Sender
	Service  string
}

func (s *KafkaScheduler) Schedule(ctx context.Context, userID, orderID string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "invalidation.Schedule",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.OrderPlacedPayload{
			UserID:   userID,
			OrderID:  orderID,
			DateTime: at.UTC(),
		}),
	}
	err := s.Producer.Send(ctx, orders.PartitionKey(userID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: HeaderEventType, Value: []byte(orders.EventOrderPlaced)},
		kafkago.Header{Key: HeaderEventVersion, Value: []byte("1")},
	)
	return errors.Wrapf(err, "schedule invalidation for order %s", orderID)
}

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)
