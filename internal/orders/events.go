package orders

import (
	"encoding/json"
	"time"
)

const EventOrderPlaced = "OrderPlaced"

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // EventOrderPlaced
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderPlacedPayload asks downstream consumers to invalidate what they hold
// for the user's orders.
type OrderPlacedPayload struct {
	UserID   string    `json:"userId"`
	OrderID  string    `json:"orderId"`
	DateTime time.Time `json:"dateTime"`
}
