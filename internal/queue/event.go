package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated        = "order.created"
	EventOrderStatusChanged  = "order.status_changed"
	EventOrderPaymentChanged = "order.payment_changed"
	EventListingRepriced     = "listing.repriced"
)

// Event 写入 Redis Stream / Kafka 的统一事件信封。
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"` // 订单号或商品 ID，同时作为 Kafka key
	Payload       json.RawMessage `json:"payload"`
}

// NewEvent 生成带 uuid 的事件。
func NewEvent(eventType, producer, correlationID string, payload any, now time.Time) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OccurredAt:    now.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Validate 做最小字段校验，防止转发脏消息。
func (e Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return fmt.Errorf("payload must be valid json")
	}
	return nil
}

// ---- payloads ----

type OrderLine struct {
	ListingID uint   `json:"listing_id"`
	SellerID  string `json:"seller_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderCode        string      `json:"order_code"`
	BuyerID          string      `json:"buyer_id"`
	TotalAmount      int64       `json:"total_amount"`
	Items            []OrderLine `json:"items"`
	ItemsSaved       int         `json:"items_saved"`
	CO2SavedKg       float64     `json:"co2_saved_kg"`
	WaterSavedLiters float64     `json:"water_saved_liters"`
}

type OrderStatusChangedPayload struct {
	OrderCode string `json:"order_code"`
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
}

type ListingRepricedPayload struct {
	ListingID uint  `json:"listing_id"`
	OldPrice  int64 `json:"old_price"`
	NewPrice  int64 `json:"new_price"`
}
