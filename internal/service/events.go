package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

// Типы событий outbox
const (
	EventCheckoutCompleted = "checkout.completed"
	EventInventoryLowStock = "inventory.low_stock"
	eventVersion           = 1
)

// CheckoutCompletedEvent публикуется после создания заказа
type CheckoutCompletedEvent struct {
	OrderID         string             `json:"order_id"`
	OrderNumber     string             `json:"order_number"`
	CartID          string             `json:"cart_id"`
	CustomerID      int64              `json:"customer_id"`
	PaymentIntentID string             `json:"payment_intent_id"`
	Total           string             `json:"total"`
	Items           []CheckoutLineItem `json:"items"`
}

// CheckoutLineItem строка заказа в событии
type CheckoutLineItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// LowStockEvent остаток позиции опустился ниже порога
type LowStockEvent struct {
	SKU               string `json:"sku"`
	Quantity          int    `json:"quantity"`
	ReservedQuantity  int    `json:"reserved_quantity"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

// envelope общие поля всех событий
type envelope struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	OccurredAt   time.Time `json:"occurred_at"`
	Data         any       `json:"data"`
}

func newOutboxEvent(topic, eventType, aggregateID string, occurredAt time.Time, data any) (repository.OutboxEvent, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(envelope{
		EventID:      id,
		EventType:    eventType,
		EventVersion: eventVersion,
		OccurredAt:   occurredAt.UTC(),
		Data:         data,
	})
	if err != nil {
		return repository.OutboxEvent{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return repository.OutboxEvent{
		EventID:     id,
		AggregateID: aggregateID,
		Topic:       topic,
		EventType:   eventType,
		Payload:     payload,
		Status:      repository.OutboxStatusPending,
		CreatedAt:   occurredAt,
	}, nil
}
