package kafka

import "time"

// EventType определяет тип события заказа
type EventType string

const (
	EventTypeOrderPlaced          EventType = "order.placed"
	EventTypeOrderInventoryFailed EventType = "order.inventory_failed"
	EventTypeOrderAwaitingPayment EventType = "order.awaiting_payment"
	EventTypeOrderPaid            EventType = "order.paid"
	EventTypeOrderPaymentFailed   EventType = "order.payment_failed"
	EventTypeOrderCancelled       EventType = "order.cancelled"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "monoshop.order.events"
	TopicDeadLetterQueue = "monoshop.dlq" // Dead Letter Queue для failed messages
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	UserID    string                 `json:"user_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
