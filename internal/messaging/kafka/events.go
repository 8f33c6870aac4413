package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// EventType определяет тип события позиции, публикуемого backend-ом.
type EventType string

const (
	// EventTypeItemStatusChanged — статус позиции изменён на сервере.
	EventTypeItemStatusChanged EventType = "item.status_changed"
	// EventTypeOrderUpdated — заказ изменён целиком (например, добавлены позиции).
	EventTypeOrderUpdated EventType = "order.updated"
)

// Topics для Kafka
const (
	// TopicConsoleItemStatus — исходы мутаций, выполненных консолью.
	TopicConsoleItemStatus = "oms.console.item-status"
	// TopicItemEvents — изменения заказов на стороне backend.
	TopicItemEvents      = "oms.item.events"
	TopicDeadLetterQueue = "oms.console.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ItemEvent — событие backend-а об изменении заказа.
type ItemEvent struct {
	EventType   EventType         `json:"event_type"`
	OrderID     int64             `json:"order_id"`
	OrderItemID int64             `json:"order_item_id,omitempty"`
	Status      domain.ItemStatus `json:"status,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewItemStatusChangedEvent создаёт событие об изменении статуса позиции.
func NewItemStatusChangedEvent(orderID int64, item domain.LineItem) *ItemEvent {
	return &ItemEvent{
		EventType:   EventTypeItemStatusChanged,
		OrderID:     orderID,
		OrderItemID: item.ID,
		Status:      item.Status,
		Timestamp:   time.Now().UTC(),
	}
}

// DeadLetter — запись DLQ: исходное сообщение и причина, по которой консоль
// не смогла его обработать. Её же читает dlq-reprocess.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key,omitempty"`
	OriginalValue     string    `json:"original_value"`
	Error             string    `json:"error"`
	Attempts          int       `json:"attempts"`
	FailedAt          time.Time `json:"failed_at"`
}
