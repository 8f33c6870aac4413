package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// ItemStatusPublisher публикует исходы мутаций консоли.
type ItemStatusPublisher struct {
	producer *Producer
	topic    string
}

// NewItemStatusPublisher создаёт паблишер; пустой topic заменяется на TopicConsoleItemStatus.
func NewItemStatusPublisher(producer *Producer, topic string) *ItemStatusPublisher {
	if topic == "" {
		topic = TopicConsoleItemStatus
	}
	return &ItemStatusPublisher{producer: producer, topic: topic}
}

// PublishItemStatus отправляет событие. Ключ — ID заказа, если он известен,
// иначе ID позиции: события одного заказа попадают в одну партицию.
func (p *ItemStatusPublisher) PublishItemStatus(ctx context.Context, event domain.ItemStatusEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka item status publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := "item-" + strconv.FormatInt(event.OrderItemID, 10)
	if event.OrderID > 0 {
		key = strconv.FormatInt(event.OrderID, 10)
	}
	return p.producer.PublishEvent(p.topic, key, event)
}

// ItemEventPublisher публикует изменения заказов со стороны backend.
type ItemEventPublisher struct {
	producer *Producer
	topic    string
}

// NewItemEventPublisher создаёт паблишер; пустой topic заменяется на TopicItemEvents.
func NewItemEventPublisher(producer *Producer, topic string) *ItemEventPublisher {
	if topic == "" {
		topic = TopicItemEvents
	}
	return &ItemEventPublisher{producer: producer, topic: topic}
}

// PublishItemChanged сообщает подписчикам, что статус позиции заказа изменён.
func (p *ItemEventPublisher) PublishItemChanged(orderID int64, item domain.LineItem) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka item event publisher is not initialized")
	}
	return p.producer.PublishEvent(p.topic, strconv.FormatInt(orderID, 10), NewItemStatusChangedEvent(orderID, item))
}

var _ domain.EventPublisher = (*ItemStatusPublisher)(nil)
