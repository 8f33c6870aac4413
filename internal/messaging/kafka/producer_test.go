package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, log.WithField("component", "kafka-producer-test"))

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event ItemEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.OrderID != 123 || event.Status != domain.ItemStatusShipped {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	event := NewItemStatusChangedEvent(123, domain.LineItem{ID: 1, Status: domain.ItemStatusShipped})
	if err := producer.PublishEvent(TopicItemEvents, "123", event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, nil)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicItemEvents, "1", NewItemStatusChangedEvent(1, domain.LineItem{ID: 1})); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer, nil)

	if err := producer.PublishEvent(TopicItemEvents, "1", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewProducer_InvalidBroker(t *testing.T) {
	if _, err := NewProducer([]string{"invalid-broker:9092"}, "oms-console", nil); err == nil {
		t.Fatal("expected producer creation error")
	}
}

func TestNewProducerConfig(t *testing.T) {
	config := NewProducerConfig("oms-console")
	if config.ClientID != "oms-console" {
		t.Fatalf("unexpected client id: %s", config.ClientID)
	}
	if !config.Producer.Idempotent || config.Net.MaxOpenRequests != 1 {
		t.Fatal("producer must be idempotent with a single in-flight request")
	}
	if config.Producer.RequiredAcks != sarama.WaitForAll || !config.Producer.Return.Successes {
		t.Fatal("sync producer needs WaitForAll acks and success reporting")
	}
	if err := config.Validate(); err != nil {
		t.Fatalf("config must be valid: %v", err)
	}
	if NewProducerConfig("").ClientID == "" {
		t.Fatal("empty client id keeps sarama default")
	}
}

func TestNewItemStatusChangedEvent(t *testing.T) {
	event := NewItemStatusChangedEvent(7, domain.LineItem{ID: 70, Status: domain.ItemStatusDelivered})

	if event.EventType != EventTypeItemStatusChanged {
		t.Errorf("expected event type %s, got %s", EventTypeItemStatusChanged, event.EventType)
	}
	if event.OrderID != 7 || event.OrderItemID != 70 {
		t.Errorf("unexpected ids: %+v", event)
	}
	if event.Timestamp.IsZero() || time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestItemStatusPublisher(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewItemStatusPublisher(newProducer(mockProducer, nil), "")

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicConsoleItemStatus {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "123" {
			return fmt.Errorf("unexpected key %s", key)
		}
		return nil
	})
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "item-99" {
			return fmt.Errorf("unexpected key %s", key)
		}
		return nil
	})

	ctx := context.Background()
	if err := publisher.PublishItemStatus(ctx, domain.ItemStatusEvent{EventType: "item_status.changed", OrderID: 123, OrderItemID: 1}); err != nil {
		t.Fatalf("publish with order id: %v", err)
	}
	if err := publisher.PublishItemStatus(ctx, domain.ItemStatusEvent{EventType: "item_status.failed", OrderItemID: 99}); err != nil {
		t.Fatalf("publish without order id: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestItemStatusPublisher_NotInitialized(t *testing.T) {
	var publisher *ItemStatusPublisher
	if err := publisher.PublishItemStatus(context.Background(), domain.ItemStatusEvent{}); err == nil {
		t.Fatal("expected error for nil publisher")
	}

	var events *ItemEventPublisher
	if err := events.PublishItemChanged(1, domain.LineItem{}); err == nil {
		t.Fatal("expected error for nil item event publisher")
	}
}

func TestItemEventPublisher(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewItemEventPublisher(newProducer(mockProducer, nil), "")

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicItemEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		return nil
	})

	if err := publisher.PublishItemChanged(5, domain.LineItem{ID: 50, Status: domain.ItemStatusCanceled}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
