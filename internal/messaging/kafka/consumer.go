package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig задаёт параметры consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxRetries — общий бюджет попыток с учётом заголовка x-retry-count.
	MaxRetries int
	RetryDelay time.Duration
	// DLQTopic по умолчанию TopicDeadLetterQueue.
	DLQTopic string
}

type eventPublisher interface {
	PublishEvent(topic, key string, event any) error
}

// Consumer читает события backend-а через consumer group. Сообщение, которое
// не удалось обработать за бюджет попыток, уходит в DLQ (если он задан) и
// коммитится; без DLQ оно остаётся некоммиченным.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	dlq        eventPublisher
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
	wg         sync.WaitGroup
}

func newConsumerGroupConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "oms-console-refetch"
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	return config
}

// NewConsumer создает новый Kafka consumer. dlqProducer и logger могут быть nil.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlqProducer *Producer, logger *log.Entry) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, newConsumerGroupConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	c := newConsumer(group, cfg, handler, logger)
	if dlqProducer != nil {
		c.dlq = dlqProducer
	}
	return c, nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, logger *log.Entry) *Consumer {
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	c := &Consumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    handler,
		logger:     logger,
		dlqTopic:   cfg.DLQTopic,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxAttempts
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	if c.dlqTopic == "" {
		c.dlqTopic = TopicDeadLetterQueue
	}
	return c
}

// Start запускает чтение в фоне и сразу возвращает управление.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go c.consumeLoop(ctx)
	go c.drainErrors()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		// Consume возвращается при каждом rebalance.
		err := c.group.Consume(ctx, c.topics, c)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.WithError(err).Error("consumer group session ended with error")
		}
	}
}

func (c *Consumer) drainErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.logger.WithError(err).Error("consumer error")
	}
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции до конца сессии.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.process(ctx, message) {
				session.MarkMessage(message, "")
			}
		}
	}
}

// process возвращает true, если offset сообщения можно коммитить.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	entry := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})
	entry.Debug("received message")

	attempts, err := c.deliver(ctx, message)
	if err == nil {
		return true
	}
	if c.dlq == nil {
		entry.WithError(err).Error("message processing failed after all retries")
		return false
	}
	if dlqErr := c.deadLetter(message, err, attempts); dlqErr != nil {
		entry.WithError(dlqErr).Error("failed to send message to DLQ")
		return false
	}
	entry.WithField("attempts", attempts).Info("message sent to DLQ after max retries")
	return true
}

// deliver вызывает handler, пока не кончится бюджет. Попытки, сделанные до
// повторной публикации, берутся из заголовка x-retry-count; хотя бы одна
// попытка выполняется всегда.
func (c *Consumer) deliver(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	prior := priorAttempts(message)
	budget := max(c.maxRetries-prior, 1)

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return prior + attempt, nil
		}
		if attempt >= budget {
			return prior + attempt, err
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   message.Topic,
			"attempt": prior + attempt,
			"max":     c.maxRetries,
		}).Warn("message processing failed, will retry")

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return prior + attempt, err
		case <-timer.C:
		}
	}
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, attempts int) error {
	record := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		Error:             cause.Error(),
		Attempts:          attempts,
		FailedAt:          c.now().UTC(),
	}
	return c.dlq.PublishEvent(c.dlqTopic, record.OriginalKey, record)
}

func priorAttempts(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(header.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// ParseItemEvent парсит ItemEvent из сообщения
func ParseItemEvent(message *sarama.ConsumerMessage) (*ItemEvent, error) {
	var event ItemEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item event: %w", err)
	}
	if event.OrderID <= 0 {
		return nil, fmt.Errorf("item event without order id")
	}
	return &event, nil
}
