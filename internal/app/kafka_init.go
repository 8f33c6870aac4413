package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	kafkamsg "github.com/vladislavdragonenkov/oms-console/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Возвращает nil, nil для пустого списка брокеров.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafkamsg.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafkamsg.NewProducer(brokers, clientID, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initRefetchConsumer подписывает консоль на события позиций: каждое событие
// перечитывает заказ в кэш.
func initRefetchConsumer(cfg Config, cache domain.QueryCache, reader domain.OrderReader, dlq *kafkamsg.Producer, logger *log.Entry) (*kafkamsg.Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaItemEventsTopic == "" {
		return nil, nil
	}

	handler := kafkamsg.NewRefetchHandler(cache, reader, logger.WithField("component", "refetch-handler"))
	consumer, err := kafkamsg.NewConsumer(kafkamsg.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.KafkaGroupID,
		Topics:     []string{cfg.KafkaItemEventsTopic},
		MaxRetries: cfg.KafkaMaxRetries,
		RetryDelay: cfg.KafkaRetryDelay,
		DLQTopic:   cfg.KafkaDLQTopic,
	}, handler, dlq, logger.WithField("component", "kafka-consumer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, continuing without item events")
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafkamsg.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
