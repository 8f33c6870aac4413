package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
)

// NewRefetchHandler возвращает handler, который по событию backend-а перечитывает
// заказ в кэш консоли. Сообщения, которые нельзя разобрать, пропускаются.
func NewRefetchHandler(cache domain.QueryCache, reader domain.OrderReader, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-refetch")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseItemEvent(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skipping malformed item event")
			return nil
		}

		_, err = cache.Fetch(ctx, querycache.OrderKey(event.OrderID), func(ctx context.Context) (any, error) {
			return reader.GetOrder(ctx, event.OrderID)
		})
		switch {
		case err == nil:
			logger.WithFields(log.Fields{
				"order_id":   event.OrderID,
				"event_type": event.EventType,
			}).Debug("order refetched after backend event")
			return nil
		case errors.Is(err, domain.ErrFetchCancelled):
			// Чтение вытеснено оптимистичной мутацией.
			return nil
		case domain.IsNotFound(err):
			logger.WithField("order_id", event.OrderID).Info("order from event no longer exists")
			return nil
		default:
			return err
		}
	}
}
