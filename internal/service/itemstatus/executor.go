package itemstatus

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/telemetry"
)

// RetryConfig конфигурация повторов сетевого вызова.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// AttemptTimeout ограничивает одну попытку; 0 — без ограничения.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию: 3 попытки, 1s, 2s, потолок 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       5 * time.Second,
		BackoffFactor:  2.0,
		AttemptTimeout: 10 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	if c.AttemptTimeout < 0 {
		c.AttemptTimeout = 0
	}
	return c
}

// AttemptObserver получает исход каждой попытки ("ok" или категорию ошибки).
type AttemptObserver interface {
	AttemptFinished(outcome string)
}

// Executor отправляет изменение статуса с ограниченным числом повторов.
type Executor struct {
	updater  domain.ItemStatusUpdater
	config   RetryConfig
	observer AttemptObserver
	logger   *log.Entry
}

// NewExecutor создаёт executor. observer и logger могут быть nil.
func NewExecutor(updater domain.ItemStatusUpdater, config RetryConfig, observer AttemptObserver, logger *log.Entry) *Executor {
	if logger == nil {
		logger = log.WithField("component", "item-status-executor")
	}
	return &Executor{
		updater:  updater,
		config:   config.normalized(),
		observer: observer,
		logger:   logger,
	}
}

// Execute вызывает обновление статуса. Повторяет только ошибки, похожие на
// временный сбой (RetryableError).
// onRetry вызывается перед ожиданием очередной попытки. Возвращает число выполненных попыток.
func (e *Executor) Execute(ctx context.Context, change domain.StatusChange, onRetry func(attempt int, err error)) (domain.LineItem, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "item_status.execute")
	defer span.End()

	var lastErr error
	delay := e.config.InitialDelay

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		item, err := e.attempt(ctx, change)
		if err == nil {
			e.observe("ok")
			if attempt > 1 {
				e.logger.WithFields(log.Fields{
					"order_item_id": change.OrderItemID,
					"status":        change.Status,
					"attempt":       attempt,
				}).Info("item status update succeeded after retry")
			}
			telemetry.SetSpanSuccess(span)
			return item, attempt, nil
		}

		lastErr = err
		kind := Classify(err)
		e.observe(string(kind))

		if !RetryableError(err) {
			e.logger.WithFields(log.Fields{
				"order_item_id": change.OrderItemID,
				"error_kind":    kind,
				"error":         err,
			}).Warn("item status update failed with non-retryable error")
			telemetry.RecordSpanError(span, err)
			return domain.LineItem{}, attempt, err
		}

		if attempt >= e.config.MaxAttempts {
			break
		}

		e.logger.WithFields(log.Fields{
			"order_item_id": change.OrderItemID,
			"attempt":       attempt,
			"delay":         delay,
			"error":         err,
		}).Warn("item status update failed, retrying")
		if onRetry != nil {
			onRetry(attempt, err)
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				telemetry.RecordSpanError(span, lastErr)
				return domain.LineItem{}, attempt, lastErr
			case <-time.After(delay):
			}
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * e.config.BackoffFactor)
		if delay > e.config.MaxDelay {
			delay = e.config.MaxDelay
		}
	}

	e.logger.WithFields(log.Fields{
		"order_item_id": change.OrderItemID,
		"max_attempts":  e.config.MaxAttempts,
		"error":         lastErr,
	}).Error("item status update failed after all retry attempts")
	telemetry.RecordSpanError(span, lastErr)
	return domain.LineItem{}, e.config.MaxAttempts, lastErr
}

func (e *Executor) attempt(ctx context.Context, change domain.StatusChange) (domain.LineItem, error) {
	if e.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.AttemptTimeout)
		defer cancel()
	}
	return e.updater.UpdateItemStatus(ctx, change.OrderItemID, change.Status, change.Notes)
}

func (e *Executor) observe(outcome string) {
	if e.observer != nil {
		e.observer.AttemptFinished(outcome)
	}
}
