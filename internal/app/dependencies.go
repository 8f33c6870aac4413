package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/oms-console/internal/apiclient"
	"github.com/vladislavdragonenkov/oms-console/internal/health"
	kafkamsg "github.com/vladislavdragonenkov/oms-console/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/oms-console/internal/metrics"
	"github.com/vladislavdragonenkov/oms-console/internal/notify"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
	"github.com/vladislavdragonenkov/oms-console/internal/service/httpapi"
	"github.com/vladislavdragonenkov/oms-console/internal/service/itemstatus"
	"github.com/vladislavdragonenkov/oms-console/internal/service/refresh"
	"github.com/vladislavdragonenkov/oms-console/internal/version"
)

const consoleProduct = "oms-console"

// Dependencies содержит компоненты консоли.
type Dependencies struct {
	Client        *apiclient.Client
	Cache         *querycache.Store
	Metrics       *metrics.ConsoleMetrics
	Notifications *notify.Recorder
	Controller    *itemstatus.Controller
	Refresher     *refresh.Worker
	Handler       *httpapi.Handler
	Health        *health.Handler
	Producer      *kafkamsg.Producer
	Logger        *log.Entry
}

// NewDependencies собирает консоль. Kafka-producer создаётся только при заданных брокерах;
// ошибка подключения к Kafka не фатальна.
func NewDependencies(cfg Config, registerer prometheus.Registerer, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent(consoleProduct)
	}
	client, err := apiclient.New(apiclient.Config{
		BaseURL:   cfg.APIURL,
		Token:     cfg.APIToken,
		UserAgent: userAgent,
		Timeout:   cfg.RequestTimeout,
	}, nil, logger.WithField("component", "api-client"))
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	consoleMetrics := metrics.NewConsoleMetricsWithRegisterer(registerer)
	cache := querycache.New(
		querycache.WithLogger(logger.WithField("component", "query-cache")),
		querycache.WithFetchObserver(consoleMetrics),
	)

	recorder := notify.NewRecorder(cfg.NotificationHistory)
	notifier := notify.NewFanout(consoleMetrics,
		notify.NewLogNotifier(logger.WithField("component", "notifications")),
		recorder,
	)

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, consoleProduct, logger)

	options := []itemstatus.Option{
		itemstatus.WithLogger(logger.WithField("component", "item-status")),
		itemstatus.WithNotifier(notifier),
		itemstatus.WithMetrics(consoleMetrics),
		itemstatus.WithRetryConfig(cfg.RetryConfig()),
		itemstatus.WithUserAgent(client.UserAgent()),
		itemstatus.WithTrackedMutations(cfg.TrackedMutations),
	}
	if producer != nil {
		options = append(options, itemstatus.WithEventPublisher(kafkamsg.NewItemStatusPublisher(producer, cfg.KafkaStatusTopic)))
	}
	controller := itemstatus.NewController(cache, client, options...)

	refresher := refresh.NewWorker(cache, client,
		refresh.WithLogger(logger.WithField("component", "refresh-worker")),
		refresh.WithInterval(cfg.RefreshInterval),
		refresh.WithOrderIDs(cfg.RefreshOrderIDs...),
		refresh.WithRateLimit(rate.Limit(cfg.RefreshRateLimit), 1),
	)

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("order-api", health.NewDegradedChecker("order-api", func(ctx context.Context) error {
		_, err := client.ListOrders(ctx, 1, 1)
		return err
	}))

	return &Dependencies{
		Client:        client,
		Cache:         cache,
		Metrics:       consoleMetrics,
		Notifications: recorder,
		Controller:    controller,
		Refresher:     refresher,
		Handler:       httpapi.NewHandler(cache, client, controller, recorder, logger.WithField("component", "console-api")),
		Health:        healthHandler,
		Producer:      producer,
		Logger:        logger,
	}, nil
}

// Close ждёт незавершённые мутации и закрывает Kafka-producer.
func (d *Dependencies) Close(ctx context.Context) {
	if err := d.Controller.Wait(ctx); err != nil {
		d.Logger.WithError(err).Warn("in-flight item status mutations did not settle before shutdown")
	}
	closeKafka(d.Producer, d.Logger)
}

func shutdownTimeoutContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
