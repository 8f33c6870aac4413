// Package app собирает и запускает консоль и stub-сервер OMS API.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/health"
	kafkamsg "github.com/vladislavdragonenkov/oms-console/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/oms-console/internal/service/stubapi"
	"github.com/vladislavdragonenkov/oms-console/internal/storage/memory"
	"github.com/vladislavdragonenkov/oms-console/internal/telemetry"
	"github.com/vladislavdragonenkov/oms-console/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Run запускает консоль до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    consoleProduct,
		ServiceVersion: version.GetVersion(),
		SampleRate:     cfg.TraceSampleRate,
	}, logger.WithField("component", "telemetry"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := shutdownTimeoutContext()
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	deps, err := NewDependencies(cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := shutdownTimeoutContext()
		defer cancel()
		deps.Close(shutdownCtx)
	}()

	consumer, _ := initRefetchConsumer(cfg, deps.Cache, deps.Client, deps.Producer, logger)
	if consumer != nil {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("failed to start kafka consumer")
		}
		defer stopConsumer(consumer, logger)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		deps.Refresher.Run(workerCtx)
	}()
	defer func() {
		stopWorker()
		<-workerDone
	}()

	metricsSrv, err := startMetricsServer(ctx, cfg.MetricsAddr, logger, deps.Health)
	if err != nil {
		return err
	}
	defer shutdownHTTP(metricsSrv, logger)

	logger.WithFields(log.Fields{
		"http_addr": cfg.HTTPAddr,
		"api_url":   cfg.APIURL,
	}).Info("console API is starting")
	return serveHTTP(ctx, cfg.HTTPAddr, deps.Handler.Routes(), logger)
}

// RunStub запускает stub-сервер OMS API до отмены ctx.
func RunStub(ctx context.Context, cfg StubConfig) error {
	logger := log.WithField("component", "oms-stub")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	if cfg.SeedDemoData {
		created, err := memory.Seed(ctx, deps.repo, memory.DemoOrders(time.Now().UTC()))
		if err != nil {
			return err
		}
		logger.WithField("created", created).Info("demo orders seeded")
	}

	opts := stubapi.Options{Token: cfg.Token, Logger: logger}
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, "oms-stub", logger)
	if producer != nil {
		defer closeKafka(producer, logger)
		opts.Publisher = kafkamsg.NewItemEventPublisher(producer, cfg.KafkaItemEventsTopic)
	}

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	metricsSrv, err := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	if err != nil {
		return err
	}
	defer shutdownHTTP(metricsSrv, logger)

	logger.WithFields(log.Fields{
		"addr":    cfg.Addr,
		"storage": cfg.StorageDriver,
	}).Info("oms stub API is starting")
	return serveHTTP(ctx, cfg.Addr, stubapi.NewServer(deps.repo, opts).Routes(), logger)
}

// serveHTTP обслуживает handler до отмены ctx и возвращает ctx.Err() после остановки.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *log.Entry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(srv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv, nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := shutdownTimeoutContext()
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func stopConsumer(consumer *kafkamsg.Consumer, logger *log.Entry) {
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
