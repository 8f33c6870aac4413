package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsoleMetrics содержит метрики мутаций статусов и кэша запросов консоли.
type ConsoleMetrics struct {
	// Исходы мутаций: succeeded, rolled_back, failed.
	mutations *prometheus.CounterVec
	// Попытки сетевого вызова по категории ошибки (ok для успешных).
	attempts  *prometheus.CounterVec
	rollbacks prometheus.Counter
	// Длительность мутации от патча до завершения.
	duration prometheus.Histogram
	inFlight prometheus.Gauge

	cacheFetches *prometheus.CounterVec
	// Количество уведомлений по уровню.
	notifications *prometheus.CounterVec
}

// NewConsoleMetrics регистрирует метрики в DefaultRegisterer.
func NewConsoleMetrics() *ConsoleMetrics {
	return NewConsoleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewConsoleMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewConsoleMetricsWithRegisterer(registerer prometheus.Registerer) *ConsoleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ConsoleMetrics{
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_console_item_status_mutations_total",
			Help: "Total number of item status mutations grouped by final result",
		}, []string{"result"}),
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_console_item_status_attempts_total",
			Help: "Total number of item status update calls grouped by outcome kind",
		}, []string{"outcome"}),
		rollbacks: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_console_item_status_rollbacks_total",
			Help: "Total number of optimistic patches rolled back",
		}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_console_item_status_duration_seconds",
			Help:    "Duration of item status mutations from patch to settlement",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_console_item_status_in_flight",
			Help: "Number of item status mutations waiting for the server",
		}),
		cacheFetches: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_console_cache_fetches_total",
			Help: "Total number of query cache fetches grouped by result",
		}, []string{"result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_console_notifications_total",
			Help: "Total number of user notifications grouped by severity",
		}, []string{"severity"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// MutationStarted отмечает начало мутации.
func (m *ConsoleMetrics) MutationStarted() {
	m.inFlight.Inc()
}

// MutationSettled фиксирует итог мутации и её длительность.
func (m *ConsoleMetrics) MutationSettled(result string, duration time.Duration) {
	m.inFlight.Dec()
	m.mutations.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
}

// AttemptFinished фиксирует одну попытку сетевого вызова.
func (m *ConsoleMetrics) AttemptFinished(outcome string) {
	m.attempts.WithLabelValues(outcome).Inc()
}

// RolledBack увеличивает счётчик откатов.
func (m *ConsoleMetrics) RolledBack() {
	m.rollbacks.Inc()
}

// ObserveFetch реализует querycache.FetchObserver.
func (m *ConsoleMetrics) ObserveFetch(result string) {
	m.cacheFetches.WithLabelValues(result).Inc()
}

// NotificationSent считает уведомления по уровню.
func (m *ConsoleMetrics) NotificationSent(severity string) {
	m.notifications.WithLabelValues(severity).Inc()
}
