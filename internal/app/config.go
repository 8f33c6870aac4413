package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	kafkamsg "github.com/vladislavdragonenkov/oms-console/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/oms-console/internal/service/itemstatus"
)

// StorageDriver выбирает хранилище stub-сервера OMS API.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

var (
	ErrAPIURLRequired       = errors.New("OMS_API_URL is required")
	ErrPostgresDSNRequired  = errors.New("OMS_POSTGRES_DSN is required for postgres storage")
	ErrUnsupportedStorage   = errors.New("unsupported storage driver")
	ErrInvalidRetryAttempts = errors.New("retry attempts must be positive")
)

// Config описывает настройки консоли.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	APIURL         string
	APIToken       string
	UserAgent      string
	RequestTimeout time.Duration

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	TrackedMutations    int
	NotificationHistory int

	RefreshInterval  time.Duration
	RefreshOrderIDs  []int64
	RefreshRateLimit float64

	KafkaBrokers         []string
	KafkaStatusTopic     string
	KafkaItemEventsTopic string
	KafkaGroupID         string
	KafkaDLQTopic        string
	KafkaMaxRetries      int
	KafkaRetryDelay      time.Duration

	LogLevel        string
	LogFormat       string
	TraceSampleRate float64
}

// DefaultConfig возвращает настройки консоли по умолчанию.
func DefaultConfig() Config {
	retry := itemstatus.DefaultRetryConfig()
	return Config{
		HTTPAddr:             ":8080",
		MetricsAddr:          ":9090",
		UserAgent:            "",
		RequestTimeout:       10 * time.Second,
		RetryMaxAttempts:     retry.MaxAttempts,
		RetryInitialDelay:    retry.InitialDelay,
		RetryMaxDelay:        retry.MaxDelay,
		TrackedMutations:     256,
		NotificationHistory:  100,
		RefreshInterval:      30 * time.Second,
		RefreshRateLimit:     10,
		KafkaStatusTopic:     kafkamsg.TopicConsoleItemStatus,
		KafkaItemEventsTopic: kafkamsg.TopicItemEvents,
		KafkaGroupID:         "oms-console",
		KafkaDLQTopic:        kafkamsg.TopicDeadLetterQueue,
		KafkaMaxRetries:      3,
		KafkaRetryDelay:      200 * time.Millisecond,
		LogLevel:             "info",
		LogFormat:            "text",
		TraceSampleRate:      1,
	}
}

// Validate проверяет обязательные настройки консоли.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return ErrAPIURLRequired
	}
	parsed, err := url.Parse(c.APIURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("OMS_API_URL %q must be an absolute URL", c.APIURL)
	}
	if c.RetryMaxAttempts <= 0 {
		return ErrInvalidRetryAttempts
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// RetryConfig собирает конфигурацию повторов для контроллера мутаций.
func (c Config) RetryConfig() itemstatus.RetryConfig {
	retry := itemstatus.DefaultRetryConfig()
	retry.MaxAttempts = c.RetryMaxAttempts
	retry.InitialDelay = c.RetryInitialDelay
	retry.MaxDelay = c.RetryMaxDelay
	if c.RequestTimeout > 0 {
		retry.AttemptTimeout = c.RequestTimeout
	}
	return retry
}

// StubConfig описывает настройки stub-сервера OMS API.
type StubConfig struct {
	Addr        string
	MetricsAddr string
	Token       string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemoData        bool

	KafkaBrokers         []string
	KafkaItemEventsTopic string

	LogLevel  string
	LogFormat string
}

// DefaultStubConfig возвращает настройки stub-сервера по умолчанию.
func DefaultStubConfig() StubConfig {
	return StubConfig{
		Addr:                 ":8081",
		MetricsAddr:          ":9091",
		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		SeedDemoData:         true,
		KafkaItemEventsTopic: kafkamsg.TopicItemEvents,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Validate проверяет настройки stub-сервера.
func (c StubConfig) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return ErrPostgresDSNRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedStorage, c.StorageDriver)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// LookupFunc читает переменную окружения.
type LookupFunc func(key string) (string, bool)

// LoadConfig накладывает переменные окружения на DefaultConfig.
func LoadConfig(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}
	cfg := DefaultConfig()

	env.string("OMS_HTTP_ADDR", &cfg.HTTPAddr)
	env.string("OMS_METRICS_ADDR", &cfg.MetricsAddr)
	env.string("OMS_API_URL", &cfg.APIURL)
	env.string("OMS_API_TOKEN", &cfg.APIToken)
	env.string("OMS_USER_AGENT", &cfg.UserAgent)
	env.duration("OMS_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	env.int("OMS_RETRY_MAX_ATTEMPTS", &cfg.RetryMaxAttempts)
	env.duration("OMS_RETRY_INITIAL_DELAY", &cfg.RetryInitialDelay)
	env.duration("OMS_RETRY_MAX_DELAY", &cfg.RetryMaxDelay)
	env.int("OMS_TRACKED_MUTATIONS", &cfg.TrackedMutations)
	env.int("OMS_NOTIFICATION_HISTORY", &cfg.NotificationHistory)
	env.duration("OMS_REFRESH_INTERVAL", &cfg.RefreshInterval)
	env.int64List("OMS_REFRESH_ORDERS", &cfg.RefreshOrderIDs)
	env.float("OMS_REFRESH_RATE_LIMIT", &cfg.RefreshRateLimit)
	env.list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.string("KAFKA_STATUS_TOPIC", &cfg.KafkaStatusTopic)
	env.string("KAFKA_ITEM_EVENTS_TOPIC", &cfg.KafkaItemEventsTopic)
	env.string("KAFKA_GROUP_ID", &cfg.KafkaGroupID)
	env.string("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)
	env.int("KAFKA_MAX_RETRIES", &cfg.KafkaMaxRetries)
	env.duration("KAFKA_RETRY_DELAY", &cfg.KafkaRetryDelay)
	env.string("OMS_LOG_LEVEL", &cfg.LogLevel)
	env.string("OMS_LOG_FORMAT", &cfg.LogFormat)
	env.float("OMS_TRACE_SAMPLE_RATE", &cfg.TraceSampleRate)

	if err := env.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadStubConfig накладывает переменные окружения на DefaultStubConfig.
func LoadStubConfig(lookup LookupFunc) (StubConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}
	cfg := DefaultStubConfig()

	var driver string
	env.string("OMS_STUB_ADDR", &cfg.Addr)
	env.string("OMS_STUB_METRICS_ADDR", &cfg.MetricsAddr)
	env.string("OMS_STUB_TOKEN", &cfg.Token)
	env.string("OMS_STORAGE_DRIVER", &driver)
	env.string("OMS_POSTGRES_DSN", &cfg.PostgresDSN)
	env.bool("OMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.bool("OMS_SEED_DEMO_DATA", &cfg.SeedDemoData)
	env.list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.string("KAFKA_ITEM_EVENTS_TOPIC", &cfg.KafkaItemEventsTopic)
	env.string("OMS_LOG_LEVEL", &cfg.LogLevel)
	env.string("OMS_LOG_FORMAT", &cfg.LogFormat)
	if driver != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(driver))
	}

	if err := env.err(); err != nil {
		return StubConfig{}, err
	}
	return cfg, nil
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	raw, ok := e.lookup(key)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (e *envReader) string(key string, dst *string) {
	if raw, ok := e.value(key); ok {
		*dst = raw
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (e *envReader) int(key string, dst *int) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (e *envReader) bool(key string, dst *bool) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) list(key string, dst *[]string) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	*dst = splitList(raw)
}

func (e *envReader) int64List(key string, dst *[]int64) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	var ids []int64
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		ids = append(ids, id)
	}
	*dst = ids
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
