// Command dlq-reprocess возвращает события позиций из DLQ консьюмера консоли
// обратно в исходный топик. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errMissingDependencies = errors.New("kafka client and consumer are required")

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	dedupe      bool
	idleTimeout time.Duration
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	var brokersRaw string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic written by the console consumer")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicItemEvents, "topic for records without original_topic")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of DLQ records to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish records; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the latest records of each partition")
	fs.BoolVar(&cfg.dedupe, "dedupe", true, "replay one record per key: a refetch per order is enough")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" && getenv != nil {
		brokersRaw = getenv("KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case cfg.sourceTopic == "":
		return config{}, errors.New("source-topic is required")
	case cfg.targetTopic == "":
		return config{}, errors.New("target-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return a.consumer.ConsumePartition(topic, partition, offset)
}

func (a saramaConsumerAdapter) Close() error {
	return a.consumer.Close()
}

type dependencies struct {
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
}

func (d dependencies) close() {
	if d.producer != nil {
		_ = d.producer.Close()
	}
	if d.consumer != nil {
		_ = d.consumer.Close()
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}

// newDependencies подменяется в тестах.
var newDependencies = func(cfg config) (dependencies, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = "oms-console-dlq-reprocess"
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return dependencies{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return dependencies{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps := dependencies{client: client, consumer: saramaConsumerAdapter{consumer: consumer}}
	if !cfg.execute {
		return deps, nil
	}

	// Тот же профиль надёжности, что у продюсера консоли.
	producer, err := kafka.NewSyncProducer(cfg.brokers, saramaCfg.ClientID)
	if err != nil {
		deps.close()
		return dependencies{}, err
	}
	deps.producer = producer
	return deps, nil
}

type replayStats struct {
	scanned    int
	replayed   int
	duplicates int
	skipped    int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.duplicates += other.duplicates
	s.skipped += other.skipped
}

// replayer читает DLQ по партициям и переигрывает пригодные записи.
type replayer struct {
	cfg    config
	deps   dependencies
	logger *log.Entry
	seen   map[string]struct{}
}

func newReplayer(cfg config, deps dependencies, logger *log.Entry) (*replayer, error) {
	if deps.client == nil || deps.consumer == nil {
		return nil, errMissingDependencies
	}
	if cfg.execute && deps.producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	if logger == nil {
		logger = log.WithField("component", "dlq-reprocess")
	}
	return &replayer{cfg: cfg, deps: deps, logger: logger, seen: make(map[string]struct{})}, nil
}

func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.deps.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// window возвращает диапазон смещений [start, end) для чтения партиции.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.deps.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.deps.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	start := oldest
	if r.cfg.fromNewest && newest-int64(budget) > oldest {
		start = newest - int64(budget)
	}
	return start, newest, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, budget)
	if err != nil || end <= start {
		return stats, err
	}

	pc, err := r.deps.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.scanned++
			if err := r.handle(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *replayStats) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	record, ok, err := decodeDLQRecord(msg, r.cfg.targetTopic)
	if err != nil {
		stats.skipped++
		entry.WithError(err).Warn("skip invalid dlq record")
		return nil
	}
	if !ok {
		stats.skipped++
		return nil
	}

	if r.cfg.dedupe {
		if _, dup := r.seen[record.key]; dup {
			stats.duplicates++
			entry.WithField("key", record.key).Debug("skip duplicate dlq record")
			return nil
		}
		r.seen[record.key] = struct{}{}
	}

	entry = entry.WithFields(log.Fields{"target_topic": record.topic, "key": record.key})
	if !r.cfg.execute {
		stats.replayed++
		entry.Info("dlq replay candidate")
		return nil
	}
	if err := publish(r.deps.producer, record); err != nil {
		return fmt.Errorf("publish replay record: %w", err)
	}
	stats.replayed++
	entry.Debug("dlq record replayed")
	return nil
}

type replayRecord struct {
	topic string
	key   string
	value []byte
}

// decodeDLQRecord достаёт исходное событие из DLQ-записи консьюмера.
// Записи другого формата пропускаются без ошибки, битые события позиций
// возвращают ошибку.
func decodeDLQRecord(msg *sarama.ConsumerMessage, defaultTopic string) (replayRecord, bool, error) {
	var payload kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.OriginalValue == "" {
		return replayRecord{}, false, nil
	}

	value := []byte(payload.OriginalValue)
	event, err := kafka.ParseItemEvent(&sarama.ConsumerMessage{Value: value})
	if err != nil {
		return replayRecord{}, false, fmt.Errorf("decode original item event: %w", err)
	}

	record := replayRecord{
		topic: strings.TrimSpace(payload.OriginalTopic),
		key:   strings.TrimSpace(payload.OriginalKey),
		value: value,
	}
	if record.topic == "" {
		record.topic = defaultTopic
	}
	if record.key == "" {
		record.key = strconv.FormatInt(event.OrderID, 10)
	}
	return record, true, nil
}

func publish(producer replayProducer, record replayRecord) error {
	if producer == nil {
		return errors.New("producer is nil")
	}
	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     record.topic,
		Key:       sarama.StringEncoder(record.key),
		Value:     sarama.ByteEncoder(record.value),
		Timestamp: time.Now().UTC(),
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(record.topic)},
		},
	})
	return err
}

func run(ctx context.Context, cfg config, logger *log.Entry) (replayStats, error) {
	logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
		"dedupe":       cfg.dedupe,
	}).Info("starting dlq replay")

	deps, err := newDependencies(cfg)
	if err != nil {
		return replayStats{}, err
	}
	defer deps.close()

	r, err := newReplayer(cfg, deps, logger)
	if err != nil {
		return replayStats{}, err
	}
	stats, err := r.Run(ctx)

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	logger.WithFields(log.Fields{
		"mode":       mode,
		"scanned":    stats.scanned,
		"replayed":   stats.replayed,
		"duplicates": stats.duplicates,
		"skipped":    stats.skipped,
	}).Info("dlq replay finished")
	return stats, err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "dlq-reprocess")

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, cfg, logger); err != nil {
		stop()
		fail("dlq replay failed: %v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
