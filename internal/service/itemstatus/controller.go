// Package itemstatus реализует оптимистичное изменение статуса позиции заказа:
// патч записи в кэше запросов, вызов API с ограниченными повторами и точный
// откат патча при терминальной ошибке.
package itemstatus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
	"github.com/vladislavdragonenkov/oms-console/internal/telemetry"
)

const (
	defaultTrackedMutations = 256

	EventTypeChanged    = "item_status.changed"
	EventTypeRolledBack = "item_status.rolled_back"
	EventTypeFailed     = "item_status.failed"
)

// MetricsRecorder получает события жизненного цикла мутаций.
type MetricsRecorder interface {
	AttemptObserver
	MutationStarted()
	MutationSettled(result string, duration time.Duration)
	RolledBack()
}

// Options задаёт параметры контроллера.
type Options struct {
	Logger           *log.Entry
	Notifier         domain.Notifier
	Publisher        domain.EventPublisher
	Metrics          MetricsRecorder
	Retry            RetryConfig
	UserAgent        string
	TrackedMutations int
	Now              func() time.Time
}

// Option настраивает Controller.
type Option func(*Options)

// WithLogger задаёт logger контроллера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithNotifier задаёт получателя пользовательских уведомлений.
func WithNotifier(notifier domain.Notifier) Option {
	return func(opts *Options) { opts.Notifier = notifier }
}

// WithEventPublisher задаёт публикацию событий об исходе мутаций.
func WithEventPublisher(publisher domain.EventPublisher) Option {
	return func(opts *Options) { opts.Publisher = publisher }
}

// WithMetrics задаёт сборщик метрик.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(opts *Options) { opts.Metrics = metrics }
}

// WithRetryConfig задаёт политику повторов.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(opts *Options) { opts.Retry = cfg }
}

// WithUserAgent задаёт строку User-Agent для диагностических логов.
func WithUserAgent(userAgent string) Option {
	return func(opts *Options) { opts.UserAgent = userAgent }
}

// WithTrackedMutations ограничивает число мутаций, доступных через Lookup.
func WithTrackedMutations(n int) Option {
	return func(opts *Options) { opts.TrackedMutations = n }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Controller выполняет оптимистичные мутации статуса позиций.
type Controller struct {
	cache     domain.QueryCache
	executor  *Executor
	notifier  domain.Notifier
	publisher domain.EventPublisher
	metrics   MetricsRecorder
	logger    *log.Entry
	userAgent string
	now       func() time.Time

	mu        sync.Mutex
	mutations map[string]*Mutation
	order     []string
	maxTrack  int
	wg        sync.WaitGroup
}

// NewController создаёт контроллер поверх кэша и клиента API.
func NewController(cache domain.QueryCache, updater domain.ItemStatusUpdater, options ...Option) *Controller {
	opts := Options{
		Retry:            DefaultRetryConfig(),
		TrackedMutations: defaultTrackedMutations,
		Now:              time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "item-status")
	}
	if opts.TrackedMutations <= 0 {
		opts.TrackedMutations = defaultTrackedMutations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var attempts AttemptObserver
	if opts.Metrics != nil {
		attempts = opts.Metrics
	}

	return &Controller{
		cache:     cache,
		executor:  NewExecutor(updater, opts.Retry, attempts, logger.WithField("layer", "executor")),
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger,
		userAgent: opts.UserAgent,
		now:       opts.Now,
		mutations: make(map[string]*Mutation),
		maxTrack:  opts.TrackedMutations,
	}
}

// Run выполняет мутацию и ждёт её завершения.
func (c *Controller) Run(ctx context.Context, change domain.StatusChange) (Result, error) {
	m, err := c.Start(ctx, change)
	if err != nil {
		return Result{}, err
	}
	return m.Wait(ctx)
}

// Start синхронно применяет оптимистичный патч и запускает сетевой вызов в фоне.
// Сетевой вызов не отменяется вместе с ctx. Ошибка возвращается только для
// некорректного запроса; отсутствие позиции в кэше ошибкой не считается.
func (c *Controller) Start(ctx context.Context, change domain.StatusChange) (*Mutation, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}

	m := newMutation(uuid.NewString(), change, c.now())
	ctx, span := telemetry.StartSpan(ctx, "item_status.mutate", trace.WithAttributes(
		attribute.String("mutation_id", m.id),
		attribute.Int64("order_item_id", change.OrderItemID),
		attribute.String("status", string(change.Status)),
	))

	// Незавершённые чтения заказов не должны перезаписать патч устаревшими данными.
	c.cache.CancelPendingReads(querycache.OrdersPrefix)

	_ = c.cache.Do(func(tx domain.CacheTx) error {
		loc, found := Locate(tx.GetAll(querycache.OrdersPrefix), change.OrderItemID)
		if !found {
			return nil
		}
		snap, patched := TakeSnapshotAndPatch(tx, loc, change.OrderItemID, change.Status, m.startedAt)
		if patched {
			value, _ := tx.Get(snap.Key)
			m.setSnapshot(snap, value)
		}
		return nil
	})

	if snap, ok := m.Snapshot(); ok {
		m.setState(StatePatched)
		telemetry.AddSpanEvent(span, "patched",
			attribute.String("cache_key", snap.Key.String()),
			attribute.Int64("order_id", snap.OrderID),
			attribute.String("previous_status", string(snap.Previous)),
		)
	} else {
		c.logger.WithFields(log.Fields{
			"mutation_id":   m.id,
			"order_item_id": change.OrderItemID,
		}).Debug("item not found in cached orders, skipping optimistic patch")
	}

	c.track(m)
	if c.metrics != nil {
		c.metrics.MutationStarted()
	}

	c.wg.Add(1)
	go c.settle(context.WithoutCancel(ctx), m, span)

	return m, nil
}

// Lookup возвращает мутацию по ID, если она ещё отслеживается.
func (c *Controller) Lookup(id string) (*Mutation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mutations[id]
	return m, ok
}

// Wait ждёт завершения всех запущенных мутаций или отмены ctx.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) settle(ctx context.Context, m *Mutation, span trace.Span) {
	defer c.wg.Done()
	defer span.End()

	m.setState(StateInFlight)
	item, attempts, err := c.executor.Execute(ctx, m.change, func(int, error) {
		m.setState(StateRetrying)
	})

	if err == nil {
		c.onSuccess(ctx, m, item, attempts)
		telemetry.SetSpanSuccess(span)
		return
	}

	c.onFailure(ctx, m, attempts, err)
	telemetry.RecordSpanError(span, err)
}

func (c *Controller) onSuccess(ctx context.Context, m *Mutation, item domain.LineItem, attempts int) {
	// Кэш уже содержит оптимистичное значение, ответ сервера только логируем.
	c.logger.WithFields(log.Fields{
		"mutation_id":   m.id,
		"order_item_id": item.ID,
		"status":        item.Status,
		"attempts":      attempts,
	}).Debug("item status update confirmed by server")

	c.notify(domain.Notification{
		Severity:    domain.SeveritySuccess,
		Title:       "Status updated",
		Description: fmt.Sprintf("Item #%d is now %q.", m.change.OrderItemID, m.change.Status),
	})

	snap, _ := m.Snapshot()
	c.publish(ctx, domain.ItemStatusEvent{
		EventType:      EventTypeChanged,
		MutationID:     m.id,
		OrderID:        snap.OrderID,
		OrderItemID:    m.change.OrderItemID,
		Status:         m.change.Status,
		PreviousStatus: snap.Previous,
		Attempts:       attempts,
	})

	if c.metrics != nil {
		c.metrics.MutationSettled(string(StateSucceeded), c.now().Sub(m.startedAt))
	}
	m.finish(StateSucceeded, Result{Item: item, Attempts: attempts}, nil)
}

func (c *Controller) onFailure(ctx context.Context, m *Mutation, attempts int, err error) {
	kind := Classify(err)
	snap, hasSnapshot := m.Snapshot()

	outcome := RestoreOutcome("")
	if hasSnapshot {
		_ = c.cache.Do(func(tx domain.CacheTx) error {
			outcome = Restore(tx, snap)
			return nil
		})
	}
	rolledBack := outcome == RestoreApplied

	msg := DescribeFailure(kind, rolledBack)
	c.notify(domain.Notification{
		Severity:    domain.SeverityError,
		Title:       msg.Title,
		Description: msg.Description,
		Action:      msg.Action,
	})

	fields := log.Fields{
		"mutation_id":   m.id,
		"error":         err.Error(),
		"error_kind":    kind,
		"input":         m.change,
		"order_item_id": m.change.OrderItemID,
		"status":        m.change.Status,
		"notes":         m.change.Notes,
		"attempts":      attempts,
		"rolled_back":   rolledBack,
		"timestamp":     c.now().UTC().Format(time.RFC3339Nano),
		"user_agent":    c.userAgent,
	}
	if hasSnapshot {
		fields["snapshot"] = snap
		fields["order_id"] = snap.OrderID
		fields["cache_key"] = snap.Key.String()
		fields["previous_status"] = snap.Previous
		fields["restore"] = outcome
	}
	c.logger.WithFields(fields).Error("item status update failed")

	eventType := EventTypeFailed
	state := StateFailed
	if rolledBack {
		eventType = EventTypeRolledBack
		state = StateRolledBack
		if c.metrics != nil {
			c.metrics.RolledBack()
		}
	}
	c.publish(ctx, domain.ItemStatusEvent{
		EventType:      eventType,
		MutationID:     m.id,
		OrderID:        snap.OrderID,
		OrderItemID:    m.change.OrderItemID,
		Status:         m.change.Status,
		PreviousStatus: snap.Previous,
		ErrorKind:      kind,
		Attempts:       attempts,
	})

	if c.metrics != nil {
		c.metrics.MutationSettled(string(state), c.now().Sub(m.startedAt))
	}
	m.finish(state, Result{Attempts: attempts, RolledBack: rolledBack, ErrorKind: kind}, err)
}

func (c *Controller) notify(n domain.Notification) {
	if c.notifier == nil {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.now()
	}
	c.notifier.Notify(n)
}

func (c *Controller) publish(ctx context.Context, event domain.ItemStatusEvent) {
	if c.publisher == nil {
		return
	}
	event.OccurredAt = c.now()
	if err := c.publisher.PublishItemStatus(ctx, event); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"mutation_id": event.MutationID,
			"event_type":  event.EventType,
		}).Warn("failed to publish item status event")
	}
}

func (c *Controller) track(m *Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mutations[m.id] = m
	c.order = append(c.order, m.id)
	for len(c.order) > c.maxTrack {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.mutations, oldest)
	}
}
