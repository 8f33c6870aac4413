package itemstatus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
)

type updateCall struct {
	ItemID int64
	Status domain.ItemStatus
	Notes  string
}

// stubUpdater возвращает ошибки из errs по очереди, затем успех.
type stubUpdater struct {
	mu      sync.Mutex
	calls   []updateCall
	errs    []error
	always  error
	block   chan struct{}
	started chan struct{}
}

func (s *stubUpdater) UpdateItemStatus(ctx context.Context, itemID int64, status domain.ItemStatus, notes string) (domain.LineItem, error) {
	s.mu.Lock()
	s.calls = append(s.calls, updateCall{ItemID: itemID, Status: status, Notes: notes})
	n := len(s.calls)
	var err error
	if s.always != nil {
		err = s.always
	} else if n <= len(s.errs) {
		err = s.errs[n-1]
	}
	block, started := s.block, s.started
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.LineItem{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.LineItem{}, err
	}
	return domain.LineItem{ID: itemID, Status: status, Notes: notes}, nil
}

func (s *stubUpdater) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubUpdater) lastCall() updateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (r *recordingNotifier) Notify(n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) all() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Notification, len(r.items))
	copy(out, r.items)
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ItemStatusEvent
	err    error
}

func (p *recordingPublisher) PublishItemStatus(_ context.Context, event domain.ItemStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) all() []domain.ItemStatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ItemStatusEvent, len(p.events))
	copy(out, p.events)
	return out
}

type recordingMetrics struct {
	mu        sync.Mutex
	started   int
	settled   map[string]int
	attempts  map[string]int
	rollbacks int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{settled: map[string]int{}, attempts: map[string]int{}}
}

func (m *recordingMetrics) AttemptFinished(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[outcome]++
}

func (m *recordingMetrics) MutationStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) MutationSettled(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled[result]++
}

func (m *recordingMetrics) RolledBack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks++
}

// fastRetry — политика по умолчанию, но без реальных задержек.
func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

type fixture struct {
	cache     *querycache.Store
	updater   *stubUpdater
	notifier  *recordingNotifier
	publisher *recordingPublisher
	metrics   *recordingMetrics
	hook      *test.Hook
	ctrl      *Controller
}

func newFixture(t *testing.T, updater *stubUpdater) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		cache:     querycache.New(querycache.WithLogger(quietLogger())),
		updater:   updater,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		metrics:   newRecordingMetrics(),
		hook:      hook,
	}
	f.ctrl = NewController(f.cache, updater,
		WithLogger(logger.WithField("component", "item-status")),
		WithNotifier(f.notifier),
		WithEventPublisher(f.publisher),
		WithMetrics(f.metrics),
		WithRetryConfig(fastRetry()),
		WithUserAgent("console-test/1.0"),
	)
	return f
}

// order123 — заказ из сценариев: позиции 1 (preparing) и 2 (processing).
func order123() domain.Order {
	return domain.Order{
		ID:         123,
		CustomerID: "customer-1",
		Currency:   "USD",
		Items: []domain.LineItem{
			{ID: 1, Status: domain.ItemStatusPreparing, Name: "Mug", SKU: "MUG-1", Qty: 2, UnitPriceMinor: 500},
			{ID: 2, Status: domain.ItemStatusProcessing, Name: "Plate", SKU: "PLT-2", Qty: 1, UnitPriceMinor: 900},
		},
	}
}

func cachedOrder(t *testing.T, cache *querycache.Store, id int64) domain.Order {
	t.Helper()
	value, ok := cache.Get(querycache.OrderKey(id))
	if !ok {
		t.Fatalf("order %d is not cached", id)
	}
	order, ok := value.(domain.Order)
	if !ok {
		t.Fatalf("unexpected cached type %T", value)
	}
	return order
}

var errAPI = errors.New("API error")
