package itemstatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
)

// Сценарий 1: успешная мутация сразу видна в кэше, уведомление одно.
func TestController_SuccessPatchesImmediately(t *testing.T) {
	updater := &stubUpdater{block: make(chan struct{})}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	m, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)

	// Сервер ещё не ответил, а кэш уже содержит новый статус.
	cached := cachedOrder(t, f.cache, 123)
	require.Equal(t, domain.ItemStatusShipped, cached.Items[0].Status)
	require.Equal(t, domain.ItemStatusProcessing, cached.Items[1].Status)
	require.Empty(t, f.notifier.all())

	close(updater.block)
	result, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, m.State())
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, domain.ItemStatusShipped, result.Item.Status)

	cached = cachedOrder(t, f.cache, 123)
	require.Equal(t, domain.ItemStatusShipped, cached.Items[0].Status)

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, domain.SeveritySuccess, notes[0].Severity)
	require.Contains(t, notes[0].Description, "shipped")

	events := f.publisher.all()
	require.Len(t, events, 1)
	require.Equal(t, EventTypeChanged, events[0].EventType)
	require.Equal(t, int64(123), events[0].OrderID)
	require.Equal(t, domain.ItemStatusPreparing, events[0].PreviousStatus)
	require.Equal(t, 1, f.metrics.settled[string(StateSucceeded)])
}

// Сценарий 2 и P2: ошибка без повтора откатывает кэш к исходному состоянию.
func TestController_FailureRollsBackExactly(t *testing.T) {
	updater := &stubUpdater{always: errAPI}
	f := newFixture(t, updater)
	before := order123()
	f.cache.Set(querycache.OrderKey(123), before)

	change := domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped}
	result, err := f.ctrl.Run(context.Background(), change)
	require.ErrorIs(t, err, errAPI)
	require.True(t, result.RolledBack)
	require.Equal(t, domain.ErrorKindUnknown, result.ErrorKind)
	require.Equal(t, 1, updater.callCount())

	require.Equal(t, before, cachedOrder(t, f.cache, 123))

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, domain.SeverityError, notes[0].Severity)
	require.Equal(t, Describe(domain.ErrorKindUnknown).Title, notes[0].Title)

	var entry *logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "item status update failed" {
			entry = e
		}
	}
	require.NotNil(t, entry, "failure must be logged")
	require.Equal(t, change, entry.Data["input"])
	require.Equal(t, "API error", entry.Data["error"])
	require.Equal(t, "console-test/1.0", entry.Data["user_agent"])
	require.NotEmpty(t, entry.Data["timestamp"])
	require.Equal(t, domain.ItemStatusPreparing, entry.Data["previous_status"])
	require.IsType(t, Snapshot{}, entry.Data["snapshot"])

	require.Equal(t, 1, f.metrics.rollbacks)
	events := f.publisher.all()
	require.Len(t, events, 1)
	require.Equal(t, EventTypeRolledBack, events[0].EventType)
}

// Сценарий 3 и P6: позиции нет в кэше, вызов всё равно уходит, кэш не трогаем.
func TestController_NotFoundStillCallsServer(t *testing.T) {
	updater := &stubUpdater{}
	f := newFixture(t, updater)

	result, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 99, Status: domain.ItemStatusShipped})
	require.NoError(t, err)
	require.Nil(t, result.Snapshot)
	require.Equal(t, updateCall{ItemID: 99, Status: domain.ItemStatusShipped}, updater.lastCall())
	require.Equal(t, 0, f.cache.Len())
}

func TestController_NotFoundFailureDoesNotRollBack(t *testing.T) {
	updater := &stubUpdater{always: errors.New("422 Unprocessable")}
	f := newFixture(t, updater)
	other := domain.Order{ID: 8, Items: []domain.LineItem{{ID: 80, Status: domain.ItemStatusPending}}}
	f.cache.Set(querycache.OrderKey(8), other)

	m, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 99, Status: domain.ItemStatusShipped})
	require.NoError(t, err)
	_, hasSnapshot := m.Snapshot()
	require.False(t, hasSnapshot)

	result, err := m.Wait(context.Background())
	require.Error(t, err)
	require.False(t, result.RolledBack)
	require.Equal(t, StateFailed, m.State())
	require.Equal(t, other, cachedOrder(t, f.cache, 8))
	require.Equal(t, 0, f.metrics.rollbacks)
	require.Equal(t, EventTypeFailed, f.publisher.all()[0].EventType)
}

func TestController_FailureWithoutSnapshotDoesNotClaimRollback(t *testing.T) {
	f := newFixture(t, &stubUpdater{always: errAPI})

	result, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 99, Status: domain.ItemStatusShipped})
	require.ErrorIs(t, err, errAPI)
	require.False(t, result.RolledBack)
	require.Equal(t, 0, f.cache.Len())

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, "Update failed", notes[0].Title)
	require.NotContains(t, notes[0].Description, "rolled back")
}

func TestController_PatchedValueSurvivesRollback(t *testing.T) {
	f := newFixture(t, &stubUpdater{always: errors.New("422 Unprocessable")})
	f.cache.Set(querycache.OrderKey(123), order123())

	m, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)
	result, err := m.Wait(context.Background())
	require.Error(t, err)
	require.True(t, result.RolledBack)

	value, ok := m.PatchedValue()
	require.True(t, ok)
	require.Equal(t, domain.ItemStatusShipped, value.(domain.Order).Items[0].Status)
	require.Equal(t, domain.ItemStatusPreparing, cachedOrder(t, f.cache, 123).Items[0].Status)
}

func TestController_PlainTimeoutIsRetried(t *testing.T) {
	updater := &stubUpdater{always: errors.New("request timeout")}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	result, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.Error(t, err)
	require.Equal(t, 3, updater.callCount())
	require.Equal(t, 3, result.Attempts)
	require.True(t, result.RolledBack)
	require.Equal(t, order123(), cachedOrder(t, f.cache, 123))
}

// Сценарий 4 и P4: сетевая ошибка повторяется ровно до 3 вызовов, затем откат.
func TestController_NetworkErrorRetriedThreeTimes(t *testing.T) {
	updater := &stubUpdater{always: errors.New("Network timeout")}
	f := newFixture(t, updater)
	before := order123()
	f.cache.Set(querycache.OrderKey(123), before)

	result, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.Error(t, err)
	require.Equal(t, 3, updater.callCount())
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, domain.ErrorKindNetwork, result.ErrorKind)
	require.True(t, result.RolledBack)
	require.Equal(t, before, cachedOrder(t, f.cache, 123))

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, domain.ActionRetry, notes[0].Action)
	require.Equal(t, 3, f.metrics.attempts[string(domain.ErrorKindNetwork)])
}

// P5: ошибка валидации не повторяется.
func TestController_ValidationErrorNotRetried(t *testing.T) {
	updater := &stubUpdater{always: &domain.APIError{Kind: domain.ErrorKindValidation, StatusCode: 422, Message: "invalid status", Op: "update item status"}}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	result, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 1, Status: "teleported"})
	require.Error(t, err)
	require.Equal(t, 1, updater.callCount())
	require.Equal(t, domain.ErrorKindValidation, result.ErrorKind)
	require.Equal(t, domain.ActionCorrectInput, f.notifier.all()[0].Action)
}

func TestController_AuthErrorSuggestsRelogin(t *testing.T) {
	updater := &stubUpdater{always: errors.New("401 未授權")}
	f := newFixture(t, updater)

	result, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.Error(t, err)
	require.Equal(t, domain.ErrorKindAuth, result.ErrorKind)
	require.Equal(t, 1, updater.callCount())
	require.Equal(t, domain.ActionRelogin, f.notifier.all()[0].Action)
}

// Повтор после сетевой ошибки, затем успех: пользователь видит только успех.
func TestController_SuccessAfterRetryIsInvisible(t *testing.T) {
	updater := &stubUpdater{errs: []error{errors.New("Network unreachable")}}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	result, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)
	require.Equal(t, 2, result.Attempts)

	notes := f.notifier.all()
	require.Len(t, notes, 1)
	require.Equal(t, domain.SeveritySuccess, notes[0].Severity)
	require.Equal(t, domain.ItemStatusShipped, cachedOrder(t, f.cache, 123).Items[0].Status)
}

// Сценарий 5 и P3: тот же статус всё равно патчится и отправляется, заметки уходят в запрос.
func TestController_SameStatusIsValidNoop(t *testing.T) {
	updater := &stubUpdater{}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(5), domain.Order{ID: 5, Items: []domain.LineItem{{ID: 7, Status: domain.ItemStatusProcessing}}})

	m, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 7, Status: domain.ItemStatusProcessing, Notes: "confirmed"})
	require.NoError(t, err)
	snap, ok := m.Snapshot()
	require.True(t, ok, "patch must be applied even when the status does not change")
	require.Equal(t, domain.ItemStatusProcessing, snap.Previous)

	_, err = m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusProcessing, cachedOrder(t, f.cache, 5).Items[0].Status)
	require.Equal(t, updateCall{ItemID: 7, Status: domain.ItemStatusProcessing, Notes: "confirmed"}, updater.lastCall())
}

// Оптимистичная цепочка: вторая мутация видит патч первой.
func TestController_SequentialMutationsChain(t *testing.T) {
	updater := &stubUpdater{block: make(chan struct{})}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	first, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusProcessing})
	require.NoError(t, err)
	second, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)

	snap, ok := second.Snapshot()
	require.True(t, ok)
	require.Equal(t, domain.ItemStatusProcessing, snap.Previous)

	close(updater.block)
	_, err = first.Wait(context.Background())
	require.NoError(t, err)
	_, err = second.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusShipped, cachedOrder(t, f.cache, 123).Items[0].Status)
}

// Откат первой мутации не затирает патч второй, выполненный позже.
func TestController_RollbackSkippedWhenSuperseded(t *testing.T) {
	updater := &stubUpdater{errs: []error{errAPI}, block: make(chan struct{})}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	first, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusProcessing})
	require.NoError(t, err)
	// Ждём, пока первая мутация заберёт первую (ошибочную) реакцию сервера.
	require.Eventually(t, func() bool { return updater.callCount() == 1 }, time.Second, time.Millisecond)

	second, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)

	close(updater.block)
	result, err := first.Wait(context.Background())
	require.Error(t, err)
	require.False(t, result.RolledBack)
	require.Equal(t, StateFailed, first.State())

	_, err = second.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusShipped, cachedOrder(t, f.cache, 123).Items[0].Status)
}

// Две одновременные мутации одной позиции: итог — один из двух статусов,
// какой именно, не гарантируется.
func TestController_ConcurrentMutationsSettleToOneOfTheStatuses(t *testing.T) {
	updater := &stubUpdater{}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	statuses := []domain.ItemStatus{domain.ItemStatusProcessing, domain.ItemStatusShipped}
	mutations := make([]*Mutation, 0, len(statuses))
	for _, status := range statuses {
		m, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1, Status: status})
		require.NoError(t, err)
		mutations = append(mutations, m)
	}
	for _, m := range mutations {
		_, err := m.Wait(context.Background())
		require.NoError(t, err)
	}

	final := cachedOrder(t, f.cache, 123).Items[0].Status
	require.Contains(t, statuses, final)
	require.Equal(t, domain.ItemStatusProcessing, cachedOrder(t, f.cache, 123).Items[1].Status)
}

// Патч отменяет устаревшее чтение, начатое до мутации.
func TestController_StaleRefetchDoesNotOverwritePatch(t *testing.T) {
	updater := &stubUpdater{}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	fetchStarted := make(chan struct{})
	releaseFetch := make(chan struct{})
	fetchDone := make(chan error, 1)
	go func() {
		_, err := f.cache.Fetch(context.Background(), querycache.OrderKey(123), func(context.Context) (any, error) {
			close(fetchStarted)
			<-releaseFetch
			return order123(), nil
		})
		fetchDone <- err
	}()
	<-fetchStarted

	_, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)

	close(releaseFetch)
	require.ErrorIs(t, <-fetchDone, domain.ErrFetchCancelled)
	require.Equal(t, domain.ItemStatusShipped, cachedOrder(t, f.cache, 123).Items[0].Status)
}

func TestController_PatchesPagedListEntry(t *testing.T) {
	updater := &stubUpdater{always: errAPI}
	f := newFixture(t, updater)
	page := domain.OrderPage{Orders: []domain.Order{{ID: 4, Items: []domain.LineItem{{ID: 40, Status: domain.ItemStatusPending}}}, order123()}, Page: 1, Limit: 20, Total: 2}
	f.cache.Set(querycache.OrderListKey(1, 20), page)

	m, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 2, Status: domain.ItemStatusShipped})
	require.NoError(t, err)
	snap, ok := m.Snapshot()
	require.True(t, ok)
	require.Equal(t, int64(123), snap.OrderID)

	_, err = m.Wait(context.Background())
	require.Error(t, err)
	value, _ := f.cache.Get(querycache.OrderListKey(1, 20))
	require.Equal(t, page, value)
}

func TestController_InvalidInput(t *testing.T) {
	f := newFixture(t, &stubUpdater{})

	_, err := f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 0, Status: domain.ItemStatusShipped})
	require.ErrorIs(t, err, domain.ErrItemIDInvalid)
	_, err = f.ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: 1})
	require.ErrorIs(t, err, domain.ErrStatusRequired)
	require.Equal(t, 0, f.updater.callCount())
}

func TestController_CallerCancellationDoesNotAbortNetworkCall(t *testing.T) {
	updater := &stubUpdater{block: make(chan struct{}), started: make(chan struct{}, 1)}
	f := newFixture(t, updater)
	f.cache.Set(querycache.OrderKey(123), order123())

	ctx, cancel := context.WithCancel(context.Background())
	m, err := f.ctrl.Start(ctx, domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)
	<-updater.started
	cancel()

	_, err = m.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(updater.block)
	result, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ItemStatusShipped, result.Item.Status)
}

func TestController_LookupAndTrackingLimit(t *testing.T) {
	f := newFixture(t, &stubUpdater{})
	ctrl := NewController(f.cache, f.updater, WithTrackedMutations(2), WithRetryConfig(fastRetry()), WithLogger(quietLogger()))

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := ctrl.Start(context.Background(), domain.StatusChange{OrderItemID: int64(i + 1), Status: domain.ItemStatusShipped})
		require.NoError(t, err)
		ids = append(ids, m.ID())
	}
	require.NoError(t, ctrl.Wait(context.Background()))

	_, ok := ctrl.Lookup(ids[0])
	require.False(t, ok, "oldest mutation should be evicted")
	m, ok := ctrl.Lookup(ids[2])
	require.True(t, ok)
	require.Equal(t, StateSucceeded, m.State())
}

func TestController_PublishErrorDoesNotFailMutation(t *testing.T) {
	f := newFixture(t, &stubUpdater{})
	f.publisher.err = errors.New("kafka down")

	_, err := f.ctrl.Run(context.Background(), domain.StatusChange{OrderItemID: 1, Status: domain.ItemStatusShipped})
	require.NoError(t, err)
}
