package itemstatus

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// State — стадия жизненного цикла одной мутации.
type State string

const (
	StateIdle       State = "idle"
	StatePatched    State = "patched"
	StateInFlight   State = "in_flight"
	StateRetrying   State = "retrying"
	StateSucceeded  State = "succeeded"
	StateRolledBack State = "rolled_back"
	// StateFailed — терминальная ошибка без снимка или с пропущенным откатом.
	StateFailed State = "failed"
)

// Terminal сообщает, завершена ли мутация.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateRolledBack || s == StateFailed
}

// Result — итог мутации.
type Result struct {
	MutationID string
	Item       domain.LineItem
	Attempts   int
	Snapshot   *Snapshot
	RolledBack bool
	ErrorKind  domain.ErrorKind
}

// Mutation — одна выполняемая мутация статуса.
type Mutation struct {
	id        string
	change    domain.StatusChange
	startedAt time.Time

	mu       sync.RWMutex
	state    State
	snapshot *Snapshot
	patched  any
	result   Result
	err      error
	done     chan struct{}
}

func newMutation(id string, change domain.StatusChange, startedAt time.Time) *Mutation {
	return &Mutation{
		id:        id,
		change:    change,
		startedAt: startedAt,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// ID возвращает идентификатор мутации.
func (m *Mutation) ID() string { return m.id }

// Change возвращает исходный запрос.
func (m *Mutation) Change() domain.StatusChange { return m.change }

// StartedAt возвращает момент начала мутации.
func (m *Mutation) StartedAt() time.Time { return m.startedAt }

// State возвращает текущую стадию.
func (m *Mutation) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot возвращает снимок, если позиция была найдена в кэше.
func (m *Mutation) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return Snapshot{}, false
	}
	return *m.snapshot, true
}

// PatchedValue возвращает значение записи кэша сразу после оптимистичного
// патча. Оно не меняется при последующем откате.
func (m *Mutation) PatchedValue() (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patched, m.snapshot != nil
}

// Done закрывается, когда мутация завершена.
func (m *Mutation) Done() <-chan struct{} {
	return m.done
}

// Wait ждёт завершения мутации или отмены ctx. Отмена ctx не прерывает сам сетевой вызов.
func (m *Mutation) Wait(ctx context.Context) (Result, error) {
	select {
	case <-m.done:
	case <-ctx.Done():
		return Result{MutationID: m.id}, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result, m.err
}

func (m *Mutation) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return
	}
	m.state = state
}

func (m *Mutation) setSnapshot(snap Snapshot, patched any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snap
	m.patched = patched
}

func (m *Mutation) finish(state State, result Result, err error) {
	m.mu.Lock()
	m.state = state
	result.MutationID = m.id
	result.Snapshot = m.snapshot
	m.result = result
	m.err = err
	m.mu.Unlock()
	close(m.done)
}
