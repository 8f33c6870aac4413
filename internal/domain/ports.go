package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrFetchCancelled возвращается Fetch, если чтение было отменено CancelPendingReads
// и его результат не записан в кэш.
var ErrFetchCancelled = errors.New("cache fetch cancelled")

// CacheKey — ключ записи в кэше запросов, упорядоченный набор частей.
type CacheKey []string

// String возвращает каноническое строковое представление ключа.
func (k CacheKey) String() string {
	return strings.Join(k, "/")
}

// HasPrefix сравнивает ключ с префиксом по частям.
func (k CacheKey) HasPrefix(prefix CacheKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// CacheEntry — пара ключ/значение из кэша.
type CacheEntry struct {
	Key   CacheKey
	Value any
}

// CacheTx даёт доступ к кэшу внутри одной атомарной секции Do.
type CacheTx interface {
	Get(key CacheKey) (any, bool)
	Set(key CacheKey, value any)
	// GetAll возвращает записи с данным префиксом в детерминированном порядке ключей.
	GetAll(prefix CacheKey) []CacheEntry
}

// Fetcher выполняет запрос чтения для записи кэша.
type Fetcher func(ctx context.Context) (any, error)

// QueryCache описывает клиентский кэш результатов запросов.
type QueryCache interface {
	CacheTx
	// CancelPendingReads отменяет чтения по ключам с префиксом; их результаты будут отброшены.
	CancelPendingReads(prefix CacheKey)
	// Do выполняет fn атомарно относительно остальных читателей и писателей кэша.
	Do(fn func(tx CacheTx) error) error
	// Fetch выполняет fetcher и записывает результат, если чтение не было отменено.
	Fetch(ctx context.Context, key CacheKey, fetcher Fetcher) (any, error)
	// Invalidate удаляет записи с префиксом.
	Invalidate(prefix CacheKey) int
	Len() int
}

// ItemStatusUpdater отправляет изменение статуса позиции на сервер.
type ItemStatusUpdater interface {
	UpdateItemStatus(ctx context.Context, itemID int64, status ItemStatus, notes string) (LineItem, error)
}

// OrderReader читает заказы из API.
type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, page, limit int) (OrderPage, error)
}

// Severity — уровень пользовательского уведомления.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// SuggestedAction — что пользователю стоит сделать после ошибки.
type SuggestedAction string

const (
	ActionNone         SuggestedAction = ""
	ActionRetry        SuggestedAction = "retry"
	ActionRelogin      SuggestedAction = "relogin"
	ActionCorrectInput SuggestedAction = "correct_input"
)

// Notification — пользовательское уведомление.
type Notification struct {
	Severity    Severity        `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Action      SuggestedAction `json:"action,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Notifier принимает уведомления по принципу fire-and-forget.
type Notifier interface {
	Notify(n Notification)
}

// ItemStatusEvent описывает исход мутации статуса позиции для внешних подписчиков.
type ItemStatusEvent struct {
	EventType      string     `json:"event_type"`
	MutationID     string     `json:"mutation_id"`
	OrderID        int64      `json:"order_id,omitempty"`
	OrderItemID    int64      `json:"order_item_id"`
	Status         ItemStatus `json:"status"`
	PreviousStatus ItemStatus `json:"previous_status,omitempty"`
	ErrorKind      ErrorKind  `json:"error_kind,omitempty"`
	Attempts       int        `json:"attempts"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// EventPublisher публикует события наружу; ошибки публикации не влияют на мутацию.
type EventPublisher interface {
	PublishItemStatus(ctx context.Context, event ItemStatusEvent) error
}
