// Package querycache реализует клиентский кэш результатов запросов консоли.
//
// Кэш разделяется всеми компонентами процесса. Запись и чтение синхронны;
// Do позволяет выполнить чтение-изменение-запись атомарно. Каждому ключу
// соответствует поколение: CancelPendingReads увеличивает его, и результат
// чтения, начатого в старом поколении, отбрасывается.
package querycache

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// FetchObserver получает исход каждого Fetch (для метрик).
type FetchObserver interface {
	ObserveFetch(result string)
}

const (
	FetchResultStored    = "stored"
	FetchResultCancelled = "cancelled"
	FetchResultError     = "error"
)

type inflight struct {
	key    domain.CacheKey
	cancel context.CancelFunc
}

// Store — in-memory реализация domain.QueryCache.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]domain.CacheEntry
	generations map[string]uint64
	inflight    map[uint64]inflight
	nextFetchID uint64
	observer    FetchObserver
	logger      *log.Entry
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт logger кэша.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithFetchObserver задаёт наблюдателя за исходами Fetch.
func WithFetchObserver(observer FetchObserver) Option {
	return func(s *Store) {
		s.observer = observer
	}
}

// New создаёт пустой кэш.
func New(options ...Option) *Store {
	s := &Store{
		entries:     make(map[string]domain.CacheEntry),
		generations: make(map[string]uint64),
		inflight:    make(map[uint64]inflight),
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "query-cache")
	}
	return s
}

// Get возвращает значение по ключу.
func (s *Store) Get(key domain.CacheKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(key)
}

// Set записывает значение по ключу.
func (s *Store) Set(key domain.CacheKey, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value)
}

// GetAll возвращает записи с префиксом, отсортированные по строке ключа.
func (s *Store) GetAll(prefix domain.CacheKey) []domain.CacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAll(prefix)
}

// Len возвращает количество записей.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Do выполняет fn под write-lock кэша. Внутри fn нельзя вызывать методы Store,
// только методы переданного tx.
func (s *Store) Do(fn func(tx domain.CacheTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(storeTx{s: s})
}

// Invalidate удаляет записи с префиксом и отменяет чтения по ним.
func (s *Store) Invalidate(prefix domain.CacheKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(prefix)
	removed := 0
	for id, entry := range s.entries {
		if entry.Key.HasPrefix(prefix) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// CancelPendingReads отменяет все незавершённые Fetch по ключам с префиксом.
// Их результаты не попадут в кэш, даже если запрос уже вернул ответ.
func (s *Store) CancelPendingReads(prefix domain.CacheKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(prefix)
}

// Fetch выполняет fetcher и записывает результат, если за время запроса чтения
// по ключу не были отменены. Отменённый Fetch возвращает domain.ErrFetchCancelled.
func (s *Store) Fetch(ctx context.Context, key domain.CacheKey, fetcher domain.Fetcher) (any, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	id := key.String()
	generation := s.generations[id]
	s.nextFetchID++
	fetchID := s.nextFetchID
	s.inflight[fetchID] = inflight{key: key, cancel: cancel}
	s.mu.Unlock()

	value, err := fetcher(fetchCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, fetchID)

	if s.generations[id] != generation {
		s.observe(FetchResultCancelled)
		s.logger.WithField("key", id).Debug("discarding result of cancelled fetch")
		return nil, domain.ErrFetchCancelled
	}
	if err != nil {
		s.observe(FetchResultError)
		return nil, err
	}

	s.set(key, value)
	s.observe(FetchResultStored)
	return value, nil
}

func (s *Store) cancelLocked(prefix domain.CacheKey) {
	for id, entry := range s.entries {
		if entry.Key.HasPrefix(prefix) {
			s.generations[id]++
		}
	}
	for fetchID, f := range s.inflight {
		if !f.key.HasPrefix(prefix) {
			continue
		}
		id := f.key.String()
		if _, cached := s.entries[id]; !cached {
			s.generations[id]++
		}
		f.cancel()
		delete(s.inflight, fetchID)
	}
}

func (s *Store) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveFetch(result)
	}
}

func (s *Store) get(key domain.CacheKey) (any, bool) {
	entry, ok := s.entries[key.String()]
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

func (s *Store) set(key domain.CacheKey, value any) {
	stored := make(domain.CacheKey, len(key))
	copy(stored, key)
	s.entries[stored.String()] = domain.CacheEntry{Key: stored, Value: value}
}

func (s *Store) getAll(prefix domain.CacheKey) []domain.CacheEntry {
	result := make([]domain.CacheEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Key.HasPrefix(prefix) {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.String() < result[j].Key.String()
	})
	return result
}

// storeTx работает с уже захваченным lock.
type storeTx struct {
	s *Store
}

func (t storeTx) Get(key domain.CacheKey) (any, bool) {
	return t.s.get(key)
}

func (t storeTx) Set(key domain.CacheKey, value any) {
	t.s.set(key, value)
}

func (t storeTx) GetAll(prefix domain.CacheKey) []domain.CacheEntry {
	return t.s.getAll(prefix)
}

var _ domain.QueryCache = (*Store)(nil)
