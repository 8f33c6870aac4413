// Package notify содержит получателей пользовательских уведомлений консоли.
package notify

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

const defaultRecorderCapacity = 100

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт LogNotifier. logger может быть nil.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifications")
	}
	return &LogNotifier{logger: logger}
}

// Notify логирует уведомление: ошибки на уровне warn, остальное на info.
func (n *LogNotifier) Notify(notification domain.Notification) {
	entry := n.logger.WithFields(log.Fields{
		"severity":    notification.Severity,
		"title":       notification.Title,
		"description": notification.Description,
	})
	if notification.Action != domain.ActionNone {
		entry = entry.WithField("action", notification.Action)
	}
	if notification.Severity == domain.SeverityError {
		entry.Warn("notification")
		return
	}
	entry.Info("notification")
}

// Recorder хранит последние уведомления в памяти, новые в конце.
type Recorder struct {
	mu       sync.RWMutex
	items    []domain.Notification
	capacity int
}

// NewRecorder создаёт Recorder на capacity уведомлений (<=0 — значение по умолчанию).
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{items: make([]domain.Notification, 0, capacity), capacity: capacity}
}

// Notify добавляет уведомление, вытесняя самое старое при переполнении.
func (r *Recorder) Notify(notification domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == r.capacity {
		copy(r.items, r.items[1:])
		r.items = r.items[:len(r.items)-1]
	}
	r.items = append(r.items, notification)
}

// List возвращает копию сохранённых уведомлений.
func (r *Recorder) List() []domain.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Notification, len(r.items))
	copy(result, r.items)
	return result
}

// Len возвращает число сохранённых уведомлений.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// SeverityCounter считает отправленные уведомления.
type SeverityCounter interface {
	NotificationSent(severity string)
}

// Fanout рассылает уведомление всем получателям по порядку.
type Fanout struct {
	notifiers []domain.Notifier
	counter   SeverityCounter
}

// NewFanout создаёт Fanout; nil-получатели пропускаются.
func NewFanout(counter SeverityCounter, notifiers ...domain.Notifier) *Fanout {
	filtered := make([]domain.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return &Fanout{notifiers: filtered, counter: counter}
}

// Notify передаёт уведомление каждому получателю.
func (f *Fanout) Notify(notification domain.Notification) {
	for _, n := range f.notifiers {
		n.Notify(notification)
	}
	if f.counter != nil {
		f.counter.NotificationSent(string(notification.Severity))
	}
}

var (
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = (*Recorder)(nil)
	_ domain.Notifier = (*Fanout)(nil)
)
