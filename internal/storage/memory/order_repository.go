package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders map[int64]domain.Order
	// itemOrder — ID заказа-владельца по ID позиции.
	itemOrder map[int64]int64
	now       func() time.Time
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		orders:    make(map[int64]domain.Order),
		itemOrder: make(map[int64]int64),
		now:       time.Now,
	}
}

// Create сохраняет новый заказ, если ID заказа и ID его позиций ещё не заняты.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrOrderExists
	}
	for _, item := range order.Items {
		if _, taken := r.itemOrder[item.ID]; taken {
			return domain.ErrItemIDDuplicate
		}
	}

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.orders[order.ID] = order.Clone()
	for _, item := range order.Items {
		r.itemOrder[item.ID] = order.ID
	}
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List возвращает страницу заказов, упорядоченных по ID.
func (r *orderRepositoryInMemory) List(_ context.Context, page, limit int) (domain.OrderPage, error) {
	page, limit = domain.NormalizePage(page, limit)

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.orders))
	for id := range r.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := domain.OrderPage{Orders: []domain.Order{}, Page: page, Limit: limit, Total: len(ids)}
	offset := (page - 1) * limit
	if offset >= len(ids) {
		return result, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	for _, id := range ids[offset:end] {
		result.Orders = append(result.Orders, r.orders[id].Clone())
	}
	return result, nil
}

// UpdateItemStatus меняет статус позиции. Пустые notes не затирают прежние заметки.
func (r *orderRepositoryInMemory) UpdateItemStatus(_ context.Context, itemID int64, status domain.ItemStatus, notes string) (domain.LineItem, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderID, ok := r.itemOrder[itemID]
	if !ok {
		return domain.LineItem{}, 0, domain.ErrItemNotFound
	}
	order := r.orders[orderID].Clone()
	idx := order.FindItem(itemID)
	if idx < 0 {
		return domain.LineItem{}, 0, domain.ErrItemNotFound
	}

	order.Items[idx].Status = status
	if notes != "" {
		order.Items[idx].Notes = notes
	}
	order.UpdatedAt = r.now().UTC()
	r.orders[orderID] = order

	return order.Items[idx], orderID, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
