package domain

import "context"

// OrderRepository описывает хранилище заказов backend-заглушки.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если ID уже занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// List возвращает страницу заказов (page начинается с 1), упорядоченную по ID.
	List(ctx context.Context, page, limit int) (OrderPage, error)
	// UpdateItemStatus меняет статус позиции и возвращает её новое состояние
	// вместе с ID заказа-владельца. Если позиции нет, возвращает ErrItemNotFound.
	UpdateItemStatus(ctx context.Context, itemID int64, status ItemStatus, notes string) (LineItem, int64, error)
}
