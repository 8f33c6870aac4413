package itemstatus

import "github.com/vladislavdragonenkov/oms-console/internal/domain"

// Location указывает запись кэша, содержащую искомую позицию.
type Location struct {
	Key     domain.CacheKey
	OrderID int64
}

// Locate возвращает первую запись, заказ в которой содержит позицию itemID.
// Записи просматриваются в переданном порядке; записи неподходящей формы пропускаются.
func Locate(entries []domain.CacheEntry, itemID int64) (Location, bool) {
	for _, entry := range entries {
		if orderID, ok := findInValue(entry.Value, itemID); ok {
			return Location{Key: entry.Key, OrderID: orderID}, true
		}
	}
	return Location{}, false
}

func findInValue(value any, itemID int64) (int64, bool) {
	switch v := value.(type) {
	case domain.Order:
		return findInOrder(v, itemID)
	case *domain.Order:
		if v == nil {
			return 0, false
		}
		return findInOrder(*v, itemID)
	case domain.OrderPage:
		return findInPage(v, itemID)
	case *domain.OrderPage:
		if v == nil {
			return 0, false
		}
		return findInPage(*v, itemID)
	default:
		return 0, false
	}
}

func findInOrder(order domain.Order, itemID int64) (int64, bool) {
	if order.Items == nil || order.FindItem(itemID) < 0 {
		return 0, false
	}
	return order.ID, true
}

func findInPage(page domain.OrderPage, itemID int64) (int64, bool) {
	for _, order := range page.Orders {
		if orderID, ok := findInOrder(order, itemID); ok {
			return orderID, true
		}
	}
	return 0, false
}
