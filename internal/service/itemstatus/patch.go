package itemstatus

import (
	"time"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// Snapshot хранит ровно столько, сколько нужно для отката одной мутации.
type Snapshot struct {
	Key      domain.CacheKey   `json:"cache_key"`
	OrderID  int64             `json:"order_id"`
	ItemID   int64             `json:"order_item_id"`
	Previous domain.ItemStatus `json:"previous_status"`
	// Applied — статус, записанный оптимистичным патчем.
	Applied domain.ItemStatus `json:"applied_status"`
	TakenAt time.Time         `json:"taken_at"`
}

// TakeSnapshotAndPatch запоминает текущий статус позиции и записывает в кэш копию
// записи с новым статусом. Вызывается внутри QueryCache.Do.
// Если в записи по ключу позиции уже нет, возвращает false и ничего не пишет.
func TakeSnapshotAndPatch(tx domain.CacheTx, loc Location, itemID int64, status domain.ItemStatus, now time.Time) (Snapshot, bool) {
	current, ok := tx.Get(loc.Key)
	if !ok {
		return Snapshot{}, false
	}
	patched, previous, found := patchValue(current, itemID, status)
	if !found {
		return Snapshot{}, false
	}
	tx.Set(loc.Key, patched)

	key := make(domain.CacheKey, len(loc.Key))
	copy(key, loc.Key)
	return Snapshot{
		Key:      key,
		OrderID:  loc.OrderID,
		ItemID:   itemID,
		Previous: previous,
		Applied:  status,
		TakenAt:  now,
	}, true
}

// RestoreOutcome описывает результат отката.
type RestoreOutcome string

const (
	// RestoreApplied — предыдущий статус записан обратно.
	RestoreApplied RestoreOutcome = "applied"
	// RestoreEntryGone — записи или позиции в кэше уже нет.
	RestoreEntryGone RestoreOutcome = "entry_gone"
	// RestoreSuperseded — статус позиции после патча изменил кто-то другой.
	RestoreSuperseded RestoreOutcome = "superseded"
)

// Restore возвращает позиции статус из снимка. Вызывается внутри QueryCache.Do.
// Откат не выполняется, если статус позиции уже не равен записанному патчем.
func Restore(tx domain.CacheTx, snap Snapshot) RestoreOutcome {
	current, ok := tx.Get(snap.Key)
	if !ok {
		return RestoreEntryGone
	}
	status, found := statusInValue(current, snap.ItemID)
	if !found {
		return RestoreEntryGone
	}
	if status != snap.Applied {
		return RestoreSuperseded
	}
	restored, _, _ := patchValue(current, snap.ItemID, snap.Previous)
	tx.Set(snap.Key, restored)
	return RestoreApplied
}

// patchValue возвращает копию значения с новым статусом позиции и её прежний статус.
// Значения неизвестной формы и заказы без позиций возвращаются без изменений.
func patchValue(value any, itemID int64, status domain.ItemStatus) (any, domain.ItemStatus, bool) {
	switch v := value.(type) {
	case domain.Order:
		return patchOrder(v, itemID, status)
	case *domain.Order:
		if v == nil {
			return value, "", false
		}
		patched, previous, found := patchOrder(*v, itemID, status)
		if !found {
			return value, "", false
		}
		return &patched, previous, true
	case domain.OrderPage:
		return patchPage(v, itemID, status)
	case *domain.OrderPage:
		if v == nil {
			return value, "", false
		}
		patched, previous, found := patchPage(*v, itemID, status)
		if !found {
			return value, "", false
		}
		return &patched, previous, true
	default:
		return value, "", false
	}
}

func patchOrder(order domain.Order, itemID int64, status domain.ItemStatus) (domain.Order, domain.ItemStatus, bool) {
	if order.Items == nil {
		return order, "", false
	}
	idx := order.FindItem(itemID)
	if idx < 0 {
		return order, "", false
	}
	previous := order.Items[idx].Status
	return order.WithItemStatus(itemID, status), previous, true
}

func patchPage(page domain.OrderPage, itemID int64, status domain.ItemStatus) (domain.OrderPage, domain.ItemStatus, bool) {
	for i := range page.Orders {
		if page.Orders[i].Items == nil || page.Orders[i].FindItem(itemID) < 0 {
			continue
		}
		patched := page.Clone()
		previous := patched.Orders[i].Items[patched.Orders[i].FindItem(itemID)].Status
		patched.Orders[i] = patched.Orders[i].WithItemStatus(itemID, status)
		return patched, previous, true
	}
	return page, "", false
}

func statusInValue(value any, itemID int64) (domain.ItemStatus, bool) {
	switch v := value.(type) {
	case domain.Order:
		return statusInOrder(v, itemID)
	case *domain.Order:
		if v == nil {
			return "", false
		}
		return statusInOrder(*v, itemID)
	case domain.OrderPage:
		return statusInPage(v, itemID)
	case *domain.OrderPage:
		if v == nil {
			return "", false
		}
		return statusInPage(*v, itemID)
	default:
		return "", false
	}
}

func statusInOrder(order domain.Order, itemID int64) (domain.ItemStatus, bool) {
	idx := order.FindItem(itemID)
	if idx < 0 {
		return "", false
	}
	return order.Items[idx].Status, true
}

func statusInPage(page domain.OrderPage, itemID int64) (domain.ItemStatus, bool) {
	for _, order := range page.Orders {
		if status, ok := statusInOrder(order, itemID); ok {
			return status, true
		}
	}
	return "", false
}
