package domain

import "time"

// ItemStatus описывает статус исполнения позиции заказа.
// Набор значений определяет сервер, клиент не отклоняет неизвестные статусы.
type ItemStatus string

const (
	// ItemStatusPending — позиция создана, обработка не начата.
	ItemStatusPending ItemStatus = "pending"
	// ItemStatusPreparing — позиция собирается на складе.
	ItemStatusPreparing ItemStatus = "preparing"
	// ItemStatusProcessing — позиция в обработке.
	ItemStatusProcessing ItemStatus = "processing"
	// ItemStatusBackordered — товара нет, позиция ждёт закупки.
	ItemStatusBackordered ItemStatus = "backordered"
	// ItemStatusShipped — позиция отгружена.
	ItemStatusShipped ItemStatus = "shipped"
	// ItemStatusDelivered — позиция доставлена клиенту.
	ItemStatusDelivered ItemStatus = "delivered"
	// ItemStatusCanceled — позиция отменена.
	ItemStatusCanceled ItemStatus = "canceled"
	// ItemStatusRefunded — по позиции оформлен возврат.
	ItemStatusRefunded ItemStatus = "refunded"
)

// KnownItemStatuses возвращает статусы, которые понимает backend-заглушка.
func KnownItemStatuses() []ItemStatus {
	return []ItemStatus{
		ItemStatusPending,
		ItemStatusPreparing,
		ItemStatusProcessing,
		ItemStatusBackordered,
		ItemStatusShipped,
		ItemStatusDelivered,
		ItemStatusCanceled,
		ItemStatusRefunded,
	}
}

// IsKnown сообщает, входит ли статус в известный набор.
func (s ItemStatus) IsKnown() bool {
	for _, known := range KnownItemStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// LineItem представляет одну позицию заказа.
type LineItem struct {
	// ID уникален в пределах заказа.
	ID int64 `json:"id"`
	// Status — единственное поле, которое меняет консоль.
	Status ItemStatus `json:"status"`
	Name   string     `json:"name"`
	SKU    string     `json:"sku"`
	Qty    int32      `json:"quantity"`
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах.
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Notes          string `json:"notes,omitempty"`
}

// Order агрегирует позиции заказа.
type Order struct {
	ID         int64      `json:"id"`
	CustomerID string     `json:"customer_id"`
	StoreID    string     `json:"store_id,omitempty"`
	Currency   string     `json:"currency"`
	Items      []LineItem `json:"items"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FindItem возвращает индекс позиции с заданным ID или -1.
func (o Order) FindItem(itemID int64) int {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// Clone возвращает копию заказа, не разделяющую срез позиций с оригиналом.
func (o Order) Clone() Order {
	if o.Items == nil {
		return o
	}
	items := make([]LineItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

// WithItemStatus возвращает копию заказа, в которой у позиции itemID заменён статус.
// Если позиций нет или позиция не найдена, заказ возвращается без изменений.
func (o Order) WithItemStatus(itemID int64, status ItemStatus) Order {
	if o.Items == nil {
		return o
	}
	idx := o.FindItem(itemID)
	if idx < 0 {
		return o
	}
	patched := o.Clone()
	patched.Items[idx].Status = status
	return patched
}

// TotalMinor считает сумму заказа по позициям: qty * price.
func (o Order) TotalMinor() int64 {
	var total int64
	for _, item := range o.Items {
		total += int64(item.Qty) * item.UnitPriceMinor
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	seen := make(map[int64]struct{}, len(o.Items))
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if _, dup := seen[item.ID]; dup {
			errs = append(errs, ErrItemIDDuplicate)
		}
		seen[item.ID] = struct{}{}
	}

	return errs
}

// OrderPage — результат постраничного запроса списка заказов.
type OrderPage struct {
	Orders []Order `json:"orders"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int     `json:"total"`
}

// Clone возвращает копию страницы с независимыми срезами заказов и позиций.
func (p OrderPage) Clone() OrderPage {
	if p.Orders == nil {
		return p
	}
	orders := make([]Order, len(p.Orders))
	for i := range p.Orders {
		orders[i] = p.Orders[i].Clone()
	}
	p.Orders = orders
	return p
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// NormalizePage приводит параметры пагинации к допустимым значениям.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
