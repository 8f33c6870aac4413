package querycache

import (
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// OrdersPrefix покрывает все записи заказов: и детальные, и страницы списков.
var OrdersPrefix = domain.CacheKey{"orders"}

// OrderKey — ключ детальной записи заказа.
func OrderKey(id int64) domain.CacheKey {
	return domain.CacheKey{"orders", strconv.FormatInt(id, 10)}
}

// OrderListKey — ключ страницы списка заказов.
func OrderListKey(page, limit int) domain.CacheKey {
	return domain.CacheKey{"orders", "list", "page=" + strconv.Itoa(page), "limit=" + strconv.Itoa(limit)}
}

// ParseOrderKey возвращает ID заказа из ключа детальной записи.
func ParseOrderKey(key domain.CacheKey) (int64, bool) {
	if len(key) != 2 || key[0] != OrdersPrefix[0] {
		return 0, false
	}
	id, err := strconv.ParseInt(key[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseOrderListKey возвращает параметры страницы из ключа списка.
func ParseOrderListKey(key domain.CacheKey) (page, limit int, ok bool) {
	if len(key) != 4 || key[0] != OrdersPrefix[0] || key[1] != "list" {
		return 0, 0, false
	}
	rawPage, okPage := strings.CutPrefix(key[2], "page=")
	rawLimit, okLimit := strings.CutPrefix(key[3], "limit=")
	if !okPage || !okLimit {
		return 0, 0, false
	}
	page, errPage := strconv.Atoi(rawPage)
	limit, errLimit := strconv.Atoi(rawLimit)
	if errPage != nil || errLimit != nil {
		return 0, 0, false
	}
	return page, limit, true
}
