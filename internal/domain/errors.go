package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка повторяющегося ID позиции внутри заказа.
	ErrItemIDDuplicate = errors.New("item id must be unique within order")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound возвращается, если позиция не найдена.
	ErrItemNotFound = errors.New("order item not found")
	// ErrOrderExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrStatusRequired — пустой статус в запросе на изменение.
	ErrStatusRequired = errors.New("status is required")
	// ErrStatusUnknown — статус не входит в набор, известный серверу.
	ErrStatusUnknown = errors.New("status is not recognised")
	// ErrItemIDInvalid — идентификатор позиции должен быть положительным.
	ErrItemIDInvalid = errors.New("order item id must be positive")
)

// ErrorKind — категория ошибки обращения к API.
type ErrorKind string

const (
	// ErrorKindNetwork — сеть, таймауты, 5xx. Единственная категория, которую повторяем.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindAuth — сессия истекла или нет прав.
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindValidation — сервер отклонил значение.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindUnknown — всё остальное.
	ErrorKindUnknown ErrorKind = "unknown"
)

// APIError — классифицированная ошибка, формируемая на границе сетевого вызова.
type APIError struct {
	Kind ErrorKind
	// StatusCode равен 0 для транспортных ошибок.
	StatusCode int
	// Message — человекочитаемый текст из payload сервера или запасной текст.
	Message string
	Op      string
	Err     error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf возвращает категорию ошибки, если она классифицирована на границе API.
func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return ErrorKindUnknown, false
}

// IsNotFound проверяет, относится ли ошибка к отсутствующему заказу или позиции,
// включая ответ API с кодом 404.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrItemNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
