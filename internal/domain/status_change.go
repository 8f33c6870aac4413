package domain

import "strings"

// StatusChange — запрос оператора на изменение статуса позиции.
type StatusChange struct {
	OrderItemID int64      `json:"orderItemId"`
	Status      ItemStatus `json:"status"`
	Notes       string     `json:"notes,omitempty"`
}

// Validate проверяет форму запроса. Значение статуса не сверяется с известным
// набором: его проверяет сервер.
func (c StatusChange) Validate() error {
	if c.OrderItemID <= 0 {
		return ErrItemIDInvalid
	}
	if strings.TrimSpace(string(c.Status)) == "" {
		return ErrStatusRequired
	}
	return nil
}
