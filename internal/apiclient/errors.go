package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

const (
	fallbackMessage        = "request failed"
	fallbackNetworkMessage = "network request failed"
)

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// KindForStatus переводит HTTP-статус в категорию ошибки.
func KindForStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ErrorKindAuth
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return domain.ErrorKindValidation
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return domain.ErrorKindNetwork
	default:
		return domain.ErrorKindUnknown
	}
}

func statusError(op string, code int, body []byte) *domain.APIError {
	message := messageFromBody(body)
	if message == "" {
		message = http.StatusText(code)
	}
	if message == "" {
		message = fallbackMessage
	}
	return &domain.APIError{
		Kind:       KindForStatus(code),
		StatusCode: code,
		Message:    message,
		Op:         op,
	}
}

func messageFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(payload.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(payload.Error)
}

func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &domain.APIError{Kind: domain.ErrorKindNetwork, Message: "request timed out", Op: op, Err: err}
	}
	// Отмена вызывающей стороной — не сетевая проблема.
	if errors.Is(err, context.Canceled) {
		return &domain.APIError{Kind: domain.ErrorKindUnknown, Message: "request canceled", Op: op, Err: err}
	}
	return &domain.APIError{Kind: domain.ErrorKindNetwork, Message: fallbackNetworkMessage, Op: op, Err: err}
}
