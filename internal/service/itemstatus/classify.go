package itemstatus

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

// Подстроки для ошибок, не прошедших классификацию на границе API.
// Сравнение чувствительно к регистру.
var (
	networkMarkers    = []string{"網絡", "連接", "Network"}
	authMarkers       = []string{"401", "未授權"}
	validationMarkers = []string{"422", "驗證"}

	// Признаки временного сбоя; на категорию уведомления не влияют.
	retryableMarkers = []string{
		"網絡", "連接", "Network", "network",
		"timeout", "Timeout", "timed out",
		"connection", "Connection", "unavailable", "Unavailable",
	}
	serverErrorCode = regexp.MustCompile(`\b5\d\d\b`)
)

// Classify определяет категорию ошибки. Ошибки API классифицированы по коду
// ответа; для остальных используется сопоставление текста сообщения.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}
	if kind, ok := domain.KindOf(err); ok {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrorKindNetwork
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage относит текст ошибки к категории по подстрокам.
func ClassifyMessage(message string) domain.ErrorKind {
	switch {
	case containsAny(message, networkMarkers):
		return domain.ErrorKindNetwork
	case containsAny(message, authMarkers):
		return domain.ErrorKindAuth
	case containsAny(message, validationMarkers):
		return domain.ErrorKindValidation
	default:
		return domain.ErrorKindUnknown
	}
}

// Retryable сообщает, имеет ли смысл повторять вызов при ошибке данной категории.
func Retryable(kind domain.ErrorKind) bool {
	return kind == domain.ErrorKindNetwork
}

// RetryableError решает, повторять ли вызов. Типизированные ошибки API
// решаются по категории, остальные по тексту: сеть, соединение, таймаут или
// код 5xx.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := domain.KindOf(err); ok {
		return Retryable(kind)
	}
	switch Classify(err) {
	case domain.ErrorKindNetwork:
		return true
	case domain.ErrorKindAuth, domain.ErrorKindValidation:
		return false
	}
	message := err.Error()
	return containsAny(message, retryableMarkers) || serverErrorCode.MatchString(message)
}

// Message — пользовательский текст для категории ошибки.
type Message struct {
	Title       string
	Description string
	Action      domain.SuggestedAction
}

// Describe возвращает текст уведомления для категории ошибки.
func Describe(kind domain.ErrorKind) Message {
	switch kind {
	case domain.ErrorKindNetwork:
		return Message{
			Title:       "Connection issue",
			Description: "The status could not be saved. Please check your network connection and retry.",
			Action:      domain.ActionRetry,
		}
	case domain.ErrorKindAuth:
		return Message{
			Title:       "Session expired",
			Description: "Your session has expired. Please log in again.",
			Action:      domain.ActionRelogin,
		}
	case domain.ErrorKindValidation:
		return Message{
			Title:       "Invalid status",
			Description: "The server rejected the status value. Please re-check it and try again.",
			Action:      domain.ActionCorrectInput,
		}
	default:
		return Message{
			Title:       "Update failed",
			Description: "The status update failed and the change has been rolled back.",
			Action:      domain.ActionNone,
		}
	}
}

// DescribeFailure уточняет Describe исходом отката: если кэш не был
// возвращён к прежнему значению, пользователю не сообщается об откате.
func DescribeFailure(kind domain.ErrorKind, rolledBack bool) Message {
	msg := Describe(kind)
	if kind == domain.ErrorKindUnknown && !rolledBack {
		msg.Description = "The status update failed. Please refresh the order and try again."
	}
	return msg
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
