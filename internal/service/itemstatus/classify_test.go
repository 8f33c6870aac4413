package itemstatus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
)

func TestClassifyMessage(t *testing.T) {
	cases := map[string]domain.ErrorKind{
		"網絡錯誤":                domain.ErrorKindNetwork,
		"無法連接伺服器":             domain.ErrorKindNetwork,
		"Network timeout":     domain.ErrorKindNetwork,
		"network timeout":     domain.ErrorKindUnknown,
		"HTTP 401":            domain.ErrorKindAuth,
		"未授權":                 domain.ErrorKindAuth,
		"status 422":          domain.ErrorKindValidation,
		"驗證失敗":                domain.ErrorKindValidation,
		"API error":           domain.ErrorKindUnknown,
		"":                    domain.ErrorKindUnknown,
		"Network error (401)": domain.ErrorKindNetwork,
	}
	for message, want := range cases {
		assert.Equal(t, want, ClassifyMessage(message), message)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, domain.ErrorKindUnknown, Classify(nil))
	assert.Equal(t, domain.ErrorKindNetwork, Classify(context.DeadlineExceeded))
	assert.Equal(t, domain.ErrorKindNetwork, Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)))

	// Код ответа важнее текста сообщения.
	tagged := &domain.APIError{Kind: domain.ErrorKindValidation, StatusCode: 422, Message: "Network field invalid"}
	assert.Equal(t, domain.ErrorKindValidation, Classify(fmt.Errorf("wrap: %w", tagged)))

	assert.Equal(t, domain.ErrorKindAuth, Classify(errors.New("401 未授權")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(domain.ErrorKindNetwork))
	assert.False(t, Retryable(domain.ErrorKindAuth))
	assert.False(t, Retryable(domain.ErrorKindValidation))
	assert.False(t, Retryable(domain.ErrorKindUnknown))
}

func TestRetryableError(t *testing.T) {
	retried := []error{
		errors.New("Network timeout"),
		errors.New("request timeout"),
		errors.New("i/o timed out"),
		errors.New("upstream returned 503 Service Unavailable"),
		errors.New("HTTP 500"),
		errors.New("connection reset by peer"),
		errors.New("連接中斷"),
		context.DeadlineExceeded,
		&domain.APIError{Kind: domain.ErrorKindNetwork, StatusCode: 429},
	}
	for _, err := range retried {
		assert.True(t, RetryableError(err), err.Error())
	}

	notRetried := []error{
		nil,
		errAPI,
		errors.New("422 Unprocessable"),
		errors.New("401 未授權"),
		errors.New("order 5000 not found"),
		&domain.APIError{Kind: domain.ErrorKindUnknown, StatusCode: 409, Message: "connection pool busy"},
	}
	for _, err := range notRetried {
		assert.False(t, RetryableError(err), "%v", err)
	}
}

func TestDescribeFailure(t *testing.T) {
	assert.Equal(t, Describe(domain.ErrorKindUnknown), DescribeFailure(domain.ErrorKindUnknown, true))
	assert.Equal(t, Describe(domain.ErrorKindNetwork), DescribeFailure(domain.ErrorKindNetwork, false))

	notRolledBack := DescribeFailure(domain.ErrorKindUnknown, false)
	assert.Equal(t, "Update failed", notRolledBack.Title)
	assert.NotContains(t, notRolledBack.Description, "rolled back")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, domain.ActionRetry, Describe(domain.ErrorKindNetwork).Action)
	assert.Equal(t, domain.ActionRelogin, Describe(domain.ErrorKindAuth).Action)
	assert.Equal(t, domain.ActionCorrectInput, Describe(domain.ErrorKindValidation).Action)

	unknown := Describe(domain.ErrorKindUnknown)
	assert.Equal(t, domain.ActionNone, unknown.Action)
	assert.Contains(t, unknown.Description, "rolled back")
}
