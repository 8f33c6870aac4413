package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIErrorFormatting(t *testing.T) {
	withStatus := &APIError{Kind: ErrorKindValidation, StatusCode: 422, Message: "invalid status", Op: "update item status"}
	if got := withStatus.Error(); got != "update item status: invalid status (status 422)" {
		t.Fatalf("unexpected message: %q", got)
	}

	transport := &APIError{Kind: ErrorKindNetwork, Message: "connection refused", Op: "get order"}
	if got := transport.Error(); got != "get order: connection refused" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   ErrorKind
		tagged bool
	}{
		{
			name:   "api error",
			err:    &APIError{Kind: ErrorKindAuth},
			want:   ErrorKindAuth,
			tagged: true,
		},
		{
			name:   "wrapped api error",
			err:    fmt.Errorf("attempt 2: %w", &APIError{Kind: ErrorKindNetwork}),
			want:   ErrorKindNetwork,
			tagged: true,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ErrorKindUnknown,
		},
		{
			name: "nil error",
			err:  nil,
			want: ErrorKindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tagged := KindOf(tt.err)
			if got != tt.want || tagged != tt.tagged {
				t.Errorf("KindOf() = (%v, %v), want (%v, %v)", got, tagged, tt.want, tt.tagged)
			}
		})
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &APIError{Kind: ErrorKindNetwork, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected APIError to unwrap its cause")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("get: %w", ErrOrderNotFound)) {
		t.Fatal("wrapped ErrOrderNotFound should be not found")
	}
	if !IsNotFound(ErrItemNotFound) {
		t.Fatal("ErrItemNotFound should be not found")
	}
	if IsNotFound(ErrStatusRequired) {
		t.Fatal("ErrStatusRequired is not a not-found error")
	}
	if !IsNotFound(&APIError{Kind: ErrorKindUnknown, StatusCode: 404, Op: "get order"}) {
		t.Fatal("api 404 should be not found")
	}
	if IsNotFound(&APIError{Kind: ErrorKindValidation, StatusCode: 422}) {
		t.Fatal("api 422 is not a not-found error")
	}
}

func TestCacheKeyHasPrefix(t *testing.T) {
	key := CacheKey{"orders", "list", "page=1"}
	if !key.HasPrefix(CacheKey{"orders"}) {
		t.Fatal("expected orders prefix to match")
	}
	if key.HasPrefix(CacheKey{"order"}) {
		t.Fatal("prefix must match whole parts")
	}
	if (CacheKey{"orders"}).HasPrefix(key) {
		t.Fatal("longer prefix must not match")
	}
	if key.String() != "orders/list/page=1" {
		t.Fatalf("unexpected key string %q", key.String())
	}
}
