package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-console/internal/domain"
	"github.com/vladislavdragonenkov/oms-console/internal/querycache"
)

type fakeReader struct {
	order domain.Order
	err   error
	calls atomic.Int32
}

func (r *fakeReader) GetOrder(_ context.Context, id int64) (domain.Order, error) {
	r.calls.Add(1)
	if r.err != nil {
		return domain.Order{}, r.err
	}
	order := r.order
	order.ID = id
	return order, nil
}

func (r *fakeReader) ListOrders(context.Context, int, int) (domain.OrderPage, error) {
	return domain.OrderPage{}, nil
}

func refetchMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicItemEvents, Value: []byte(value)}
}

func TestRefetchHandler_StoresFreshOrder(t *testing.T) {
	cache := querycache.New()
	cache.Set(querycache.OrderKey(123), domain.Order{ID: 123, Items: []domain.LineItem{{ID: 1, Status: domain.ItemStatusPreparing}}})
	reader := &fakeReader{order: domain.Order{Items: []domain.LineItem{{ID: 1, Status: domain.ItemStatusShipped}}}}

	handler := NewRefetchHandler(cache, reader, nil)
	err := handler(context.Background(), refetchMessage(`{"event_type":"item.status_changed","order_id":123,"order_item_id":1,"status":"shipped"}`))
	require.NoError(t, err)

	value, ok := cache.Get(querycache.OrderKey(123))
	require.True(t, ok)
	require.Equal(t, domain.ItemStatusShipped, value.(domain.Order).Items[0].Status)
}

func TestRefetchHandler_SkipsMalformedMessage(t *testing.T) {
	reader := &fakeReader{}
	handler := NewRefetchHandler(querycache.New(), reader, nil)

	require.NoError(t, handler(context.Background(), refetchMessage("{")))
	require.Zero(t, reader.calls.Load())
}

func TestRefetchHandler_NotFoundIsNotAnError(t *testing.T) {
	reader := &fakeReader{err: &domain.APIError{Kind: domain.ErrorKindUnknown, StatusCode: 404, Op: "get order", Message: "order not found"}}
	handler := NewRefetchHandler(querycache.New(), reader, nil)

	require.NoError(t, handler(context.Background(), refetchMessage(`{"order_id":5}`)))
}

func TestRefetchHandler_PropagatesApiFailure(t *testing.T) {
	apiErr := &domain.APIError{Kind: domain.ErrorKindNetwork, StatusCode: 503, Op: "get order", Message: "unavailable"}
	handler := NewRefetchHandler(querycache.New(), &fakeReader{err: apiErr}, nil)

	err := handler(context.Background(), refetchMessage(`{"order_id":5}`))
	require.True(t, errors.Is(err, apiErr))
}
