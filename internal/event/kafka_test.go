package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

func sampleEvent() order.Event {
	return order.Event{
		Type: order.EventStatusChanged,
		Order: &order.Order{
			ID:         "o-1",
			Number:     "O#1700000000000abc",
			UserID:     "u1",
			Status:     order.StatusShipped,
			GrandTotal: decimal.RequireFromString("540.99"),
			CouponCode: "WELCOME10",
			Lines: []order.Line{
				{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("6.5")},
			},
		},
		FromStatus: order.StatusProcessing,
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	assert.JSONEq(t, `{
		"type": "order.status_changed",
		"orderId": "o-1",
		"number": "O#1700000000000abc",
		"userId": "u1",
		"status": "Shipped",
		"fromStatus": "Processing",
		"grandTotal": "540.99",
		"couponCode": "WELCOME10",
		"lines": [{"productId": "p1", "quantity": 2, "unitPrice": "6.50"}],
		"at": "2026-01-02T03:04:05Z"
	}`, string(Encode(sampleEvent())))
}

func TestPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(context.Background(), w, Config{Topic: "orders"})

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, "o-1", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte("order.status_changed")}}, msg.Headers)
}

func TestPublisher_BreakerOpens(t *testing.T) {
	w := &mockWriter{err: errors.New("broker unreachable")}
	p := NewPublisher(context.Background(), w, Config{Topic: "orders", BreakerFailures: 3, BreakerTimeout: time.Hour})
	ctx := context.Background()

	for range 3 {
		err := p.Publish(ctx, sampleEvent())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}
	err := p.Publish(ctx, sampleEvent())
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 3, w.calls)
}

func TestPublisher_Close(t *testing.T) {
	w := &mockWriter{}
	require.NoError(t, NewPublisher(context.Background(), w, Config{}).Close())
	assert.True(t, w.closed)
}

// --- Mock implementations ---

type mockWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	calls  int
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}
