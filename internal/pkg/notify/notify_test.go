package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout_core/internal/pkg/worker"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fails  int
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("unavailable")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAsyncDispatcherRetriesSink(t *testing.T) {
	pool := worker.NewWorkerPool(worker.Options{WorkerNum: 1, BufferSize: 4, MaxRetry: 2, RetryDelay: time.Millisecond}, zap.NewNop(), nil)
	pool.Start()
	defer pool.Stop()

	sink := &recordingSink{fails: 1}
	d := NewAsyncDispatcher(pool, zap.NewNop(), sink)
	d.Dispatch(context.Background(), Event{Type: EventOrderCreated, OrderID: "o1"})

	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, sink.events[0].OccurredAt.IsZero())
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error { return m.Called().Error(0) }

func TestKafkaSinkSend(t *testing.T) {
	w := new(mockWriter)
	sink := &KafkaSink{writer: w}
	evt := Event{Type: EventOrderCancelled, OrderID: "o1", OrderNumber: "20240101-ABCDEFGH", Status: "cancelled"}

	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || string(msgs[0].Key) != "o1" {
			return false
		}
		var decoded Event
		return json.Unmarshal(msgs[0].Value, &decoded) == nil && decoded.Type == EventOrderCancelled
	})).Return(nil)

	require.NoError(t, sink.Send(context.Background(), evt))
	w.AssertExpectations(t)
}

type mockPush struct {
	mock.Mock
}

func (m *mockPush) PushToAccount(accountID string, title, body string, ext map[string]string) error {
	return m.Called(accountID, title, body, ext).Error(0)
}

func TestPushSinkSend(t *testing.T) {
	p := new(mockPush)
	sink := NewPushSink(p)

	p.On("PushToAccount", "user-1", "订单状态更新", mock.AnythingOfType("string"), map[string]string{"orderId": "o1", "status": "shipped"}).Return(nil)

	require.NoError(t, sink.Send(context.Background(), Event{
		Type: EventOrderStatusChanged, OrderID: "o1", UserID: "user-1", OrderNumber: "N1", Status: "shipped",
	}))
	// 无用户时跳过
	require.NoError(t, sink.Send(context.Background(), Event{Type: EventOrderCreated, OrderID: "o2"}))
	p.AssertExpectations(t)
}
