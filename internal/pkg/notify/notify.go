// Package notify 订单事件通知：事务提交后投递到工作池，由各个 Sink 发送
package notify

import (
	"context"
	"time"

	"checkout_core/internal/pkg/worker"

	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderCancelled     EventType = "order.cancelled"
	EventOrderStatusChanged EventType = "order.status_changed"
)

// Event 订单事件
type Event struct {
	Type        EventType `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	FromStatus  string    `json:"fromStatus,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Dispatcher 事件分发；不阻塞调用方，不返回错误
type Dispatcher interface {
	Dispatch(ctx context.Context, evt Event)
}

// Sink 单个通知渠道
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// AsyncDispatcher 每个 Sink 一个后台任务，失败由工作池重试
type AsyncDispatcher struct {
	pool   *worker.WorkerPool
	sinks  []Sink
	logger *zap.Logger
}

func NewAsyncDispatcher(pool *worker.WorkerPool, logger *zap.Logger, sinks ...Sink) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{pool: pool, sinks: sinks, logger: logger}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	for _, sink := range d.sinks {
		sink := sink
		ok := d.pool.AddTask(worker.Task{
			Name: sink.Name() + ":" + string(evt.Type),
			Run: func(ctx context.Context) error {
				return sink.Send(ctx, evt)
			},
		})
		if !ok {
			d.logger.Warn("notification dropped",
				zap.String("sink", sink.Name()),
				zap.String("event", string(evt.Type)),
				zap.String("order_id", evt.OrderID),
			)
		}
	}
}

// NopDispatcher 丢弃所有事件
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Event) {}

// LogSink 只写日志
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, evt Event) error {
	s.logger.Info("order event",
		zap.String("event", string(evt.Type)),
		zap.String("order_id", evt.OrderID),
		zap.String("order_number", evt.OrderNumber),
		zap.String("status", evt.Status),
	)
	return nil
}
