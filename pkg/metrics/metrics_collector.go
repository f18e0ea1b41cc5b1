package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器；nil 收集器上的所有方法都是空操作
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 订单指标
	ordersCreatedTotal    *prometheus.CounterVec
	stockRejectionsTotal  prometheus.Counter
	orderTransitionsTotal *prometheus.CounterVec

	// 支付指标
	paymentTransitionsTotal *prometheus.CounterVec
	webhookEventsTotal      *prometheus.CounterVec
	gatewayRequestDuration  *prometheus.HistogramVec

	// 后台任务指标
	backgroundTasksTotal *prometheus.CounterVec
}

// NewMetricsCollector 创建指标收集器并注册到 reg
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)

	return &MetricsCollector{
		// HTTP 指标
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "endpoint"},
		),

		// 订单指标
		ordersCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_orders_created_total",
				Help: "Total number of orders created",
			},
			[]string{"payment_method"},
		),

		stockRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkout_stock_rejections_total",
				Help: "Total number of checkouts rejected for insufficient stock",
			},
		),

		orderTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_order_transitions_total",
				Help: "Total number of order status transitions",
			},
			[]string{"from", "to"},
		),

		// 支付指标
		paymentTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_payment_transitions_total",
				Help: "Total number of payment status transitions",
			},
			[]string{"method", "from", "to"},
		),

		webhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_webhook_events_total",
				Help: "Total number of payment gateway webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),

		gatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_gateway_request_duration_seconds",
				Help:    "Payment gateway request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "outcome"},
		),

		backgroundTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_background_tasks_total",
				Help: "Total number of background tasks by outcome",
			},
			[]string{"task", "outcome"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration, responseSize int) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	if responseSize > 0 {
		m.httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
	}
}

// RecordOrderCreated 记录下单成功
func (m *MetricsCollector) RecordOrderCreated(paymentMethod string) {
	if m == nil {
		return
	}
	m.ordersCreatedTotal.WithLabelValues(paymentMethod).Inc()
}

// RecordStockRejection 记录库存不足拒单
func (m *MetricsCollector) RecordStockRejection() {
	if m == nil {
		return
	}
	m.stockRejectionsTotal.Inc()
}

// RecordOrderTransition 记录订单状态流转
func (m *MetricsCollector) RecordOrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordPaymentTransition 记录支付状态流转
func (m *MetricsCollector) RecordPaymentTransition(method, from, to string) {
	if m == nil {
		return
	}
	m.paymentTransitionsTotal.WithLabelValues(method, from, to).Inc()
}

// RecordWebhook 记录 webhook 处理结果：applied / duplicate / ignored / rejected / error
func (m *MetricsCollector) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordGatewayRequest 记录网关调用耗时
func (m *MetricsCollector) RecordGatewayRequest(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.gatewayRequestDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordBackgroundTask 记录后台任务结果：success / retry / dropped
func (m *MetricsCollector) RecordBackgroundTask(task, outcome string) {
	if m == nil {
		return
	}
	m.backgroundTasksTotal.WithLabelValues(task, outcome).Inc()
}

// StatusCategory 获取状态分类
func StatusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
