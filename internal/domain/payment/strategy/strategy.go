package strategy

import (
	"context"

	orderModel "checkout_core/internal/domain/order/model"
	"checkout_core/internal/domain/payment/model"

	"github.com/shopspring/decimal"
)

// PaymentStrategy 支付方式适配器
type PaymentStrategy interface {
	Method() model.Method

	// CreateIntent 为订单创建支付意图（在线支付调用网关下单，货到付款只计算手续费）。
	// attempt 从 1 开始，每次失败后的重试加一
	CreateIntent(ctx context.Context, order *orderModel.Order, attempt int) (*Intent, error)

	// Verify 校验客户端回传的支付签名；参数格式错误返回 ValidationError，签名不匹配返回 false
	Verify(gatewayOrderID, gatewayPaymentID, signature string) (bool, error)

	// ParseWebhook 校验并解析网关回调
	ParseWebhook(raw []byte, signature string) (*WebhookEvent, error)
}

// Intent 支付意图
type Intent struct {
	GatewayOrderID string
	AmountMinor    int64
	Currency       string
	Status         model.Status
	Surcharge      decimal.Decimal
}

// 网关事件类型
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventOrderPaid         = "order.paid"
	EventRefundProcessed   = "refund.processed"
)

// WebhookEvent 网关回调事件
type WebhookEvent struct {
	EventID          string
	Event            string
	GatewayOrderID   string
	GatewayPaymentID string
	Receipt          string
	AmountMinor      int64
	PaymentStatus    string
}

// TargetStatus 事件对应的支付目标状态；不关心的事件返回 false
func (e *WebhookEvent) TargetStatus() (model.Status, bool) {
	switch e.Event {
	case EventPaymentCaptured, EventOrderPaid:
		return model.StatusCompleted, true
	case EventPaymentFailed:
		return model.StatusFailed, true
	case EventPaymentAuthorized:
		return model.StatusProcessing, true
	case EventRefundProcessed:
		return model.StatusRefunded, true
	default:
		return "", false
	}
}
