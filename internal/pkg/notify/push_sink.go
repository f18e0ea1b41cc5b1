package notify

import (
	"context"
	"fmt"

	"checkout_core/internal/pkg/push"
)

// PushSink 向下单用户推送订单状态
type PushSink struct {
	push push.PushService
}

func NewPushSink(service push.PushService) *PushSink {
	return &PushSink{push: service}
}

func (s *PushSink) Name() string { return "push" }

func (s *PushSink) Send(_ context.Context, evt Event) error {
	if evt.UserID == "" {
		return nil
	}

	var title, body string
	switch evt.Type {
	case EventOrderCreated:
		title = "下单成功"
		body = fmt.Sprintf("订单 %s 已创建", evt.OrderNumber)
	case EventOrderCancelled:
		title = "订单已取消"
		body = fmt.Sprintf("订单 %s 已取消", evt.OrderNumber)
	case EventOrderStatusChanged:
		title = "订单状态更新"
		body = fmt.Sprintf("订单 %s 状态：%s", evt.OrderNumber, evt.Status)
	default:
		return nil
	}

	return s.push.PushToAccount(evt.UserID, title, body, map[string]string{
		"orderId": evt.OrderID,
		"status":  evt.Status,
	})
}
