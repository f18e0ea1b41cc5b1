package service

import (
	"context"
	"fmt"
	"time"

	orderModel "checkout_core/internal/domain/order/model"
	orderService "checkout_core/internal/domain/order/service"
	"checkout_core/internal/domain/payment/model"
	"checkout_core/internal/domain/payment/repository"
	"checkout_core/pkg/database"
	"checkout_core/pkg/metrics"
	"checkout_core/pkg/money"

	"go.uber.org/zap"
)

// Change 一次外部支付状态变更
type Change struct {
	EventID          string
	EventType        string
	GatewayPaymentID string
	// AmountMinor 网关上报金额（最小货币单位），为 0 时不校验
	AmountMinor int64
}

// Reconciler 把外部支付事件应用到支付记录和订单上；必须在事务内调用
type Reconciler struct {
	repo    repository.PaymentRepository
	orders  orderService.OrderService
	logger  *zap.Logger
	metrics *metrics.MetricsCollector
	now     func() time.Time
}

func NewReconciler(repo repository.PaymentRepository, orders orderService.OrderService, logger *zap.Logger, collector *metrics.MetricsCollector) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{repo: repo, orders: orders, logger: logger, metrics: collector, now: time.Now}
}

// Apply 返回本次事件是否产生了状态变更；重复事件和非法流转都返回 false
func (r *Reconciler) Apply(ctx context.Context, payment *model.Payment, target model.Status, change Change) (bool, error) {
	// 1. 幂等检查
	seen, err := r.repo.HasProcessedEvent(ctx, change.EventID)
	if err != nil {
		return false, err
	}
	if seen {
		r.logger.Debug("payment event already processed", zap.String("event_id", change.EventID))
		return false, nil
	}

	// 2. 支付状态流转，非法流转只记录事件；已失败的支付又被扣款时转人工处理
	if !model.CanTransition(payment.Status, target) {
		if payment.Status == model.StatusFailed && target == model.StatusCompleted {
			return false, r.lateCapture(ctx, payment, change)
		}
		r.logger.Info("payment transition ignored",
			zap.String("payment_id", payment.ID),
			zap.String("event_id", change.EventID),
			zap.String("current", string(payment.Status)),
			zap.String("requested", string(target)),
		)
		return false, r.record(ctx, payment, change)
	}

	from := payment.Status
	now := r.now()
	payment.Status = target
	if change.GatewayPaymentID != "" {
		payment.GatewayPaymentID = change.GatewayPaymentID
	}
	if target == model.StatusCompleted {
		payment.CompletedAt = &now
		r.checkAmount(payment, change.AmountMinor)
	}

	// 3. 同步订单
	if err := r.orders.MarkPaymentStatus(ctx, payment.OrderID, target); err != nil {
		return false, err
	}
	if target == model.StatusCompleted {
		if err := r.confirmOrder(ctx, payment); err != nil {
			return false, err
		}
	}

	// 4. 持久化并写入事件表
	if err := r.repo.Save(ctx, payment); err != nil {
		return false, err
	}
	if err := r.record(ctx, payment, change); err != nil {
		return false, err
	}

	method := string(payment.Method)
	database.AfterCommit(ctx, func(context.Context) {
		r.metrics.RecordPaymentTransition(method, string(from), string(target))
	})

	r.logger.Info("payment status changed",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("event_id", change.EventID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	return true, nil
}

// lateCapture 支付状态保持 failed，记录网关支付号并标记复核
func (r *Reconciler) lateCapture(ctx context.Context, payment *model.Payment, change Change) error {
	if change.GatewayPaymentID != "" {
		payment.GatewayPaymentID = change.GatewayPaymentID
	}
	r.flag(payment, "payment captured after it was marked failed")
	if err := r.repo.Save(ctx, payment); err != nil {
		return err
	}

	r.logger.Warn("capture received for failed payment, flagged for review",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("event_id", change.EventID),
	)
	return r.record(ctx, payment, change)
}

func (r *Reconciler) confirmOrder(ctx context.Context, payment *model.Payment) error {
	order, confirmed, err := r.orders.ConfirmIfPending(ctx, payment.OrderID, "payment completed")
	if err != nil {
		return err
	}
	if confirmed {
		return nil
	}

	switch order.Status {
	case orderModel.StatusCancelled, orderModel.StatusRefunded:
		r.flag(payment, fmt.Sprintf("payment completed while order is %s", order.Status))
		r.logger.Warn("payment completed for closed order, flagged for review",
			zap.String("payment_id", payment.ID),
			zap.String("order_id", order.ID),
			zap.String("order_status", string(order.Status)),
		)
	default:
		r.logger.Info("payment completed, order already past pending",
			zap.String("order_id", order.ID),
			zap.String("order_status", string(order.Status)),
		)
	}
	return nil
}

func (r *Reconciler) checkAmount(payment *model.Payment, reported int64) {
	if reported <= 0 {
		return
	}
	expected, err := money.ToMinorUnits(payment.Amount)
	if err != nil || expected == reported {
		return
	}
	r.flag(payment, fmt.Sprintf("amount mismatch: expected %d, gateway reported %d", expected, reported))
}

func (r *Reconciler) flag(payment *model.Payment, reason string) {
	payment.NeedsReview = true
	if payment.ReviewReason != "" {
		reason = payment.ReviewReason + "; " + reason
	}
	payment.ReviewReason = reason
}

func (r *Reconciler) record(ctx context.Context, payment *model.Payment, change Change) error {
	return r.repo.RecordEvent(ctx, &model.ProcessedEvent{
		EventID:   change.EventID,
		PaymentID: payment.ID,
		EventType: change.EventType,
	})
}
