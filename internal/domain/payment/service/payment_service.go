package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	orderModel "checkout_core/internal/domain/order/model"
	orderService "checkout_core/internal/domain/order/service"
	"checkout_core/internal/domain/payment/model"
	"checkout_core/internal/domain/payment/repository"
	"checkout_core/internal/domain/payment/strategy"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/pkg/database"
	"checkout_core/pkg/metrics"
	"checkout_core/pkg/money"

	"go.uber.org/zap"
)

// VerifyCommand 客户端支付完成后回传的签名
type VerifyCommand struct {
	UserID           string `json:"-"`
	GatewayOrderID   string `json:"gatewayOrderId" binding:"required"`
	GatewayPaymentID string `json:"gatewayPaymentId" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

type PaymentService interface {
	// InitiatePayment 为订单发起支付；在线支付可重复调用，已有未完成的支付时直接返回
	InitiatePayment(ctx context.Context, order *orderModel.Order) (*model.Payment, error)
	// CreateIntentForOrder 下单后网关失败时由客户端重试
	CreateIntentForOrder(ctx context.Context, orderID, userID string) (*model.Payment, error)
	VerifyPayment(ctx context.Context, cmd VerifyCommand) (*model.Payment, error)
	// ReconcileWebhook 处理网关回调；重复事件返回 applied=false
	ReconcileWebhook(ctx context.Context, raw []byte, signature string) (bool, error)
	// ConfirmCOD 货到付款签收确认
	ConfirmCOD(ctx context.Context, paymentID string) (*model.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]model.Payment, error)
	ListDiscrepancies(ctx context.Context, limit int) ([]repository.Discrepancy, error)
	RegisterStrategy(s strategy.PaymentStrategy)
	Supports(method model.Method) bool
}

type Deps struct {
	Repo    repository.PaymentRepository
	Report  repository.ReconciliationQuery
	Orders  orderService.OrderService
	Tx      database.TxManager
	Logger  *zap.Logger
	Metrics *metrics.MetricsCollector
}

type paymentService struct {
	repo       repository.PaymentRepository
	report     repository.ReconciliationQuery
	orders     orderService.OrderService
	tx         database.TxManager
	reconciler *Reconciler
	logger     *zap.Logger
	metrics    *metrics.MetricsCollector

	mu         sync.RWMutex
	strategies map[model.Method]strategy.PaymentStrategy
}

func NewPaymentService(deps Deps) PaymentService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &paymentService{
		repo:       deps.Repo,
		report:     deps.Report,
		orders:     deps.Orders,
		tx:         deps.Tx,
		reconciler: NewReconciler(deps.Repo, deps.Orders, deps.Logger, deps.Metrics),
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		strategies: make(map[model.Method]strategy.PaymentStrategy),
	}
}

// RegisterStrategy 注册支付策略
func (s *paymentService) RegisterStrategy(st strategy.PaymentStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[st.Method()] = st
}

func (s *paymentService) strategy(method model.Method) (strategy.PaymentStrategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[method]
	if !ok {
		return nil, apperr.Validation("paymentMethod", string(method)+" payments are not available")
	}
	return st, nil
}

func (s *paymentService) Supports(method model.Method) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.strategies[method]
	return ok
}

func (s *paymentService) InitiatePayment(ctx context.Context, order *orderModel.Order) (*model.Payment, error) {
	st, err := s.strategy(order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	if order.PaymentMethod == model.MethodCOD {
		return s.initiateCOD(ctx, st, order)
	}
	return s.initiateOnline(ctx, st, order)
}

// initiateCOD 在调用方事务内写入支付记录
func (s *paymentService) initiateCOD(ctx context.Context, st strategy.PaymentStrategy, order *orderModel.Order) (*model.Payment, error) {
	intent, err := st.CreateIntent(ctx, order, 1)
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		OrderID:   order.ID,
		Method:    model.MethodCOD,
		Status:    intent.Status,
		Amount:    money.FromMinorUnits(intent.AmountMinor),
		Surcharge: intent.Surcharge,
		Currency:  intent.Currency,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// initiateOnline 先调用网关，成功后才写入支付记录；网关失败不留下半成品。
// 已失败的支付不会被复用，重试按尝试序号在网关生成新订单
func (s *paymentService) initiateOnline(ctx context.Context, st strategy.PaymentStrategy, order *orderModel.Order) (*model.Payment, error) {
	existing, err := s.repo.FindOpenByOrder(ctx, order.ID, model.MethodOnline)
	if err == nil && existing.GatewayOrderID != nil {
		return existing, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	attempt, err := s.nextAttempt(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	intent, err := st.CreateIntent(ctx, order, attempt)
	if err != nil {
		return nil, err
	}

	gatewayOrderID := intent.GatewayOrderID
	payment := &model.Payment{
		OrderID:        order.ID,
		Method:         model.MethodOnline,
		Status:         intent.Status,
		Amount:         money.FromMinorUnits(intent.AmountMinor),
		Surcharge:      intent.Surcharge,
		Currency:       intent.Currency,
		GatewayOrderID: &gatewayOrderID,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, payment)
	})
	if errors.Is(err, repository.ErrDuplicateGatewayOrder) {
		return s.reuseGatewayOrder(ctx, gatewayOrderID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment intent created",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.String("gateway_order_id", gatewayOrderID),
		zap.Int("attempt", attempt),
	)
	return payment, nil
}

// nextAttempt 在线支付尝试序号 = 已有在线支付记录数 + 1
func (s *paymentService) nextAttempt(ctx context.Context, orderID string) (int, error) {
	payments, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	attempt := 1
	for _, p := range payments {
		if p.Method == model.MethodOnline {
			attempt++
		}
	}
	return attempt, nil
}

// reuseGatewayOrder 网关按幂等键返回了已落库的订单：仍未完成时复用，已结束的支付不能再次交给客户端
func (s *paymentService) reuseGatewayOrder(ctx context.Context, gatewayOrderID string) (*model.Payment, error) {
	existing, err := s.findByGatewayOrder(ctx, gatewayOrderID)
	if err != nil {
		return nil, err
	}
	if existing.IsOpen() {
		return existing, nil
	}

	s.logger.Warn("gateway returned an order owned by a closed payment",
		zap.String("payment_id", existing.ID),
		zap.String("gateway_order_id", gatewayOrderID),
		zap.String("payment_status", string(existing.Status)),
	)
	return nil, &apperr.GatewayError{
		Op:         "create_order",
		StatusCode: http.StatusConflict,
		Err:        fmt.Errorf("gateway order %s belongs to a %s payment", gatewayOrderID, existing.Status),
	}
}

func (s *paymentService) findByGatewayOrder(ctx context.Context, gatewayOrderID string) (*model.Payment, error) {
	var payment *model.Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByGatewayOrderIDForUpdate(ctx, gatewayOrderID)
		payment = p
		return err
	})
	return payment, err
}

func (s *paymentService) CreateIntentForOrder(ctx context.Context, orderID, userID string) (*model.Payment, error) {
	order, err := s.orders.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != model.MethodOnline {
		return nil, apperr.Validation("paymentMethod", "order is not paid online")
	}
	if order.Status != orderModel.StatusPending {
		return nil, apperr.Validation("orderId", "order is not awaiting payment")
	}
	return s.InitiatePayment(ctx, order)
}

func (s *paymentService) VerifyPayment(ctx context.Context, cmd VerifyCommand) (*model.Payment, error) {
	st, err := s.strategy(model.MethodOnline)
	if err != nil {
		return nil, err
	}

	ok, err := st.Verify(cmd.GatewayOrderID, cmd.GatewayPaymentID, cmd.Signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperr.SignatureError{Reason: "payment signature mismatch"}
	}

	var payment *model.Payment
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByGatewayOrderIDForUpdate(ctx, cmd.GatewayOrderID)
		if err != nil {
			return err
		}
		if cmd.UserID != "" {
			if _, err := s.orders.GetOrder(ctx, p.OrderID, cmd.UserID); err != nil {
				return err
			}
		}
		payment = p

		_, err = s.reconciler.Apply(ctx, p, model.StatusCompleted, Change{
			EventID:          "callback:" + cmd.GatewayPaymentID,
			EventType:        "client.verify",
			GatewayPaymentID: cmd.GatewayPaymentID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *paymentService) ReconcileWebhook(ctx context.Context, raw []byte, signature string) (bool, error) {
	st, err := s.strategy(model.MethodOnline)
	if err != nil {
		return false, err
	}

	evt, err := st.ParseWebhook(raw, signature)
	if err != nil {
		s.metrics.RecordWebhook("rejected")
		return false, err
	}

	target, ok := evt.TargetStatus()
	if !ok {
		s.logger.Info("webhook event ignored", zap.String("event_id", evt.EventID), zap.String("event", evt.Event))
		s.metrics.RecordWebhook("ignored")
		return false, nil
	}

	var applied bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		payment, err := s.repo.GetByGatewayOrderIDForUpdate(ctx, evt.GatewayOrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			payment, err = s.recoverByReceipt(ctx, evt)
		}
		if err != nil {
			return err
		}

		applied, err = s.reconciler.Apply(ctx, payment, target, Change{
			EventID:          evt.EventID,
			EventType:        evt.Event,
			GatewayPaymentID: evt.GatewayPaymentID,
			AmountMinor:      evt.AmountMinor,
		})
		return err
	})
	if errors.Is(err, apperr.ErrDuplicateEvent) {
		s.metrics.RecordWebhook("duplicate")
		return false, nil
	}
	if err != nil {
		s.metrics.RecordWebhook("error")
		return false, err
	}

	outcome := "applied"
	if !applied {
		outcome = "duplicate"
	}
	s.metrics.RecordWebhook(outcome)
	return applied, nil
}

// recoverByReceipt 网关已下单但本地调用超时未落库时，按 receipt(订单号) 补建支付记录
func (s *paymentService) recoverByReceipt(ctx context.Context, evt *strategy.WebhookEvent) (*model.Payment, error) {
	if evt.Receipt == "" {
		return nil, apperr.NotFound("payment", evt.GatewayOrderID)
	}
	order, err := s.orders.GetOrderByNumber(ctx, evt.Receipt)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != model.MethodOnline {
		return nil, apperr.NotFound("payment", evt.GatewayOrderID)
	}

	gatewayOrderID := evt.GatewayOrderID
	payment := &model.Payment{
		OrderID:        order.ID,
		Method:         model.MethodOnline,
		Status:         model.StatusPending,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		GatewayOrderID: &gatewayOrderID,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Warn("payment recovered from webhook receipt",
		zap.String("order_id", order.ID),
		zap.String("gateway_order_id", gatewayOrderID),
	)
	return payment, nil
}

func (s *paymentService) ConfirmCOD(ctx context.Context, paymentID string) (*model.Payment, error) {
	var payment *model.Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Method != model.MethodCOD {
			return apperr.Validation("paymentId", "payment is not cash on delivery")
		}
		payment = p
		if p.Status == model.StatusCompleted {
			return nil
		}
		if !model.CanTransition(p.Status, model.StatusCompleted) {
			return &apperr.InvalidTransitionError{Current: string(p.Status), Requested: string(model.StatusCompleted)}
		}

		_, err = s.reconciler.Apply(ctx, p, model.StatusCompleted, Change{
			EventID:   "cod:" + p.ID,
			EventType: "cod.confirmed",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *paymentService) ListByOrder(ctx context.Context, orderID string) ([]model.Payment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *paymentService) ListDiscrepancies(ctx context.Context, limit int) ([]repository.Discrepancy, error) {
	if s.report == nil {
		return []repository.Discrepancy{}, nil
	}
	return s.report.ListDiscrepancies(ctx, limit)
}
