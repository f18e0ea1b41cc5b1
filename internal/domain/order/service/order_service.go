package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"checkout_core/internal/domain/order/model"
	"checkout_core/internal/domain/order/repository"
	"checkout_core/internal/domain/order/statemachine"
	paymentModel "checkout_core/internal/domain/payment/model"
	stockModel "checkout_core/internal/domain/stock/model"
	stockRepo "checkout_core/internal/domain/stock/repository"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/internal/pkg/notify"
	"checkout_core/pkg/database"
	"checkout_core/pkg/metrics"
	"checkout_core/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentInitiator 支付发起方，由支付模块实现
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, order *model.Order) (*paymentModel.Payment, error)
	// Supports 是否已注册该支付方式的策略
	Supports(method paymentModel.Method) bool
}

// CouponCalculator 优惠计算，纯函数，不修改任何状态
type CouponCalculator interface {
	Discount(ctx context.Context, code string, subtotal decimal.Decimal) (decimal.Decimal, error)
}

type CreateOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderCommand struct {
	UserID            string
	PaymentMethod     paymentModel.Method
	Items             []CreateOrderItem
	Notes             string
	CouponCode        string
	ShippingAddressID string
}

// CreateOrderResult 下单结果；在线支付意图在事务提交后创建，失败不影响订单
type CreateOrderResult struct {
	Order       *model.Order
	Payment     *paymentModel.Payment
	IntentError error
}

type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*CreateOrderResult, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*model.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status model.Status, notes string) (*model.Order, error)
	// ConfirmIfPending 仅当订单仍为 pending 时确认；返回订单当前状态和是否确认
	ConfirmIfPending(ctx context.Context, orderID, notes string) (*model.Order, bool, error)
	MarkPaymentStatus(ctx context.Context, orderID string, status paymentModel.Status) error
	// GetOrder userID 为空时不校验归属
	GetOrder(ctx context.Context, orderID, userID string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	ListOrders(ctx context.Context, userID string, page utils.Pagination) ([]model.Order, int64, error)
	SetPaymentInitiator(p PaymentInitiator)
}

type Deps struct {
	Repo     repository.OrderRepository
	Stock    stockRepo.StockLedger
	Tx       database.TxManager
	Coupons  CouponCalculator
	Notifier notify.Dispatcher
	Logger   *zap.Logger
	Metrics  *metrics.MetricsCollector
}

type Options struct {
	Pricing            Pricing
	CODEnabled         bool
	OrderNumberRetries int
	NewOrderNumber     OrderNumberFunc
	Now                func() time.Time
}

type orderService struct {
	repo     repository.OrderRepository
	stock    stockRepo.StockLedger
	tx       database.TxManager
	coupons  CouponCalculator
	notifier notify.Dispatcher
	payments PaymentInitiator
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector

	pricing    Pricing
	codEnabled bool
	retries    int
	newNumber  OrderNumberFunc
	now        func() time.Time
}

func NewOrderService(deps Deps, opts Options) OrderService {
	if opts.OrderNumberRetries <= 0 {
		opts.OrderNumberRetries = 5
	}
	if opts.NewOrderNumber == nil {
		opts.NewOrderNumber = NewOrderNumber
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NopDispatcher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &orderService{
		repo:       deps.Repo,
		stock:      deps.Stock,
		tx:         deps.Tx,
		coupons:    deps.Coupons,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		pricing:    opts.Pricing,
		codEnabled: opts.CODEnabled,
		retries:    opts.OrderNumberRetries,
		newNumber:  opts.NewOrderNumber,
		now:        opts.Now,
	}
}

func (s *orderService) SetPaymentInitiator(p PaymentInitiator) {
	s.payments = p
}

// methodEnabled 货到付款看配置开关，在线支付看支付模块是否注册了网关
func (s *orderService) methodEnabled(method paymentModel.Method) bool {
	switch method {
	case paymentModel.MethodCOD:
		return s.codEnabled
	case paymentModel.MethodOnline:
		return s.payments != nil && s.payments.Supports(method)
	}
	return false
}

func (cmd CreateOrderCommand) validate(enabled func(paymentModel.Method) bool) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return apperr.Validation("userId", "is required")
	}
	if !cmd.PaymentMethod.Valid() {
		return apperr.Validation("paymentMethod", "must be online or cod")
	}
	if !enabled(cmd.PaymentMethod) {
		if cmd.PaymentMethod == paymentModel.MethodCOD {
			return apperr.Validation("paymentMethod", "cash on delivery is not available")
		}
		return apperr.Validation("paymentMethod", "online payment is not available")
	}
	if len(cmd.Items) == 0 {
		return apperr.Validation("items", "must not be empty")
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return apperr.Validation(fmt.Sprintf("items[%d].productId", i), "is required")
		}
		if item.Quantity <= 0 {
			return apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
	}
	return nil
}

// aggregateLines 合并重复商品；返回按首次出现排序的商品和每个商品的总数量
func aggregateLines(items []CreateOrderItem) ([]string, map[string]int) {
	quantities := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	return order, quantities
}

// sortedIDs 按 ID 升序加锁，避免并发下单死锁
func sortedIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*CreateOrderResult, error) {
	if err := cmd.validate(s.methodEnabled); err != nil {
		return nil, err
	}

	productIDs, quantities := aggregateLines(cmd.Items)
	result := &CreateOrderResult{}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// 1. 锁定库存行并校验可用量
		products := make(map[string]*stockModel.Product, len(productIDs))
		for _, id := range sortedIDs(productIDs) {
			product, err := s.stock.Lock(ctx, id)
			if err != nil {
				return err
			}
			if quantities[id] > product.StockQuantity {
				return &apperr.InsufficientStockError{
					ProductID: id,
					Requested: quantities[id],
					Available: product.StockQuantity,
				}
			}
			products[id] = product
		}

		// 2. 快照单价，计算小计
		items := make([]model.OrderItem, 0, len(productIDs))
		subtotal := decimal.Zero
		for _, id := range productIDs {
			qty := quantities[id]
			unitPrice := products[id].Price
			lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(qty)))
			items = append(items, model.OrderItem{
				ProductID:  id,
				Quantity:   qty,
				UnitPrice:  unitPrice,
				TotalPrice: lineTotal,
			})
			subtotal = subtotal.Add(lineTotal)
		}

		// 3. 税、运费、优惠
		discount, err := s.discount(ctx, cmd.CouponCode, subtotal)
		if err != nil {
			return err
		}
		totals := s.pricing.Compute(subtotal, discount)

		now := s.now()
		order := &model.Order{
			UserID:            cmd.UserID,
			Status:            model.StatusPending,
			PaymentMethod:     cmd.PaymentMethod,
			PaymentStatus:     paymentModel.StatusPending,
			Currency:          s.pricing.Currency,
			Subtotal:          totals.Subtotal,
			TaxAmount:         totals.Tax,
			ShippingAmount:    totals.Shipping,
			DiscountAmount:    totals.Discount,
			TotalAmount:       totals.Total,
			CouponCode:        cmd.CouponCode,
			ShippingAddressID: cmd.ShippingAddressID,
			Notes:             cmd.Notes,
			Items:             items,
			History: []model.StatusHistory{
				{ToStatus: model.StatusPending, Notes: "order placed", CreatedAt: now},
			},
		}
		if !order.TotalsConsistent() {
			return fmt.Errorf("order totals are inconsistent: total %s", order.TotalAmount.String())
		}

		// 4. 扣减库存
		for _, id := range sortedIDs(productIDs) {
			if err := s.stock.Decrement(ctx, id, quantities[id]); err != nil {
				return err
			}
		}

		// 5. 生成订单号并持久化
		if err := s.persist(ctx, order, now); err != nil {
			return err
		}

		// 6. 货到付款在同一事务内创建支付记录
		if order.PaymentMethod == paymentModel.MethodCOD && s.payments != nil {
			payment, err := s.payments.InitiatePayment(ctx, order)
			if err != nil {
				return err
			}
			result.Payment = payment
		}

		result.Order = order
		evt := s.event(order, notify.EventOrderCreated, "")
		database.AfterCommit(ctx, func(ctx context.Context) {
			s.metrics.RecordOrderCreated(string(order.PaymentMethod))
			s.notifier.Dispatch(ctx, evt)
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientStock) {
			s.metrics.RecordStockRejection()
		}
		return nil, err
	}

	order := result.Order
	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)

	// 在线支付：事务提交后再调用网关，失败时保留订单，客户端可重试
	if order.PaymentMethod == paymentModel.MethodOnline && s.payments != nil {
		payment, err := s.payments.InitiatePayment(ctx, order)
		if err != nil {
			s.logger.Warn("payment intent creation failed, order kept pending",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			result.IntentError = err
		} else {
			result.Payment = payment
		}
	}

	return result, nil
}

func (s *orderService) discount(ctx context.Context, code string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if code == "" {
		return decimal.Zero, nil
	}
	if s.coupons == nil {
		return decimal.Zero, apperr.Validation("couponCode", "coupons are not accepted")
	}
	d, err := s.coupons.Discount(ctx, code, subtotal)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound) {
			return decimal.Zero, apperr.Validation("couponCode", err.Error())
		}
		return decimal.Zero, err
	}
	return d, nil
}

// persist 订单号冲突时重新生成，超过次数返回 GenerationError
func (s *orderService) persist(ctx context.Context, order *model.Order, now time.Time) error {
	for attempt := 1; attempt <= s.retries; attempt++ {
		order.OrderNumber = s.newNumber(now)
		err := s.repo.Create(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			return err
		}
		s.logger.Debug("order number collision, regenerating",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt),
		)
	}
	return &apperr.GenerationError{Attempts: s.retries}
}

func (s *orderService) CancelOrder(ctx context.Context, orderID, reason string) (*model.Order, error) {
	var order *model.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !statemachine.Cancellable(o.Status) {
			return &apperr.InvalidTransitionError{Current: string(o.Status), Requested: string(model.StatusCancelled)}
		}
		if reason == "" {
			reason = "cancelled by customer"
		}
		order = o
		return s.transition(ctx, o, model.StatusCancelled, reason)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled", zap.String("order_id", order.ID), zap.String("reason", reason))
	return s.reload(ctx, order), nil
}

func (s *orderService) UpdateStatus(ctx context.Context, orderID string, status model.Status, notes string) (*model.Order, error) {
	var order *model.Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = o
		if statemachine.IsNoop(o.Status, status) {
			return nil
		}
		return s.transition(ctx, o, status, notes)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, order), nil
}

// reload 提交后重新读取订单，响应中带上完整的状态历史；读取失败时返回事务内的订单
func (s *orderService) reload(ctx context.Context, order *model.Order) *model.Order {
	fresh, err := s.repo.GetByID(ctx, order.ID)
	if err != nil {
		s.logger.Warn("failed to reload order", zap.String("order_id", order.ID), zap.Error(err))
		return order
	}
	return fresh
}

func (s *orderService) ConfirmIfPending(ctx context.Context, orderID, notes string) (*model.Order, bool, error) {
	var (
		order     *model.Order
		confirmed bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Status != model.StatusPending {
			return nil
		}
		confirmed = true
		return s.transition(ctx, o, model.StatusConfirmed, notes)
	})
	if err != nil {
		return nil, false, err
	}
	return order, confirmed, nil
}

// transition 在调用方事务内执行状态流转：校验、持久化、记录历史、取消时归还库存
func (s *orderService) transition(ctx context.Context, order *model.Order, target model.Status, notes string) error {
	if err := statemachine.Validate(order.Status, target); err != nil {
		return err
	}

	from := order.Status
	now := s.now()
	order.Status = target
	order.UpdatedAt = now
	if target == model.StatusCancelled {
		order.CancelledAt = &now
	}

	history := &model.StatusHistory{FromStatus: from, ToStatus: target, Notes: notes, CreatedAt: now}
	if err := s.repo.UpdateStatus(ctx, order, history); err != nil {
		return err
	}
	order.History = append(order.History, *history)

	eventType := notify.EventOrderStatusChanged
	if target == model.StatusCancelled {
		if err := s.restoreStock(ctx, order); err != nil {
			return err
		}
		eventType = notify.EventOrderCancelled
	}

	evt := s.event(order, eventType, from)
	database.AfterCommit(ctx, func(ctx context.Context) {
		s.metrics.RecordOrderTransition(string(from), string(target))
		s.notifier.Dispatch(ctx, evt)
	})
	return nil
}

func (s *orderService) restoreStock(ctx context.Context, order *model.Order) error {
	quantities := make(map[string]int, len(order.Items))
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if _, seen := quantities[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	for _, id := range sortedIDs(ids) {
		if err := s.stock.Restore(ctx, id, quantities[id]); err != nil {
			return fmt.Errorf("restore stock for order %s: %w", order.ID, err)
		}
	}
	return nil
}

func (s *orderService) MarkPaymentStatus(ctx context.Context, orderID string, status paymentModel.Status) error {
	return s.repo.UpdatePaymentStatus(ctx, orderID, status)
}

func (s *orderService) GetOrder(ctx context.Context, orderID, userID string) (*model.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// 不属于当前用户的订单按不存在处理
	if userID != "" && order.UserID != userID {
		return nil, apperr.NotFound("order", orderID)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return s.repo.GetByOrderNumber(ctx, orderNumber)
}

func (s *orderService) ListOrders(ctx context.Context, userID string, page utils.Pagination) ([]model.Order, int64, error) {
	offset, limit := page.GetPageOffset()
	return s.repo.ListByUser(ctx, userID, offset, limit)
}

func (s *orderService) event(order *model.Order, eventType notify.EventType, from model.Status) notify.Event {
	return notify.Event{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		FromStatus:  string(from),
		OccurredAt:  s.now(),
	}
}
