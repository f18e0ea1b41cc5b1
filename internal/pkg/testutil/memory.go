// Package testutil 内存版仓储，配合 database.LockingTxManager 用于服务层测试
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	orderModel "checkout_core/internal/domain/order/model"
	orderRepo "checkout_core/internal/domain/order/repository"
	paymentModel "checkout_core/internal/domain/payment/model"
	paymentRepo "checkout_core/internal/domain/payment/repository"
	stockModel "checkout_core/internal/domain/stock/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/internal/pkg/notify"

	"github.com/shopspring/decimal"
)

// StockLedger 内存库存
type StockLedger struct {
	mu       sync.Mutex
	products map[string]*stockModel.Product
}

func NewStockLedger() *StockLedger {
	return &StockLedger{products: make(map[string]*stockModel.Product)}
}

// Put 设置商品价格与库存
func (l *StockLedger) Put(id, price string, stock int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[id] = &stockModel.Product{ID: id, Price: decimal.RequireFromString(price), StockQuantity: stock}
}

// Stock 当前库存
func (l *StockLedger) Stock(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.products[id]; ok {
		return p.StockQuantity
	}
	return -1
}

func (l *StockLedger) Lock(_ context.Context, productID string) (*stockModel.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		return nil, apperr.NotFound("product", productID)
	}
	cp := *p
	return &cp, nil
}

func (l *StockLedger) Decrement(_ context.Context, productID string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		return apperr.NotFound("product", productID)
	}
	if p.StockQuantity < qty {
		return &apperr.InsufficientStockError{ProductID: productID, Requested: qty, Available: p.StockQuantity}
	}
	p.StockQuantity -= qty
	return nil
}

func (l *StockLedger) Restore(_ context.Context, productID string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[productID]
	if !ok {
		return apperr.NotFound("product", productID)
	}
	p.StockQuantity += qty
	return nil
}

// OrderRepository 内存订单仓储
type OrderRepository struct {
	mu      sync.Mutex
	orders  map[string]*orderModel.Order
	history map[string][]orderModel.StatusHistory
	nextID  uint
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]*orderModel.Order),
		history: make(map[string][]orderModel.StatusHistory),
	}
}

func cloneOrder(o *orderModel.Order) *orderModel.Order {
	cp := *o
	cp.Items = append([]orderModel.OrderItem(nil), o.Items...)
	cp.History = append([]orderModel.StatusHistory(nil), o.History...)
	return &cp
}

func (r *OrderRepository) Create(_ context.Context, order *orderModel.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.orders {
		if existing.OrderNumber == order.OrderNumber {
			return orderRepo.ErrDuplicateOrderNumber
		}
	}

	order.EnsureID()
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		order.Items[i].EnsureID()
		order.Items[i].OrderID = order.ID
	}
	for i := range order.History {
		r.nextID++
		order.History[i].ID = r.nextID
		order.History[i].OrderID = order.ID
	}

	r.orders[order.ID] = cloneOrder(order)
	r.history[order.ID] = append([]orderModel.StatusHistory(nil), order.History...)
	return nil
}

func (r *OrderRepository) get(id string) (*orderModel.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	cp := cloneOrder(o)
	cp.History = append([]orderModel.StatusHistory(nil), r.history[id]...)
	return cp, nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*orderModel.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *OrderRepository) GetForUpdate(_ context.Context, id string) (*orderModel.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.get(id)
	if err != nil {
		return nil, err
	}
	o.History = nil
	return o, nil
}

func (r *OrderRepository) GetByOrderNumber(_ context.Context, orderNumber string) (*orderModel.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return r.get(id)
		}
	}
	return nil, apperr.NotFound("order", orderNumber)
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string, offset, limit int) ([]orderModel.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []orderModel.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			all = append(all, *cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return []orderModel.Order{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, order *orderModel.Order, history *orderModel.StatusHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return apperr.NotFound("order", order.ID)
	}
	stored.Status = order.Status
	stored.UpdatedAt = time.Now()
	if order.CancelledAt != nil {
		stored.CancelledAt = order.CancelledAt
	}

	r.nextID++
	history.ID = r.nextID
	history.OrderID = order.ID
	r.history[order.ID] = append(r.history[order.ID], *history)
	return nil
}

func (r *OrderRepository) UpdatePaymentStatus(_ context.Context, orderID string, status paymentModel.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[orderID]
	if !ok {
		return apperr.NotFound("order", orderID)
	}
	stored.PaymentStatus = status
	return nil
}

// History 订单的全部状态记录
func (r *OrderRepository) History(orderID string) []orderModel.StatusHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]orderModel.StatusHistory(nil), r.history[orderID]...)
}

// PaymentRepository 内存支付仓储
type PaymentRepository struct {
	mu       sync.Mutex
	payments map[string]*paymentModel.Payment
	events   map[string]paymentModel.ProcessedEvent
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*paymentModel.Payment),
		events:   make(map[string]paymentModel.ProcessedEvent),
	}
}

func clonePayment(p *paymentModel.Payment) *paymentModel.Payment {
	cp := *p
	if p.GatewayOrderID != nil {
		id := *p.GatewayOrderID
		cp.GatewayOrderID = &id
	}
	return &cp
}

func (r *PaymentRepository) Create(_ context.Context, p *paymentModel.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.GatewayOrderID != nil {
		for _, existing := range r.payments {
			if existing.GatewayOrderID != nil && *existing.GatewayOrderID == *p.GatewayOrderID {
				return paymentRepo.ErrDuplicateGatewayOrder
			}
		}
	}
	p.EnsureID()
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *PaymentRepository) GetByID(_ context.Context, id string) (*paymentModel.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment", id)
	}
	return clonePayment(p), nil
}

func (r *PaymentRepository) GetForUpdate(ctx context.Context, id string) (*paymentModel.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *PaymentRepository) GetByGatewayOrderIDForUpdate(_ context.Context, gatewayOrderID string) (*paymentModel.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.GatewayOrderID != nil && *p.GatewayOrderID == gatewayOrderID {
			return clonePayment(p), nil
		}
	}
	return nil, apperr.NotFound("payment", gatewayOrderID)
}

func (r *PaymentRepository) FindOpenByOrder(_ context.Context, orderID string, method paymentModel.Method) (*paymentModel.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderID == orderID && p.Method == method && p.IsOpen() {
			return clonePayment(p), nil
		}
	}
	return nil, apperr.NotFound("payment", orderID)
}

func (r *PaymentRepository) ListByOrder(_ context.Context, orderID string) ([]paymentModel.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []paymentModel.Payment
	for _, p := range r.payments {
		if p.OrderID == orderID {
			out = append(out, *clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *PaymentRepository) Save(_ context.Context, p *paymentModel.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return apperr.NotFound("payment", p.ID)
	}
	p.UpdatedAt = time.Now()
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *PaymentRepository) HasProcessedEvent(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.events[eventID]
	return ok, nil
}

func (r *PaymentRepository) RecordEvent(_ context.Context, evt *paymentModel.ProcessedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[evt.EventID]; ok {
		return &apperr.DuplicateEventError{EventID: evt.EventID}
	}
	evt.CreatedAt = time.Now()
	r.events[evt.EventID] = *evt
	return nil
}

// EventCount 已记录的事件数
func (r *PaymentRepository) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Payments 全部支付记录
func (r *PaymentRepository) Payments() []paymentModel.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]paymentModel.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, *clonePayment(p))
	}
	return out
}

// Dispatcher 记录所有事件
type Dispatcher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (d *Dispatcher) Dispatch(_ context.Context, evt notify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

// Events 已分发事件
func (d *Dispatcher) Events() []notify.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Event(nil), d.events...)
}

// Count 指定类型的事件数
func (d *Dispatcher) Count(t notify.EventType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
