package repository

import (
	"context"
	"errors"

	"checkout_core/internal/domain/payment/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/pkg/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateGatewayOrder 同一个网关订单号只能对应一条支付记录
var ErrDuplicateGatewayOrder = errors.New("duplicate gateway order id")

const (
	gatewayOrderConstraint   = "idx_payments_gateway_order_id"
	processedEventConstraint = "processed_events_pkey"
)

type PaymentRepository interface {
	// Create 写入支付记录；在外层事务中使用保存点，网关订单冲突后事务仍可继续
	Create(ctx context.Context, payment *model.Payment) error
	GetByID(ctx context.Context, id string) (*model.Payment, error)
	GetForUpdate(ctx context.Context, id string) (*model.Payment, error)
	// GetByGatewayOrderIDForUpdate 按网关订单号行锁读取，webhook 对账使用
	GetByGatewayOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*model.Payment, error)
	// FindOpenByOrder 订单下仍未结束的支付记录
	FindOpenByOrder(ctx context.Context, orderID string, method model.Method) (*model.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]model.Payment, error)
	Save(ctx context.Context, payment *model.Payment) error
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
	// RecordEvent 记录已处理事件；重复时返回 DuplicateEventError
	RecordEvent(ctx context.Context, evt *model.ProcessedEvent) error
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	err := database.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return tx.Create(payment).Error
	})
	if database.IsUniqueViolation(err, gatewayOrderConstraint) {
		return ErrDuplicateGatewayOrder
	}
	return err
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	var payment model.Payment
	if err := database.Conn(ctx, r.db).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, translate(err, id)
	}
	return &payment, nil
}

func (r *paymentRepository) GetForUpdate(ctx context.Context, id string) (*model.Payment, error) {
	var payment model.Payment
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		return nil, translate(err, id)
	}
	return &payment, nil
}

func (r *paymentRepository) GetByGatewayOrderIDForUpdate(ctx context.Context, gatewayOrderID string) (*model.Payment, error) {
	var payment model.Payment
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&payment).Error
	if err != nil {
		return nil, translate(err, gatewayOrderID)
	}
	return &payment, nil
}

func (r *paymentRepository) FindOpenByOrder(ctx context.Context, orderID string, method model.Method) (*model.Payment, error) {
	var payment model.Payment
	err := database.Conn(ctx, r.db).
		Where("order_id = ? AND method = ? AND status IN ?", orderID, method,
			[]model.Status{model.StatusPending, model.StatusProcessing}).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, translate(err, orderID)
	}
	return &payment, nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]model.Payment, error) {
	var payments []model.Payment
	err := database.Conn(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) Save(ctx context.Context, payment *model.Payment) error {
	return database.Conn(ctx, r.db).Save(payment).Error
}

func (r *paymentRepository) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := database.Conn(ctx, r.db).
		Model(&model.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

func (r *paymentRepository) RecordEvent(ctx context.Context, evt *model.ProcessedEvent) error {
	err := database.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return tx.Create(evt).Error
	})
	if database.IsUniqueViolation(err, processedEventConstraint) {
		return &apperr.DuplicateEventError{EventID: evt.EventID}
	}
	return err
}

func translate(err error, id string) error {
	if database.IsNotFound(err) {
		return apperr.NotFound("payment", id)
	}
	return err
}
