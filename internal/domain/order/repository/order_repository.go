package repository

import (
	"context"
	"errors"
	"time"

	"checkout_core/internal/domain/order/model"
	paymentModel "checkout_core/internal/domain/payment/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/pkg/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateOrderNumber 订单号唯一约束冲突，调用方重新生成订单号
var ErrDuplicateOrderNumber = errors.New("duplicate order number")

const orderNumberConstraint = "idx_orders_order_number"

type OrderRepository interface {
	// Create 写入订单、明细和初始状态记录；在外层事务中使用保存点，冲突后事务仍可继续
	Create(ctx context.Context, order *model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)
	// GetForUpdate 行锁读取订单及明细
	GetForUpdate(ctx context.Context, id string) (*model.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]model.Order, int64, error)
	// UpdateStatus 更新状态并追加一条状态记录
	UpdateStatus(ctx context.Context, order *model.Order, history *model.StatusHistory) error
	UpdatePaymentStatus(ctx context.Context, orderID string, status paymentModel.Status) error
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	err := database.Conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return tx.Create(order).Error
	})
	if database.IsUniqueViolation(err, orderNumberConstraint) {
		return ErrDuplicateOrderNumber
	}
	return err
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := database.Conn(ctx, r.db).
		Preload("Items").
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, translate(err, "order", id)
	}
	return &order, nil
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := database.Conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, translate(err, "order", id)
	}

	if err := database.Conn(ctx, r.db).Where("order_id = ?", id).Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	var order model.Order
	err := database.Conn(ctx, r.db).
		Preload("Items").
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, translate(err, "order", orderNumber)
	}
	return &order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, offset, limit int) ([]model.Order, int64, error) {
	var (
		orders []model.Order
		total  int64
	)

	query := func() *gorm.DB {
		return database.Conn(ctx, r.db).Model(&model.Order{}).Where("user_id = ?", userID)
	}
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query().Preload("Items").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error
	return orders, total, err
}

func (r *orderRepository) UpdateStatus(ctx context.Context, order *model.Order, history *model.StatusHistory) error {
	db := database.Conn(ctx, r.db)

	updates := map[string]interface{}{
		"status":     order.Status,
		"updated_at": time.Now(),
	}
	if order.CancelledAt != nil {
		updates["cancelled_at"] = order.CancelledAt
	}

	result := db.Model(&model.Order{}).Where("id = ?", order.ID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("order", order.ID)
	}

	history.OrderID = order.ID
	return db.Create(history).Error
}

func (r *orderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, status paymentModel.Status) error {
	result := database.Conn(ctx, r.db).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_status": status,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("order", orderID)
	}
	return nil
}

func translate(err error, resource, id string) error {
	if database.IsNotFound(err) {
		return apperr.NotFound(resource, id)
	}
	return err
}
