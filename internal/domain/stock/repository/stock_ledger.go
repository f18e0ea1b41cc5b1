package repository

import (
	"context"
	"fmt"

	"checkout_core/internal/domain/stock/model"
	"checkout_core/internal/pkg/apperr"
	"checkout_core/pkg/database"

	"gorm.io/gorm"
)

// StockLedger 商品库存账本，所有方法须在 TxManager 事务内调用
type StockLedger interface {
	// Lock 行锁读取商品价格和库存
	Lock(ctx context.Context, productID string) (*model.Product, error)
	// Decrement 条件扣减，库存不足时返回 InsufficientStockError
	Decrement(ctx context.Context, productID string, qty int) error
	// Restore 归还库存
	Restore(ctx context.Context, productID string, qty int) error
}

type stockLedger struct {
	db *gorm.DB
}

func NewStockLedger(db *gorm.DB) StockLedger {
	return &stockLedger{db: db}
}

func (r *stockLedger) Lock(ctx context.Context, productID string) (*model.Product, error) {
	var product model.Product
	result := database.Conn(ctx, r.db).
		Raw("SELECT id, price, stock_quantity FROM products WHERE id = ? FOR UPDATE", productID).
		Scan(&product)
	if result.Error != nil {
		return nil, fmt.Errorf("lock product %s: %w", productID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.NotFound("product", productID)
	}
	return &product, nil
}

func (r *stockLedger) Decrement(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity", "must be positive")
	}

	db := database.Conn(ctx, r.db)
	result := db.Exec(
		"UPDATE products SET stock_quantity = stock_quantity - ? WHERE id = ? AND stock_quantity >= ?",
		qty, productID, qty,
	)
	if result.Error != nil {
		return fmt.Errorf("decrement stock of %s: %w", productID, result.Error)
	}

	// 乐观扣减失败：读取当前库存用于错误信息
	if result.RowsAffected == 0 {
		var available int
		row := db.Raw("SELECT stock_quantity FROM products WHERE id = ?", productID).Row()
		if err := row.Scan(&available); err != nil {
			return apperr.NotFound("product", productID)
		}
		return &apperr.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
	}
	return nil
}

func (r *stockLedger) Restore(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity", "must be positive")
	}

	result := database.Conn(ctx, r.db).Exec(
		"UPDATE products SET stock_quantity = stock_quantity + ? WHERE id = ?",
		qty, productID,
	)
	if result.Error != nil {
		return fmt.Errorf("restore stock of %s: %w", productID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("product", productID)
	}
	return nil
}
