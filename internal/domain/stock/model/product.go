package model

import "github.com/shopspring/decimal"

// Product 商品库存视图；商品主数据由目录服务维护，这里只读写价格和库存
type Product struct {
	ID            string          `gorm:"column:id" json:"id"`
	Price         decimal.Decimal `gorm:"column:price" json:"price"`
	StockQuantity int             `gorm:"column:stock_quantity" json:"stockQuantity"`
}

func (Product) TableName() string {
	return "products"
}
