package model

import (
	"fmt"
	"time"

	paymentModel "checkout_core/internal/domain/payment/model"
	baseModel "checkout_core/pkg/model"

	"github.com/shopspring/decimal"
)

// Status 订单状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// AllStatuses 全部订单状态
var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
	StatusDelivered, StatusCancelled, StatusRefunded,
}

// ParseStatus 解析外部输入的状态
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Order 订单模型
type Order struct {
	baseModel.BaseModel
	UserID            string              `gorm:"type:varchar(64);index;not null" json:"userId"`
	OrderNumber       string              `gorm:"uniqueIndex:idx_orders_order_number;not null" json:"orderNumber"`
	Status            Status              `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	PaymentMethod     paymentModel.Method `gorm:"type:varchar(20);not null" json:"paymentMethod"`
	PaymentStatus     paymentModel.Status `gorm:"type:varchar(20);not null;default:'pending'" json:"paymentStatus"`
	Currency          string              `gorm:"type:varchar(3);not null" json:"currency"`
	Subtotal          decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	TaxAmount         decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"taxAmount"`
	ShippingAmount    decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"shippingAmount"`
	DiscountAmount    decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"discountAmount"`
	TotalAmount       decimal.Decimal     `gorm:"type:numeric(12,2);not null" json:"totalAmount"`
	CouponCode        string              `json:"couponCode,omitempty"`
	ShippingAddressID string              `json:"shippingAddressId,omitempty"`
	Notes             string              `json:"notes,omitempty"`
	CancelledAt       *time.Time          `json:"cancelledAt,omitempty"`
	Items             []OrderItem         `gorm:"foreignKey:OrderID" json:"items"`
	History           []StatusHistory     `gorm:"foreignKey:OrderID" json:"history,omitempty"`
}

// OrderItem 订单明细，单价为下单时快照
type OrderItem struct {
	baseModel.BaseModel
	OrderID    string          `gorm:"type:uuid;index;not null" json:"orderId"`
	ProductID  string          `gorm:"type:varchar(64);not null" json:"productId"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	UnitPrice  decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unitPrice"`
	TotalPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"totalPrice"`
}

// StatusHistory 订单状态变更记录，只追加不修改
type StatusHistory struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OrderID    string    `gorm:"type:uuid;index;not null" json:"orderId"`
	FromStatus Status    `gorm:"type:varchar(20)" json:"fromStatus,omitempty"`
	ToStatus   Status    `gorm:"type:varchar(20);not null" json:"toStatus"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (StatusHistory) TableName() string {
	return "order_status_history"
}

// ItemsTotal 明细金额合计
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.TotalPrice)
	}
	return sum
}

// TotalsConsistent 校验 total = Σ明细 + 税 + 运费 - 优惠
func (o *Order) TotalsConsistent() bool {
	expected := o.ItemsTotal().Add(o.TaxAmount).Add(o.ShippingAmount).Sub(o.DiscountAmount)
	return expected.Equal(o.TotalAmount)
}
