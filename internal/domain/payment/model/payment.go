package model

import (
	"time"

	baseModel "checkout_core/pkg/model"

	"github.com/shopspring/decimal"
)

// Method 支付方式
type Method string

const (
	MethodOnline Method = "online"
	MethodCOD    Method = "cod"
)

// Valid 是否为支持的支付方式
func (m Method) Valid() bool {
	return m == MethodOnline || m == MethodCOD
}

// Status 支付状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// transitions 支付状态流转表；processing 是可选的中间状态
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
}

// CanTransition 支付状态是否允许从 from 流转到 to
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment 支付记录，每次支付尝试一条
type Payment struct {
	baseModel.BaseModel
	OrderID          string          `gorm:"type:uuid;index;not null" json:"orderId"`
	Method           Method          `gorm:"type:varchar(20);not null" json:"method"`
	Status           Status          `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Surcharge        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"surcharge"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	GatewayOrderID   *string         `gorm:"uniqueIndex" json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	GatewaySignature string          `json:"-"`
	NeedsReview      bool            `gorm:"not null;default:false" json:"needsReview"`
	ReviewReason     string          `json:"reviewReason,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
}

// IsOpen 是否仍在等待结果
func (p *Payment) IsOpen() bool {
	return p.Status == StatusPending || p.Status == StatusProcessing
}

// ProcessedEvent 已处理的外部事件，event_id 为主键实现幂等
type ProcessedEvent struct {
	EventID   string    `gorm:"primaryKey" json:"eventId"`
	PaymentID string    `gorm:"type:uuid;index;not null" json:"paymentId"`
	EventType string    `gorm:"not null" json:"eventType"`
	CreatedAt time.Time `json:"createdAt"`
}
